package reqcache

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

// Logger is the structured logger the client writes to. keysAndValues are
// alternating key / value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger adapts a zerolog.Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{l: l}
}

// NewSimpleLogger writes human-readable lines to stderr at debug level.
func NewSimpleLogger() Logger {
	return NewConsoleLogger(os.Stderr, zerolog.DebugLevel)
}

// NewConsoleLogger writes human-readable lines to w.
func NewConsoleLogger(w io.Writer, level zerolog.Level) Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return NewZerologLogger(zerolog.New(out).Level(level).With().Timestamp().Str("component", "reqcache").Logger())
}

func (z *zerologLogger) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }
func (z *zerologLogger) Info(msg string, kv ...any)  { z.l.Info().Fields(kv).Msg(msg) }
func (z *zerologLogger) Warn(msg string, kv ...any)  { z.l.Warn().Fields(kv).Msg(msg) }
func (z *zerologLogger) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }

type logrusLogger struct {
	l logrus.FieldLogger
}

// NewLogrusLogger adapts a logrus logger or entry.
func NewLogrusLogger(l logrus.FieldLogger) Logger {
	return &logrusLogger{l: l}
}

func (r *logrusLogger) Debug(msg string, kv ...any) { r.l.WithFields(toLogrusFields(kv)).Debug(msg) }
func (r *logrusLogger) Info(msg string, kv ...any)  { r.l.WithFields(toLogrusFields(kv)).Info(msg) }
func (r *logrusLogger) Warn(msg string, kv ...any)  { r.l.WithFields(toLogrusFields(kv)).Warn(msg) }
func (r *logrusLogger) Error(msg string, kv ...any) { r.l.WithFields(toLogrusFields(kv)).Error(msg) }

func toLogrusFields(kv []any) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			fields[key] = kv[i+1]
		} else {
			fields[key] = "(MISSING)"
		}
	}
	return fields
}
