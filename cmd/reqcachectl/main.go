// Command reqcachectl issues requests through a reqcache.Client, which makes
// the cache, retry and invalidation behaviour observable from a shell.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ambiyansyah-risyal/reqcache"
	"github.com/ambiyansyah-risyal/reqcache/redisstore"
)

type options struct {
	cfg *reqcache.Config
	// cfgErr is the environment parse failure, reported once a command runs.
	cfgErr error

	logger zerolog.Logger
	client *reqcache.Client
	closer io.Closer
	out    io.Writer
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	cfg, err := reqcache.LoadConfig()
	if err != nil {
		// flags still need defaults to bind to
		cfg = &reqcache.Config{
			FreshnessWindow: reqcache.DefaultFreshnessWindow,
			MaxAttempts:     reqcache.DefaultMaxAttempts,
			BaseDelay:       reqcache.DefaultBaseDelay,
			Backoff:         string(reqcache.BackoffLinear),
			Timeout:         reqcache.DefaultTimeout,
			InFlightMode:    "join",
			LogLevel:        "info",
		}
	}
	o := &options{cfg: cfg, cfgErr: err, out: out}

	cmd := &cobra.Command{
		Use:           "reqcachectl",
		Short:         "Call a JSON API through the reqcache client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return o.complete()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if o.closer != nil {
				return o.closer.Close()
			}
			return nil
		},
	}

	bindFlags(cmd.PersistentFlags(), o.cfg)

	cmd.AddCommand(
		newGetCommand(o),
		newMutateCommand(o, reqcache.MethodPost),
		newMutateCommand(o, reqcache.MethodPut),
		newMutateCommand(o, reqcache.MethodPatch),
		newMutateCommand(o, reqcache.MethodDelete),
		newInvalidateCommand(o),
		newVersionCommand(out),
	)
	return cmd
}

func bindFlags(flags *pflag.FlagSet, cfg *reqcache.Config) {
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "API base URL ($REQCACHE_BASE_URL)")
	flags.StringVar(&cfg.TenantID, "tenant", cfg.TenantID, "tenant sent in the TenantID header ($REQCACHE_TENANT_ID)")
	flags.StringVar(&cfg.Token, "token", cfg.Token, "bearer token ($REQCACHE_TOKEN)")
	flags.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "share the cache through Redis ($REQCACHE_REDIS_URL)")
	flags.StringVar(&cfg.RulesFile, "rules", cfg.RulesFile, "YAML invalidation rules file ($REQCACHE_RULES_FILE)")
	flags.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "attempts per call, first included")
	flags.DurationVar(&cfg.BaseDelay, "base-delay", cfg.BaseDelay, "backoff step")
	flags.StringVar(&cfg.Backoff, "backoff", cfg.Backoff, "linear or exponential")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-attempt timeout")
	flags.DurationVar(&cfg.FreshnessWindow, "window", cfg.FreshnessWindow, "cache freshness window")
	flags.StringVar(&cfg.InFlightMode, "inflight-mode", cfg.InFlightMode, "join or advisory")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug,info,warn,error)")
}

func (o *options) complete() error {
	if o.cfgErr != nil {
		return errors.Wrap(o.cfgErr, "invalid REQCACHE_* environment")
	}
	if o.cfg.BaseURL == "" {
		return errors.New("must specify --base-url or REQCACHE_BASE_URL")
	}

	level, err := zerolog.ParseLevel(o.cfg.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid --log-level %q", o.cfg.LogLevel)
	}
	o.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	opts, err := o.cfg.Options()
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	opts = append(opts, reqcache.WithLogger(reqcache.NewZerologLogger(o.logger)))
	opts = append(opts, reqcache.WithSessionHandler(func(_ context.Context, ce *reqcache.ClientError) {
		o.logger.Warn().Str("path", ce.Path).Msg("session expired, log in again and pass a new --token")
	}))

	if o.cfg.RedisURL != "" {
		store, err := redisstore.New(o.cfg.RedisURL, o.cfg.FreshnessWindow)
		if err != nil {
			return err
		}
		o.closer = store
		opts = append(opts, reqcache.WithStore(store))
	}

	o.client = reqcache.New(opts...)
	if !o.client.IsValid() {
		return o.client.ValidationError()
	}
	return nil
}

func newGetCommand(o *options) *cobra.Command {
	var (
		params    []string
		skipCache bool
		repeat    int
	)

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "GET a path, served from the cache while fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseParams(params)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			for i := 0; i < repeat; i++ {
				start := time.Now()
				p, err := o.client.Get(ctx, args[0], query, reqcache.SkipCacheIf(skipCache && i == 0))
				if err != nil {
					return err
				}
				o.logger.Info().Int("call", i+1).Dur("took", time.Since(start)).Msg("GET done")
				if err := writePayload(o.out, p); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value, repeatable")
	flags.BoolVar(&skipCache, "skip-cache", false, "bypass the cache lookup for the first call")
	flags.IntVar(&repeat, "repeat", 1, "issue the same GET this many times")
	return cmd
}

func newMutateCommand(o *options, method string) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " PATH",
		Short: method + " a JSON body to a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if data != "" {
				if !json.Valid([]byte(data)) {
					return errors.Errorf("--data is not valid JSON: %s", data)
				}
				body = json.RawMessage(data)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			p, err := o.client.Request(ctx, method, args[0], body)
			if err != nil {
				return err
			}
			return writePayload(o.out, p)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}

func newInvalidateCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate FRAGMENT",
		Short: "Evict cached GETs whose key contains FRAGMENT (needs --redis-url to affect other processes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if o.cfg.RedisURL == "" {
				o.logger.Warn().Msg("no --redis-url: only this process's empty in-memory cache is affected")
			}
			n := o.client.ClearCacheByURL(args[0])
			_, err := fmt.Fprintf(o.out, "evicted %d entries\n", n)
			return err
		},
	}
}

func newVersionCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(out, reqcache.GetVersion())
			return err
		},
	}
}

func parseParams(params []string) (map[string]string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(params))
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("invalid --param %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func writePayload(w io.Writer, p reqcache.Payload) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, p, "", "  "); err != nil {
		buf.Reset()
		buf.Write(p)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
