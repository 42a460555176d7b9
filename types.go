package reqcache

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HTTP methods accepted by Client.Request.
const (
	MethodGet    = http.MethodGet
	MethodPost   = http.MethodPost
	MethodPut    = http.MethodPut
	MethodPatch  = http.MethodPatch
	MethodDelete = http.MethodDelete
)

// Defaults for a new Client.
const (
	DefaultFreshnessWindow = 5 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 1000 * time.Millisecond
	DefaultTimeout         = 100 * time.Second
)

// Payload is a response body exactly as the backend returned it. The core
// never interprets it; see envelope.go for {code, data, msg} helpers.
type Payload = json.RawMessage

// Request describes one logical call handed to a Transport.
type Request struct {
	Method    string
	Path      string
	Payload   any
	RequestID string
	// Attempt is 1-based and set by the retry executor.
	Attempt int
}

// Clock supplies the current time. Tests inject a fake one.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Middleware wraps the physical HTTP exchange performed by HTTPTransport.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc is a helper type for middleware
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// RequestOption tunes a single call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	skipCache bool
	noStore   bool
}

// SkipCache bypasses the cache lookup of a GET. The fresh result is still
// stored unless NoStore is also given.
func SkipCache() RequestOption {
	return func(o *requestOptions) {
		o.skipCache = true
	}
}

// NoStore keeps a GET result out of the cache.
func NoStore() RequestOption {
	return func(o *requestOptions) {
		o.noStore = true
	}
}

// SkipCacheIf applies SkipCache when skip is true, which suits call sites
// that thread a "force refresh" flag through.
func SkipCacheIf(skip bool) RequestOption {
	return func(o *requestOptions) {
		if skip {
			o.skipCache = true
		}
	}
}

func buildRequestOptions(opts []RequestOption) requestOptions {
	var o requestOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
