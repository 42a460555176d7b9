package reqcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is the caching, de-duplicating, retrying facade over a Transport.
// GETs are served from the Store while fresh, joined with an identical
// in-flight GET when one is running, and retried on network and 5xx
// failures. Mutations are retried the same way and never touch the Store
// except through invalidation. It is safe for concurrent use.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	middleware  []Middleware
	transport   Transport
	credentials CredentialStore

	store        Store
	window       time.Duration
	clock        Clock
	sleeper      Sleeper
	retryPolicy  RetryPolicy
	inFlightMode InFlightMode

	executor       *Executor
	registry       *InFlightRegistry
	circuitBreaker *CircuitBreaker
	breakerConfig  *CircuitBreakerConfig
	rateLimiter    *RateLimiter
	limiterConfig  *rateLimitConfig
	guard          *sessionGuard
	rules          InvalidationRules

	onSession   ErrorHook
	onForbidden ErrorHook

	metrics      *MetricsCollector
	logger       Logger
	requestIDGen func() string

	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		timeout:      DefaultTimeout,
		window:       DefaultFreshnessWindow,
		clock:        SystemClock,
		sleeper:      SleepContext,
		retryPolicy:  DefaultRetryPolicy(),
		inFlightMode: InFlightJoin,
		middleware:   []Middleware{},
		logger:       NopLogger,
		requestIDGen: uuid.NewString,
	}

	for _, option := range options {
		if option != nil {
			option(client)
		}
	}

	if client.logger == nil {
		client.logger = NopLogger
	}
	if client.clock == nil {
		client.clock = SystemClock
	}
	if client.sleeper == nil {
		client.sleeper = SleepContext
	}
	if client.requestIDGen == nil {
		client.requestIDGen = uuid.NewString
	}
	if client.store == nil {
		client.store = NewInMemoryCache(client.window, client.clock)
	}
	if client.transport == nil {
		client.transport = NewHTTPTransport(HTTPTransportConfig{
			BaseURL:     client.baseURL,
			HTTPClient:  client.httpClient,
			Credentials: client.credentials,
			Middleware:  client.middleware,
			Timeout:     client.timeout,
		})
	}

	client.executor = NewExecutor(client.retryPolicy, client.sleeper)
	client.executor.onRetry = func(attempt int, delay time.Duration, err error) {
		client.logger.Info("Scheduling retry", "attempt", attempt+1, "maxAttempts", client.executor.policy.MaxAttempts, "backoff", delay, "error", err.Error())
	}
	client.registry = NewInFlightRegistry(client.inFlightMode)
	if client.breakerConfig != nil {
		client.circuitBreaker = newCircuitBreaker(*client.breakerConfig, client.clock)
	}
	if client.limiterConfig != nil {
		client.rateLimiter = newRateLimiter(client.limiterConfig.maxTokens, client.limiterConfig.refillRate, client.clock)
	}
	client.guard = &sessionGuard{
		credentials: client.credentials,
		onSession:   client.onSession,
		onForbidden: client.onForbidden,
		logger:      client.logger,
		metrics:     client.metrics,
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get fetches path with params as the query string. The result is served
// from the cache while fresh.
func (c *Client) Get(ctx context.Context, path string, params any, opts ...RequestOption) (Payload, error) {
	return c.Request(ctx, MethodGet, path, params, opts...)
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (Payload, error) {
	return c.Request(ctx, MethodPost, path, body, opts...)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, path string, body any, opts ...RequestOption) (Payload, error) {
	return c.Request(ctx, MethodPut, path, body, opts...)
}

// Patch sends body as JSON.
func (c *Client) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (Payload, error) {
	return c.Request(ctx, MethodPatch, path, body, opts...)
}

// Delete sends body, if any, as JSON.
func (c *Client) Delete(ctx context.Context, path string, body any, opts ...RequestOption) (Payload, error) {
	return c.Request(ctx, MethodDelete, path, body, opts...)
}

// Request dispatches on method. Request options only affect GET.
func (c *Client) Request(ctx context.Context, method, path string, payload any, opts ...RequestOption) (Payload, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	switch m := strings.ToUpper(method); m {
	case MethodGet:
		return c.get(ctx, path, payload, buildRequestOptions(opts))
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
		return c.mutate(ctx, m, path, payload)
	default:
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   fmt.Sprintf("unsupported method %q", method),
			Method:    method,
			Path:      path,
			Timestamp: c.clock.Now(),
		}
	}
}

func (c *Client) get(ctx context.Context, path string, params any, ro requestOptions) (Payload, error) {
	key := CacheKey(MethodGet, path, params)

	if !ro.skipCache {
		if val, ok := c.store.Lookup(key); ok {
			c.logger.Debug("Cache hit", "cacheKey", key)
			c.metrics.RecordCacheHit(path)
			return val, nil
		}
		c.logger.Debug("Cache miss", "cacheKey", key)
		c.metrics.RecordCacheMiss(path)
	}

	val, err, joined := c.registry.Do(ctx, key, func(m *Marker) (Payload, error) {
		val, err := c.execute(ctx, MethodGet, path, params)
		if err != nil || ro.noStore {
			return val, err
		}

		if m.commit(func() { c.store.Store(key, val) }) {
			c.recordCacheSize()
			c.logger.Debug("Response cached", "cacheKey", key, "waiters", m.Waiters())
		} else {
			c.logger.Debug("Response not cached, key invalidated while in flight", "cacheKey", key)
		}
		return val, nil
	})

	if joined {
		c.metrics.RecordJoin(path)
		c.logger.Debug("Joined in-flight request", "cacheKey", key)
		if ce, ok := err.(*ClientError); ok && ce.Path == "" {
			ce.Method = MethodGet
			ce.Path = path
		}
	}
	return val, err
}

func (c *Client) mutate(ctx context.Context, method, path string, payload any) (Payload, error) {
	val, err := c.execute(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if fragments := c.rules.Fragments(method, path); len(fragments) > 0 {
		removed := c.invalidate(fragments...)
		c.metrics.RecordInvalidation("rule", removed)
		c.logger.Debug("Invalidation rules applied", "method", method, "path", path, "fragments", fragments, "removed", removed)
	}
	return val, nil
}

// execute performs one logical call: the retry loop around the transport,
// the circuit breaker, metrics, and the 401 / 403 side effects once the
// loop has settled.
func (c *Client) execute(ctx context.Context, method, path string, payload any) (Payload, error) {
	requestID := c.requestIDGen()
	start := c.clock.Now()

	c.logger.Debug("Starting request", "requestID", requestID, "method", method, "path", path)
	c.metrics.RecordRequestStart(method, path)

	val, err := c.executor.Execute(ctx, func(ctx context.Context, attempt int) (Payload, error) {
		if c.rateLimiter != nil {
			allowed := c.rateLimiter.Allow()
			c.metrics.RecordRateLimiterTokens(c.rateLimiter.Tokens())
			if !allowed {
				c.logger.Warn("Rate limit exceeded", "requestID", requestID, "path", path)
				return nil, &ClientError{
					Type:      ErrorTypeRateLimited,
					Message:   "rate limit exceeded",
					RequestID: requestID,
					Method:    method,
					Path:      path,
					Timestamp: c.clock.Now(),
				}
			}
		}

		if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "path", path)
			return nil, &ClientError{
				Type:      ErrorTypeCircuitOpen,
				Message:   "circuit breaker is open",
				RequestID: requestID,
				Method:    method,
				Path:      path,
				Timestamp: c.clock.Now(),
			}
		}

		if attempt > 1 {
			c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "path", path)
		}
		c.metrics.RecordAttempt(method, path, attempt)

		val, err := c.transport.RoundTrip(ctx, &Request{
			Method:    method,
			Path:      path,
			Payload:   payload,
			RequestID: requestID,
			Attempt:   attempt,
		})
		c.recordBreaker(requestID, err)
		return val, err
	})

	c.metrics.RecordRequestEnd(method, path)
	duration := c.clock.Now().Sub(start)

	if err != nil {
		status := 0
		errType := ErrorTypeNetwork
		if ce, ok := AsClientError(err); ok {
			status = ce.StatusCode
			errType = ce.Type
			if ce.RequestID == "" {
				ce.RequestID = requestID
			}
		}
		c.metrics.RecordRequest(method, path, status, duration)
		c.metrics.RecordError(errType, method, path)
		c.logger.Debug("Request failed", "requestID", requestID, "method", method, "path", path, "error", err.Error())

		c.guard.handle(ctx, err)
		return nil, err
	}

	c.metrics.RecordRequest(method, path, http.StatusOK, duration)
	return val, nil
}

// recordCacheSize skips Len, which scans the keyspace on shared stores,
// when metrics are off.
func (c *Client) recordCacheSize() {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordCacheSize(c.store.Len())
}

func (c *Client) recordBreaker(requestID string, err error) {
	if c.circuitBreaker == nil {
		return
	}

	if err != nil && IsRetryable(err) {
		c.circuitBreaker.RecordFailure()
		c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "error", err.Error())
	} else {
		c.circuitBreaker.RecordSuccess()
	}
	c.metrics.RecordCircuitBreakerState(c.circuitBreaker.State())
}

// Store returns the cache store in use.
func (c *Client) Store() Store {
	return c.store
}

// InFlight returns the in-flight registry.
func (c *Client) InFlight() *InFlightRegistry {
	return c.registry
}

// Credentials returns the credential store, nil when none was configured.
func (c *Client) Credentials() CredentialStore {
	return c.credentials
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
