package reqcache

import (
	"fmt"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the URL that request paths are resolved against.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the net/http client used by the default transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if c.httpClient != nil && c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithMiddleware adds middleware around the default transport's HTTP
// exchange.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithTransport replaces the HTTP transport. Base URL, HTTP client, timeout
// and middleware options are then ignored.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithCredentials sets the tenant and token source.
func WithCredentials(creds CredentialStore) Option {
	return func(c *Client) {
		c.credentials = creds
	}
}

// WithFreshnessWindow sets how long a cached GET is served. It applies to
// the default in-memory store only.
func WithFreshnessWindow(d time.Duration) Option {
	return func(c *Client) {
		c.window = d
	}
}

// WithStore sets a custom cache store, e.g. a redisstore.Store.
func WithStore(store Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithMaxAttempts sets the total attempts per logical call, first included.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.retryPolicy.MaxAttempts = n
	}
}

// WithBaseDelay sets the linear backoff step.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryPolicy.BaseDelay = d
	}
}

// WithBackoff selects how backoff waits grow between attempts.
func WithBackoff(b Backoff) Option {
	return func(c *Client) {
		c.retryPolicy.Backoff = b
	}
}

// WithMaxDelay caps a single backoff wait.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryPolicy.MaxDelay = d
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0)
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.retryPolicy.Jitter = f
	}
}

// WithRetryPolicy replaces the whole retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = p
	}
}

// WithClock injects the time source used for freshness and breaker timing.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithSleeper injects the backoff sleeper.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		c.sleeper = s
	}
}

// WithInFlightMode selects join (default) or advisory handling of
// identical concurrent GETs.
func WithInFlightMode(mode InFlightMode) Option {
	return func(c *Client) {
		c.inFlightMode = mode
	}
}

// WithCircuitBreaker sets the circuit breaker configuration
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.breakerConfig = &config
	}
}

// WithRateLimiter limits physical attempts to maxTokens per burst, refilled
// one token every refillRate. Attempts over the limit fail with
// ErrRateLimited and are not retried.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.limiterConfig = &rateLimitConfig{maxTokens: maxTokens, refillRate: refillRate}
	}
}

// WithSessionHandler sets the hook fired once per call failing with 401,
// after credentials were cleared.
func WithSessionHandler(h ErrorHook) Option {
	return func(c *Client) {
		c.onSession = h
	}
}

// WithForbiddenHandler sets the hook fired once per call failing with 403.
func WithForbiddenHandler(h ErrorHook) Option {
	return func(c *Client) {
		c.onForbidden = h
	}
}

// WithInvalidationRules enables automatic invalidation after successful
// mutations.
func WithInvalidationRules(rules InvalidationRules) Option {
	return func(c *Client) {
		c.rules = rules
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger logs to stderr through a zerolog console writer.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

// Metrics returns the metrics collector, nil when metrics are disabled.
func (c *Client) Metrics() *MetricsCollector {
	return c.metrics
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validateCircuitBreakerConfig()...)
	errors = append(errors, c.validateRateLimiterConfig()...)
	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateRulesConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", errors),
			Timestamp: time.Now(),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.retryPolicy.MaxAttempts < 1 {
		errors = append(errors, "maxAttempts must be at least 1")
	}
	if c.retryPolicy.BaseDelay < 0 {
		errors = append(errors, "baseDelay must be non-negative")
	}
	if c.retryPolicy.MaxDelay < 0 {
		errors = append(errors, "maxDelay must be non-negative")
	}
	if c.retryPolicy.Jitter < 0 || c.retryPolicy.Jitter > 1 {
		errors = append(errors, "jitter must be between 0 and 1")
	}
	if _, err := ParseBackoff(string(c.retryPolicy.Backoff)); err != nil {
		errors = append(errors, err.Error())
	}

	return errors
}

func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.window <= 0 {
		errors = append(errors, "freshness window must be positive")
	}
	if c.inFlightMode != InFlightJoin && c.inFlightMode != InFlightAdvisory {
		errors = append(errors, fmt.Sprintf("unknown in-flight mode %d", c.inFlightMode))
	}

	return errors
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var errors []string

	if c.circuitBreaker != nil {
		if c.circuitBreaker.config.FailureThreshold <= 0 {
			errors = append(errors, "circuitBreaker FailureThreshold must be positive")
		}
		if c.circuitBreaker.config.RecoveryTimeout <= 0 {
			errors = append(errors, "circuitBreaker RecoveryTimeout must be positive")
		}
		if c.circuitBreaker.config.SuccessThreshold <= 0 {
			errors = append(errors, "circuitBreaker SuccessThreshold must be positive")
		}
	}

	return errors
}

func (c *Client) validateRateLimiterConfig() []string {
	var errors []string

	if c.limiterConfig != nil {
		if c.limiterConfig.maxTokens <= 0 {
			errors = append(errors, "rateLimiter maxTokens must be positive")
		}
		if c.limiterConfig.refillRate <= 0 {
			errors = append(errors, "rateLimiter refillRate must be positive")
		}
	}

	return errors
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	for i, middleware := range c.middleware {
		if middleware == nil {
			errors = append(errors, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return errors
}

func (c *Client) validateRulesConfig() []string {
	if err := c.rules.Validate(); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.retryPolicy.MaxAttempts > 100 {
		errors = append(errors, "maxAttempts > 100 may cause excessive resource usage")
	}
	if c.retryPolicy.BaseDelay > 10*time.Minute {
		errors = append(errors, "baseDelay > 10 minutes may cause excessive delays")
	}
	if c.timeout > time.Hour {
		errors = append(errors, "timeout > 1 hour may cause resource leaks")
	}

	return errors
}
