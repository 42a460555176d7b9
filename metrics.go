package reqcache

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// the cache and the in-flight registry. A nil collector records nothing.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	attemptsTotal *prometheus.CounterVec
	retriesTotal  *prometheus.CounterVec

	circuitBreakerState prometheus.Gauge
	rateLimiterTokens   prometheus.Gauge

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   prometheus.Gauge

	joinedTotal        *prometheus.CounterVec
	invalidationsTotal *prometheus.CounterVec
	evictedTotal       prometheus.Counter

	sessionInvalidations prometheus.Counter

	errorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetricsCollector creates a metrics collector on a fresh registry.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)

	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_requests_total",
				Help: "Total number of logical requests, by final status code (0 for network failures)",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reqcache_request_duration_seconds",
				Help:    "Duration of logical requests including retries, in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reqcache_requests_in_flight",
				Help: "Number of logical requests currently executing",
			},
			[]string{"method", "endpoint"},
		),
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_attempts_total",
				Help: "Total number of physical HTTP attempts",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		circuitBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reqcache_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
		),
		rateLimiterTokens: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reqcache_rate_limiter_tokens",
				Help: "Tokens left in the rate limiter bucket",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"endpoint"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"endpoint"},
		),
		cacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reqcache_cache_size",
				Help: "Current number of entries in cache",
			},
		),
		joinedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_inflight_joined_total",
				Help: "Total number of GETs that joined an identical in-flight request",
			},
			[]string{"endpoint"},
		),
		invalidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_invalidations_total",
				Help: "Total number of invalidation calls, by trigger (manual, rule, flush)",
			},
			[]string{"trigger"},
		),
		evictedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reqcache_invalidated_entries_total",
				Help: "Total number of cache entries removed by invalidation",
			},
		),
		sessionInvalidations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reqcache_session_invalidations_total",
				Help: "Total number of 401 responses that invalidated the session",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqcache_errors_total",
				Help: "Total number of final errors, by type",
			},
			[]string{"type", "method", "endpoint"},
		),
	}

	if reg, ok := registry.(*prometheus.Registry); ok {
		mc.registry = reg
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	mc.requestsTotal.WithLabelValues(method, strconv.Itoa(statusCode), endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordAttempt counts a physical attempt; attempts after the first also
// count as retries.
func (mc *MetricsCollector) RecordAttempt(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}

	mc.attemptsTotal.WithLabelValues(method, endpoint).Inc()
	if attempt > 1 {
		mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
	}
}

// RecordCircuitBreakerState sets gauge to breaker state.
func (mc *MetricsCollector) RecordCircuitBreakerState(state CircuitState) {
	if mc == nil {
		return
	}

	mc.circuitBreakerState.Set(float64(state))
}

// RecordRateLimiterTokens sets the rate limiter token gauge.
func (mc *MetricsCollector) RecordRateLimiterTokens(tokens int64) {
	if mc == nil {
		return
	}

	mc.rateLimiterTokens.Set(float64(tokens))
}

// RecordCacheHit increments cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheHits.WithLabelValues(endpoint).Inc()
}

// RecordCacheMiss increments cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(endpoint string) {
	if mc == nil {
		return
	}

	mc.cacheMisses.WithLabelValues(endpoint).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.Set(float64(size))
}

// RecordJoin counts a GET served by another caller's in-flight request.
func (mc *MetricsCollector) RecordJoin(endpoint string) {
	if mc == nil {
		return
	}

	mc.joinedTotal.WithLabelValues(endpoint).Inc()
}

// RecordInvalidation counts an invalidation and the entries it removed.
func (mc *MetricsCollector) RecordInvalidation(trigger string, removed int) {
	if mc == nil {
		return
	}

	mc.invalidationsTotal.WithLabelValues(trigger).Inc()
	mc.evictedTotal.Add(float64(removed))
}

// RecordSessionInvalidation counts a 401 side effect.
func (mc *MetricsCollector) RecordSessionInvalidation() {
	if mc == nil {
		return
	}

	mc.sessionInvalidations.Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType ErrorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(string(errorType), method, endpoint).Inc()
}

// GetRegistry exposes the underlying prometheus registry, nil when the
// collector was built on another Registerer.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}
