// Package reqcache is the data-access layer between an API front end and its
// backend: a caching, de-duplicating, retrying HTTP client.
//
//   - GET responses are cached for a fixed freshness window, keyed by method,
//     path and serialized params
//   - Identical concurrent GETs join a single in-flight request (or, in
//     advisory mode, are only recorded)
//   - Network failures and 5xx responses are retried with linear backoff
//   - Mutations never touch the cache; callers invalidate affected reads by
//     path fragment (ClearCacheByURL) or configure InvalidationRules
//   - 401 responses fire a session-invalid hook exactly once per failing call
//   - Optional circuit breaker and token-bucket rate limiter on physical attempts
//   - Prometheus metrics and structured logging (zerolog or logrus)
//
// Typical usage:
//
//	client := reqcache.New(
//	    reqcache.WithBaseURL("http://localhost:9001"),
//	    reqcache.WithCredentials(reqcache.NewMemoryCredentials("default", token)),
//	    reqcache.WithFreshnessWindow(5*time.Minute),
//	)
//	list, err := client.Get(ctx, "/api/w8t/ticket/list", map[string]any{"page": 1, "size": 20})
//	_, err = client.Post(ctx, "/api/w8t/ticket/create", ticket)
//	client.ClearCacheByURL("/api/w8t/ticket")
//
// Retries are method-agnostic: a POST that times out after the server applied
// it will be sent again. Mutating endpoints must be idempotent or tolerate
// at-least-once delivery.
package reqcache
