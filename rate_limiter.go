package reqcache

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket gating physical attempts. One token is
// added every refillRate up to maxTokens.
type RateLimiter struct {
	mu         sync.Mutex
	maxTokens  int64
	tokens     int64
	refillRate time.Duration
	lastRefill time.Time
	clock      Clock
}

// NewRateLimiter creates a full bucket on the system clock.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, SystemClock)
}

func newRateLimiter(maxTokens int, refillRate time.Duration, clock Clock) *RateLimiter {
	if clock == nil {
		clock = SystemClock
	}
	return &RateLimiter{
		maxTokens:  int64(maxTokens),
		tokens:     int64(maxTokens),
		refillRate: refillRate,
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens <= 0 {
		return false
	}
	rl.tokens--
	return true
}

// Tokens returns the tokens currently available.
func (rl *RateLimiter) Tokens() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.tokens
}

// refill credits whole elapsed periods only; the remainder carries over.
func (rl *RateLimiter) refill() {
	if rl.refillRate <= 0 {
		return
	}

	elapsed := rl.clock.Now().Sub(rl.lastRefill)
	add := int64(elapsed / rl.refillRate)
	if add <= 0 {
		return
	}

	rl.tokens += add
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = rl.lastRefill.Add(time.Duration(add) * rl.refillRate)
}

type rateLimitConfig struct {
	maxTokens  int
	refillRate time.Duration
}
