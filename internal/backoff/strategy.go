package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the pause that precedes the next attempt. Attempt numbers
// are 1-based: Delay(1, ...) is the wait after the first failed attempt.
type Strategy interface {
	Delay(attempt int, base, maxDelay time.Duration, jitter float64) time.Duration
}

// LinearStrategy waits base*attempt. It is the default for reqcache clients.
type LinearStrategy struct{}

// Delay implements Strategy.
func (LinearStrategy) Delay(attempt int, base, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Keep the multiplication well clear of overflow.
	if attempt > 1<<16 {
		attempt = 1 << 16
	}

	d := base * time.Duration(attempt)
	d = capDelay(d, maxDelay)
	return addJitter(d, maxDelay, jitter)
}

// ExponentialStrategy waits base*2^(attempt-1).
type ExponentialStrategy struct{}

// Delay implements Strategy.
func (ExponentialStrategy) Delay(attempt int, base, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		attempt = 31
	}

	d := time.Duration(float64(base) * pow(2, attempt-1))
	d = capDelay(d, maxDelay)
	return addJitter(d, maxDelay, jitter)
}

func capDelay(d, maxDelay time.Duration) time.Duration {
	if d < 0 {
		return maxDelay
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

func addJitter(d, maxDelay time.Duration, jitter float64) time.Duration {
	jitter = clampJitter(jitter)
	if jitter == 0 {
		return d
	}
	d += time.Duration(float64(d) * jitter * rand.Float64())
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// clampJitter keeps jitter within [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
