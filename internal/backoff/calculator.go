package backoff

import (
	"time"
)

// Calculator binds a Strategy to a fixed base delay, cap and jitter so the
// retry executor only has to supply the attempt number.
type Calculator struct {
	strategy Strategy
	base     time.Duration
	maxDelay time.Duration
	jitter   float64
}

// NewCalculator returns a Calculator. A zero maxDelay means uncapped.
func NewCalculator(strategy Strategy, base, maxDelay time.Duration, jitter float64) *Calculator {
	if strategy == nil {
		strategy = LinearStrategy{}
	}
	return &Calculator{
		strategy: strategy,
		base:     base,
		maxDelay: maxDelay,
		jitter:   clampJitter(jitter),
	}
}

// NewLinear is shorthand for a jitter-free linear calculator.
func NewLinear(base time.Duration) *Calculator {
	return NewCalculator(LinearStrategy{}, base, 0, 0)
}

// Delay returns the wait that follows the given 1-based attempt.
func (c *Calculator) Delay(attempt int) time.Duration {
	return c.strategy.Delay(attempt, c.base, c.maxDelay, c.jitter)
}

// Strategy returns the configured strategy.
func (c *Calculator) Strategy() Strategy {
	return c.strategy
}
