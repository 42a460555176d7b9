package reqcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ambiyansyah-risyal/reqcache/internal/backoff"
)

// Backoff names how the wait grows between attempts.
type Backoff string

const (
	// BackoffLinear waits BaseDelay*n after failed attempt n.
	BackoffLinear Backoff = "linear"
	// BackoffExponential waits BaseDelay*2^(n-1) after failed attempt n.
	BackoffExponential Backoff = "exponential"
)

// ParseBackoff accepts "linear" or "exponential". Empty means linear.
func ParseBackoff(s string) (Backoff, error) {
	switch b := Backoff(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackoffLinear, nil
	case BackoffLinear, BackoffExponential:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backoff %q", s)
	}
}

func (b Backoff) strategy() backoff.Strategy {
	if b == BackoffExponential {
		return backoff.ExponentialStrategy{}
	}
	return backoff.LinearStrategy{}
}

// RetryPolicy bounds the retry loop. The wait after failed attempt n is
// BaseDelay*n unless Backoff says otherwise, optionally jittered and capped
// by MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Backoff defaults to BackoffLinear when empty.
	Backoff Backoff
	// MaxDelay caps a single wait; zero means uncapped.
	MaxDelay time.Duration
	// Jitter adds up to Jitter*delay of random extra wait. 0 disables it.
	Jitter float64
}

// DefaultRetryPolicy returns 3 attempts with a 1s linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// Attempt performs one physical try. attempt is 1-based.
type Attempt func(ctx context.Context, attempt int) (Payload, error)

// Executor runs an Attempt until it succeeds, fails with a non-retryable
// error or runs out of attempts. It does not look at the HTTP method.
type Executor struct {
	policy    RetryPolicy
	calc      *backoff.Calculator
	sleep     Sleeper
	retryable func(error) bool
	// onRetry is called before each backoff wait.
	onRetry func(attempt int, delay time.Duration, err error)
}

// NewExecutor builds an Executor. A nil sleeper means SleepContext.
func NewExecutor(policy RetryPolicy, sleeper Sleeper) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if sleeper == nil {
		sleeper = SleepContext
	}
	if policy.Backoff == "" {
		policy.Backoff = BackoffLinear
	}
	return &Executor{
		policy:    policy,
		calc:      backoff.NewCalculator(policy.Backoff.strategy(), policy.BaseDelay, policy.MaxDelay, policy.Jitter),
		sleep:     sleeper,
		retryable: IsRetryable,
	}
}

// Policy returns the effective policy.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Delay returns the wait that follows the given failed attempt.
func (e *Executor) Delay(attempt int) time.Duration {
	return e.calc.Delay(attempt)
}

// Execute runs op under the policy. The returned error is the last one
// observed, annotated with its attempt number when it is a *ClientError.
func (e *Executor) Execute(ctx context.Context, op Attempt) (Payload, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		val, err := op(ctx, attempt)
		if err == nil {
			return val, nil
		}
		// copy so shared values such as the sentinels are never mutated
		if ce, ok := err.(*ClientError); ok && ce != nil {
			annotated := *ce
			annotated.Attempt = attempt
			annotated.MaxAttempts = e.policy.MaxAttempts
			err = &annotated
		}
		lastErr = err

		if attempt >= e.policy.MaxAttempts || !e.retryable(err) {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}

		delay := e.calc.Delay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt, delay, err)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
	}
}
