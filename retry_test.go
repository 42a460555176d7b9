package reqcache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attemptsFrom(tr *scriptedTransport) Attempt {
	return func(ctx context.Context, attempt int) (Payload, error) {
		return tr.RoundTrip(ctx, &Request{Method: MethodGet, Path: "/x", Attempt: attempt})
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Zero(t, p.Jitter)
}

func TestExecutorLinearBackoff(t *testing.T) {
	sleeper := &recordingSleeper{}
	tr := newScriptedTransport(statusStep(http.StatusServiceUnavailable), networkStep(), okStep(`"ok"`))
	e := NewExecutor(DefaultRetryPolicy(), sleeper.Sleep)

	val, err := e.Execute(context.Background(), attemptsFrom(tr))

	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(val))
	assert.Equal(t, 3, tr.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestExecutorRetryBound(t *testing.T) {
	for _, max := range []int{1, 2, 3, 5} {
		sleeper := &recordingSleeper{}
		tr := newScriptedTransport(statusStep(http.StatusInternalServerError))
		e := NewExecutor(RetryPolicy{MaxAttempts: max, BaseDelay: 10 * time.Millisecond}, sleeper.Sleep)

		_, err := e.Execute(context.Background(), attemptsFrom(tr))

		require.Error(t, err)
		assert.Equal(t, max, tr.Calls(), "max=%d", max)
		assert.Len(t, sleeper.Delays(), max-1)

		ce, ok := AsClientError(err)
		require.True(t, ok)
		assert.Equal(t, ErrorTypeServer, ce.Type)
		assert.Equal(t, max, ce.Attempt, "last error is annotated")
		assert.Equal(t, max, ce.MaxAttempts)
	}
}

func TestExecutorDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict} {
		sleeper := &recordingSleeper{}
		tr := newScriptedTransport(statusStep(status), okStep(`"never"`))
		e := NewExecutor(DefaultRetryPolicy(), sleeper.Sleep)

		_, err := e.Execute(context.Background(), attemptsFrom(tr))

		require.Error(t, err)
		assert.Equal(t, 1, tr.Calls(), "status %d", status)
		assert.Empty(t, sleeper.Delays())
	}
}

func TestExecutorStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	e := NewExecutor(DefaultRetryPolicy(), func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	})

	_, err := e.Execute(ctx, func(context.Context, int) (Payload, error) {
		calls++
		return nil, NewNetworkError(errors.New("connection refused"))
	})

	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, ErrNetwork), "the last attempt's error is returned, not ctx.Err")
}

func TestExecutorDoesNotMutateSharedErrors(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: 2}, (&recordingSleeper{}).Sleep)

	_, err := e.Execute(context.Background(), func(context.Context, int) (Payload, error) {
		return nil, ErrServer
	})

	require.Error(t, err)
	assert.Zero(t, ErrServer.Attempt)
	ce, _ := AsClientError(err)
	assert.Equal(t, 2, ce.Attempt)
}

func TestExecutorClampsMaxAttempts(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: 0}, nil)
	assert.Equal(t, 1, e.Policy().MaxAttempts)
}

func TestExecutorDelay(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second}, nil)

	assert.Equal(t, time.Second, e.Delay(1))
	assert.Equal(t, 2*time.Second, e.Delay(2))
	assert.Equal(t, 3*time.Second, e.Delay(3))
	assert.Equal(t, 3*time.Second, e.Delay(4), "capped")
}

func TestExecutorExponentialBackoff(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, Backoff: BackoffExponential, MaxDelay: 6 * time.Second}, nil)

	assert.Equal(t, BackoffExponential, e.Policy().Backoff)
	assert.Equal(t, time.Second, e.Delay(1))
	assert.Equal(t, 2*time.Second, e.Delay(2))
	assert.Equal(t, 4*time.Second, e.Delay(3))
	assert.Equal(t, 6*time.Second, e.Delay(4), "capped")

	assert.Equal(t, BackoffLinear, NewExecutor(RetryPolicy{MaxAttempts: 1}, nil).Policy().Backoff)
}

func TestClientExponentialBackoff(t *testing.T) {
	tr := newScriptedTransport(statusStep(http.StatusBadGateway))
	client, _, sleeper := newTestClient(tr, WithMaxAttempts(4), WithBackoff(BackoffExponential))

	_, err := client.Get(context.Background(), "/api/w8t/ticket/list", nil)

	require.Error(t, err)
	assert.Equal(t, 4, tr.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.Delays())
}

func TestParseBackoff(t *testing.T) {
	for in, want := range map[string]Backoff{"": BackoffLinear, "linear": BackoffLinear, " Exponential ": BackoffExponential} {
		got, err := ParseBackoff(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseBackoff("fibonacci")
	assert.Error(t, err)
}

func TestExecutorJitterStaysInRange(t *testing.T) {
	e := NewExecutor(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Jitter: 0.5}, nil)

	for i := 0; i < 100; i++ {
		d := e.Delay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), 0))
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}
