package reqcache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSleeper records requested waits and returns immediately.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// scriptedTransport answers each physical attempt from a list of steps and
// repeats the last one once the script runs out.
type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	calls int32
	reqs  []Request
	// gate, when set, is waited on before answering.
	gate chan struct{}
}

type step struct {
	val    string
	status int
	netErr bool
}

func okStep(val string) step   { return step{val: val} }
func statusStep(code int) step { return step{status: code} }
func networkStep() step        { return step{netErr: true} }

func newScriptedTransport(steps ...step) *scriptedTransport {
	return &scriptedTransport{steps: steps}
}

func (s *scriptedTransport) RoundTrip(ctx context.Context, req *Request) (Payload, error) {
	n := int(atomic.AddInt32(&s.calls, 1))

	s.mu.Lock()
	s.reqs = append(s.reqs, *req)
	st := s.steps[len(s.steps)-1]
	if n <= len(s.steps) {
		st = s.steps[n-1]
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, NewNetworkError(ctx.Err())
		}
	}

	switch {
	case st.netErr:
		return nil, NewNetworkError(context.DeadlineExceeded)
	case st.status != 0:
		return nil, NewStatusError(st.status, []byte(`{"code":`+strconv.Itoa(st.status)+`,"msg":"scripted failure"}`))
	default:
		return Payload(st.val), nil
	}
}

func (s *scriptedTransport) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func (s *scriptedTransport) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.reqs...)
}

// newTestClient wires a client to a scripted transport, a fake clock and a
// recording sleeper.
func newTestClient(tr Transport, opts ...Option) (*Client, *fakeClock, *recordingSleeper) {
	clock := newFakeClock()
	sleeper := &recordingSleeper{}
	base := []Option{
		WithTransport(tr),
		WithClock(clock),
		WithSleeper(sleeper.Sleep),
	}
	return New(append(base, opts...)...), clock, sleeper
}
