package reqcache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ambiyansyah-risyal/reqcache/internal/singleflight"
)

// InFlightMode selects how identical concurrent GETs are handled.
type InFlightMode int

const (
	// InFlightJoin makes later callers wait for the running request and share
	// its result. At most one physical call per key is outstanding.
	InFlightJoin InFlightMode = iota
	// InFlightAdvisory only records that a key is busy; identical concurrent
	// GETs each perform their own round trip.
	InFlightAdvisory
)

func (m InFlightMode) String() string {
	switch m {
	case InFlightJoin:
		return "join"
	case InFlightAdvisory:
		return "advisory"
	default:
		return fmt.Sprintf("InFlightMode(%d)", int(m))
	}
}

// ParseInFlightMode accepts "join" or "advisory".
func ParseInFlightMode(s string) (InFlightMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "join":
		return InFlightJoin, nil
	case "advisory":
		return InFlightAdvisory, nil
	default:
		return 0, fmt.Errorf("unknown in-flight mode %q", s)
	}
}

// Marker is the bookkeeping record of one executing GET.
type Marker struct {
	call *singleflight.Call
}

// Key returns the request key the marker was created for.
func (m *Marker) Key() string {
	return m.call.Key()
}

// Waiters returns how many identical GETs are waiting on this flight.
func (m *Marker) Waiters() int {
	return m.call.Waiters()
}

// Invalidated reports whether an invalidation matched this marker while it
// was running. Results of invalidated flights are not cached.
func (m *Marker) Invalidated() bool {
	return m.call.Forgotten()
}

// commit runs fn unless the marker was invalidated, atomically with respect
// to ClearMatching.
func (m *Marker) commit(fn func()) bool {
	return m.call.Commit(fn)
}

// InFlightRegistry tracks GET requests that are currently executing.
type InFlightRegistry struct {
	mode  InFlightMode
	group *singleflight.Group
}

// NewInFlightRegistry creates an empty registry.
func NewInFlightRegistry(mode InFlightMode) *InFlightRegistry {
	return &InFlightRegistry{
		mode:  mode,
		group: singleflight.New(),
	}
}

// Mode returns the registry mode.
func (r *InFlightRegistry) Mode() InFlightMode {
	return r.mode
}

// IsPending reports whether a GET for key is executing.
func (r *InFlightRegistry) IsPending(key string) bool {
	return r.group.Pending(key)
}

// MarkPending records an advisory marker. Pair every call with exactly one
// ClearPending.
func (r *InFlightRegistry) MarkPending(key string) *Marker {
	return &Marker{call: r.group.Mark(key)}
}

// ClearPending removes a marker. It reports false when the marker was
// already gone (cleared earlier or dropped by ClearMatching).
func (r *InFlightRegistry) ClearPending(m *Marker) bool {
	if m == nil {
		return false
	}
	return r.group.Clear(m.call)
}

// ClearMatching drops every marker whose key contains fragment and flags the
// corresponding flights as invalidated.
func (r *InFlightRegistry) ClearMatching(fragment string) int {
	return r.group.ForgetMatching(func(key string) bool {
		return strings.Contains(key, fragment)
	})
}

// ClearAll drops every marker.
func (r *InFlightRegistry) ClearAll() int {
	return r.group.ForgetMatching(func(string) bool { return true })
}

// Len returns the number of keys currently in flight.
func (r *InFlightRegistry) Len() int {
	return r.group.Len()
}

// Do executes fn for key under the registry's mode. In join mode a caller
// that finds key already running waits for it instead; joined reports that.
// The marker is always removed when fn returns, on every path.
func (r *InFlightRegistry) Do(ctx context.Context, key string, fn func(m *Marker) (Payload, error)) (val Payload, err error, joined bool) {
	run := func(c *singleflight.Call) (interface{}, error) {
		return fn(&Marker{call: c})
	}

	var v interface{}
	if r.mode == InFlightAdvisory {
		v, err = r.group.Track(key, run)
	} else {
		v, err, joined = r.group.Do(ctx, key, run)
	}

	if p, ok := v.(Payload); ok {
		val = p
	}
	if joined && err != nil {
		err = waiterError(err)
	}
	return val, err, joined
}

// waiterError normalizes what a joined caller gets back when it gave up
// waiting (its own ctx) or the owner panicked.
func waiterError(err error) error {
	if _, ok := err.(*ClientError); ok {
		return err
	}
	ce := NewNetworkError(err)
	if errors.Is(err, context.Canceled) {
		ce.Message = "request cancelled while waiting for an identical request"
	}
	return ce
}
