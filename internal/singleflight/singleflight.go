package singleflight

import (
	"context"
	"sync"
)

// Group tracks in-flight calls by key. Calls started with Do are joinable:
// a duplicate caller waits for the owner and receives its result. Calls
// started with Mark are advisory markers that only record that the key is
// busy.
type Group struct {
	mu    sync.Mutex
	calls map[string]*Call
	marks map[string]map[*Call]struct{}
}

// Call is a single in-flight execution.
type Call struct {
	key   string
	group *Group
	done  chan struct{}

	// guarded by group.mu
	forgotten bool
	cleared   bool
	waiters   int

	val interface{}
	err error
}

// New creates a new Group.
func New() *Group {
	return &Group{
		calls: make(map[string]*Call),
		marks: make(map[string]map[*Call]struct{}),
	}
}

// Do runs fn once per key at a time. A caller that arrives while a call for
// the same key is running waits for that call (or for its own ctx) and gets
// the same result; shared reports whether the result came from another
// caller. The owner's entry is removed as soon as fn returns.
func (g *Group) Do(ctx context.Context, key string, fn func(c *Call) (interface{}, error)) (val interface{}, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		c.waiters++
		g.mu.Unlock()

		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			g.mu.Lock()
			c.waiters--
			g.mu.Unlock()
			return nil, ctx.Err(), true
		}
	}

	c := g.newCall(key)
	g.calls[key] = c
	g.mu.Unlock()

	g.run(c, fn)
	return c.val, c.err, false
}

// Mark records an advisory marker for key. Every Mark must be paired with
// exactly one Clear.
func (g *Group) Mark(key string) *Call {
	g.mu.Lock()
	defer g.mu.Unlock()

	c := g.newCall(key)
	set, ok := g.marks[key]
	if !ok {
		set = make(map[*Call]struct{})
		g.marks[key] = set
	}
	set[c] = struct{}{}
	return c
}

// Clear removes an advisory marker. It reports false if the marker was
// already removed by Clear or Forget.
func (g *Group) Clear(c *Call) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(c)
}

// Track marks key, runs fn and clears the marker on every exit path.
func (g *Group) Track(key string, fn func(c *Call) (interface{}, error)) (interface{}, error) {
	c := g.Mark(key)
	defer g.Clear(c)
	return fn(c)
}

// Pending reports whether any call or marker exists for key.
func (g *Group) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.calls[key]; ok {
		return true
	}
	return len(g.marks[key]) > 0
}

// Len returns the number of keys with a call or marker.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.calls)
	for key, set := range g.marks {
		if _, joined := g.calls[key]; !joined && len(set) > 0 {
			n++
		}
	}
	return n
}

// Forget detaches every call and marker for key. Running calls keep going
// but are flagged as forgotten and later callers start a new call.
func (g *Group) Forget(key string) int {
	return g.ForgetMatching(func(k string) bool { return k == key })
}

// ForgetMatching is Forget for every key accepted by match. It returns the
// number of calls and markers detached.
func (g *Group) ForgetMatching(match func(key string) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for key, c := range g.calls {
		if match(key) {
			c.forgotten = true
			c.cleared = true
			delete(g.calls, key)
			n++
		}
	}
	for key, set := range g.marks {
		if !match(key) {
			continue
		}
		for c := range set {
			c.forgotten = true
			c.cleared = true
			n++
		}
		delete(g.marks, key)
	}
	return n
}

// Key returns the key the call was started for.
func (c *Call) Key() string {
	return c.key
}

// Forgotten reports whether the call was detached by Forget.
func (c *Call) Forgotten() bool {
	c.group.mu.Lock()
	defer c.group.mu.Unlock()
	return c.forgotten
}

// Waiters returns how many duplicate callers are waiting on this call.
func (c *Call) Waiters() int {
	c.group.mu.Lock()
	defer c.group.mu.Unlock()
	return c.waiters
}

// Commit runs fn only if the call has not been forgotten. fn runs under the
// group lock, so it cannot interleave with Forget.
func (c *Call) Commit(fn func()) bool {
	c.group.mu.Lock()
	defer c.group.mu.Unlock()

	if c.forgotten {
		return false
	}
	fn()
	return true
}

func (g *Group) newCall(key string) *Call {
	return &Call{
		key:   key,
		group: g,
		done:  make(chan struct{}),
	}
}

func (g *Group) run(c *Call, fn func(c *Call) (interface{}, error)) {
	normalReturn := false
	defer func() {
		if !normalReturn {
			c.val, c.err = nil, ErrPanicked
		}
		g.mu.Lock()
		g.removeLocked(c)
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn(c)
	normalReturn = true
}

func (g *Group) removeLocked(c *Call) bool {
	if c.cleared {
		return false
	}
	c.cleared = true

	if g.calls[c.key] == c {
		delete(g.calls, c.key)
		return true
	}
	if set, ok := g.marks[c.key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(g.marks, c.key)
		}
	}
	return true
}
