package reqcache

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the cache behind GET calls. Implementations decide freshness
// themselves: Lookup returns a value only while now-StoredAt is below the
// freshness window and evicts stale entries as a side effect.
type Store interface {
	Lookup(key string) (Payload, bool)
	Store(key string, value Payload)
	Evict(key string)
	// EvictByPattern removes every entry whose key contains substr and
	// returns how many were removed.
	EvictByPattern(substr string) int
	Clear()
	Len() int
}

// CacheEntry is one cached GET result.
type CacheEntry struct {
	Key      string
	Value    Payload
	StoredAt time.Time
}

// InMemoryCache is a sharded, process-local Store.
type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
	window    time.Duration
	clock     Clock
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates a cache serving entries for window. A nil clock
// means the wall clock.
func NewInMemoryCache(window time.Duration, clock Clock) *InMemoryCache {
	if clock == nil {
		clock = SystemClock
	}
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &InMemoryCache{
		shards:    shards,
		numShards: numShards,
		window:    window,
		clock:     clock,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Window returns the freshness window.
func (c *InMemoryCache) Window() time.Duration {
	return c.window
}

func (c *InMemoryCache) fresh(entry *CacheEntry, now time.Time) bool {
	return now.Sub(entry.StoredAt) < c.window
}

// Lookup implements Store.
func (c *InMemoryCache) Lookup(key string) (Payload, bool) {
	shard := c.getShard(key)
	now := c.clock.Now()

	shard.mu.RLock()
	entry, exists := shard.store[key]
	if exists && c.fresh(entry, now) {
		shard.mu.RUnlock()
		return entry.Value, true
	}
	shard.mu.RUnlock()

	if !exists {
		return nil, false
	}

	shard.mu.Lock()
	// Another writer may have refreshed the entry between the locks.
	if current, ok := shard.store[key]; ok && !c.fresh(current, now) {
		delete(shard.store, key)
	}
	shard.mu.Unlock()
	return nil, false
}

// Store implements Store.
func (c *InMemoryCache) Store(key string, value Payload) {
	shard := c.getShard(key)
	entry := &CacheEntry{
		Key:      key,
		Value:    value,
		StoredAt: c.clock.Now(),
	}

	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
}

// Evict implements Store.
func (c *InMemoryCache) Evict(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

// EvictByPattern implements Store.
func (c *InMemoryCache) EvictByPattern(substr string) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key := range shard.store {
			if strings.Contains(key, substr) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Clear implements Store.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len implements Store. Stale entries that were never looked up again are
// still counted.
func (c *InMemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// Keys returns the cached keys in sorted order.
func (c *InMemoryCache) Keys() []string {
	var keys []string
	for _, shard := range c.shards {
		shard.mu.RLock()
		for key := range shard.store {
			keys = append(keys, key)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// Purge drops every stale entry and returns how many were removed.
func (c *InMemoryCache) Purge() int {
	now := c.clock.Now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, entry := range shard.store {
			if !c.fresh(entry, now) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
