// Package redisstore provides a reqcache.Store shared between processes
// through Redis.
package redisstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/redis.v5"

	"github.com/ambiyansyah-risyal/reqcache"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "_REQCACHE_"

const scanCount = 100

// entry is the stored form. Freshness is decided from StoredAt against the
// store's clock; the Redis TTL only reclaims memory. Value is kept as bytes
// so empty and non-JSON bodies survive the round trip.
type entry struct {
	StoredAt time.Time `json:"stored_at"`
	Value    []byte    `json:"value"`
}

// Store implements reqcache.Store on Redis. Redis failures are logged and
// degrade to cache misses.
type Store struct {
	client *redis.Client
	prefix string
	window time.Duration
	clock  reqcache.Clock
	log    log.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock injects the time source.
func WithClock(clock reqcache.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger sets the logrus logger or entry used for Redis failures.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New connects to the Redis server at url, e.g. redis://localhost:6379/0.
func New(url string, window time.Duration, opts ...Option) (*Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing redis url")
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping().Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "error connecting to redis at %s", redisOpts.Addr)
	}
	return NewWithClient(client, window, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, window time.Duration, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		window: window,
		clock:  reqcache.SystemClock,
		log:    log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Lookup implements reqcache.Store.
func (s *Store) Lookup(key string) (reqcache.Payload, bool) {
	b, err := s.client.Get(s.prefix + key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("redis lookup failed")
		return nil, false
	}

	e, err := decodeEntry(b)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("dropping undecodable cache entry")
		s.Evict(key)
		return nil, false
	}
	if !fresh(e.StoredAt, s.clock.Now(), s.window) {
		s.Evict(key)
		return nil, false
	}
	return reqcache.Payload(e.Value), true
}

// Store implements reqcache.Store.
func (s *Store) Store(key string, value reqcache.Payload) {
	b, err := encodeEntry(s.clock.Now(), value)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cannot encode cache entry")
		return
	}
	if err := s.client.Set(s.prefix+key, b, s.window).Err(); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("redis store failed")
	}
}

// Evict implements reqcache.Store.
func (s *Store) Evict(key string) {
	if err := s.client.Del(s.prefix + key).Err(); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("redis evict failed")
	}
}

// EvictByPattern implements reqcache.Store. The fragment is matched
// literally.
func (s *Store) EvictByPattern(substr string) int {
	keys, err := s.scan(matchPattern(s.prefix, substr))
	if err != nil {
		s.log.WithError(err).WithField("fragment", substr).Warn("redis scan failed")
	}
	return s.del(keys)
}

// Clear implements reqcache.Store by removing every prefixed key.
func (s *Store) Clear() {
	keys, err := s.scan(matchPattern(s.prefix, ""))
	if err != nil {
		s.log.WithError(err).Warn("redis scan failed")
	}
	s.del(keys)
}

// Len implements reqcache.Store. Expired but not yet reclaimed entries
// are counted.
func (s *Store) Len() int {
	keys, err := s.scan(matchPattern(s.prefix, ""))
	if err != nil {
		s.log.WithError(err).Warn("redis scan failed")
	}
	return len(keys)
}

func (s *Store) scan(match string) ([]string, error) {
	var (
		all    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(cursor, match, scanCount).Result()
		if err != nil {
			return all, err
		}
		all = append(all, keys...)
		if next == 0 {
			return all, nil
		}
		cursor = next
	}
}

func (s *Store) del(keys []string) int {
	if len(keys) == 0 {
		return 0
	}
	n, err := s.client.Del(keys...).Result()
	if err != nil {
		s.log.WithError(err).WithField("keys", len(keys)).Warn("redis delete failed")
	}
	return int(n)
}

func fresh(storedAt, now time.Time, window time.Duration) bool {
	return now.Sub(storedAt) < window
}

func encodeEntry(now time.Time, value reqcache.Payload) ([]byte, error) {
	return json.Marshal(entry{StoredAt: now, Value: value})
}

func decodeEntry(b []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return entry{}, errors.Wrap(err, "error decoding cache entry")
	}
	return e, nil
}

// matchPattern builds a SCAN MATCH pattern for prefixed keys containing
// fragment.
func matchPattern(prefix, fragment string) string {
	if fragment == "" {
		return escapeGlob(prefix) + "*"
	}
	return escapeGlob(prefix) + "*" + escapeGlob(fragment) + "*"
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
