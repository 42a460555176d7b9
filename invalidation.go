package reqcache

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClearCache flushes the store and drops every in-flight marker. Flights
// that are still running deliver their results to their callers but do not
// repopulate the cache.
func (c *Client) ClearCache() {
	dropped := c.registry.ClearAll()
	if c.metrics != nil {
		c.metrics.RecordInvalidation("flush", c.store.Len())
	}
	c.store.Clear()

	c.metrics.RecordCacheSize(0)
	c.logger.Debug("Cache cleared", "inFlightDropped", dropped)
}

// ClearCacheByURL evicts every cached GET whose key contains fragment and
// drops the matching in-flight markers. It returns the number of evicted
// entries. Keys have the form METHOD:path:params, so a fragment such as
// "/api/w8t/ticket" hits every cached read of that resource whatever its
// params. An empty fragment matches everything.
func (c *Client) ClearCacheByURL(fragment string) int {
	removed := c.invalidate(fragment)
	c.metrics.RecordInvalidation("manual", removed)
	return removed
}

// invalidate drops markers before evicting so that a flight finishing in
// between cannot write back an entry the caller just asked to remove.
func (c *Client) invalidate(fragments ...string) int {
	removed := 0
	for _, fragment := range fragments {
		dropped := c.registry.ClearMatching(fragment)
		n := c.store.EvictByPattern(fragment)
		removed += n
		c.logger.Debug("Cache invalidated", "fragment", fragment, "removed", n, "inFlightDropped", dropped)
	}
	if removed > 0 {
		c.recordCacheSize()
	}
	return removed
}

// Logout forgets the bearer token and every cached response.
func (c *Client) Logout() {
	if c.credentials != nil {
		c.credentials.ClearToken()
	}
	c.ClearCache()
}

// InvalidationRule maps successful mutations to the cached reads they make
// stale. Path is a prefix of the mutated path; Method is empty for any
// mutating method. An empty Invalidate list invalidates Path itself.
type InvalidationRule struct {
	Method     string   `yaml:"method,omitempty"`
	Path       string   `yaml:"path"`
	Invalidate []string `yaml:"invalidate,omitempty"`
}

// Matches reports whether a mutation of path with method falls under r.
func (r InvalidationRule) Matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return strings.HasPrefix(path, r.Path)
}

// InvalidationRules is an ordered rule set. The zero value invalidates
// nothing, leaving invalidation to explicit ClearCacheByURL calls.
type InvalidationRules []InvalidationRule

// Fragments returns the distinct fragments to invalidate after a successful
// mutation of path.
func (rs InvalidationRules) Fragments(method, path string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(f string) {
		if f == "" {
			return
		}
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}

	for _, r := range rs {
		if !r.Matches(method, path) {
			continue
		}
		if len(r.Invalidate) == 0 {
			add(r.Path)
			continue
		}
		for _, f := range r.Invalidate {
			add(f)
		}
	}
	return out
}

// Validate checks every rule.
func (rs InvalidationRules) Validate() error {
	for i, r := range rs {
		if r.Path == "" {
			return fmt.Errorf("rule %d: path is required", i)
		}
		switch strings.ToUpper(r.Method) {
		case "", MethodPost, MethodPut, MethodPatch, MethodDelete:
		default:
			return fmt.Errorf("rule %d: method %q is not a mutating method", i, r.Method)
		}
		for _, f := range r.Invalidate {
			if f == "" {
				return fmt.Errorf("rule %d: empty invalidate fragment would flush the whole cache", i)
			}
		}
	}
	return nil
}

type rulesFile struct {
	Rules InvalidationRules `yaml:"rules"`
}

// LoadInvalidationRules reads a YAML document of the form
//
//	rules:
//	  - path: /api/w8t/ticket/
//	    invalidate: [/api/w8t/ticket/list]
func LoadInvalidationRules(r io.Reader) (InvalidationRules, error) {
	var doc rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode invalidation rules: %w", err)
	}
	if err := doc.Rules.Validate(); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

// LoadInvalidationRulesFile reads rules from a YAML file.
func LoadInvalidationRulesFile(path string) (InvalidationRules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open invalidation rules: %w", err)
	}
	defer f.Close()
	return LoadInvalidationRules(f)
}
