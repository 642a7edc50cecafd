// Package cache provides a bounded, time-expiring result cache used to
// short-circuit repeated identical lookups. Caching is best-effort: a
// disabled or full cache degrades to misses, never to errors.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a thread-safe LRU cache with a per-entry TTL and a hard entry
// bound. When the bound would be exceeded the least-recently-used entry is
// evicted. Expired entries are never returned.
type Cache[V any] struct {
	lru     *expirable.LRU[string, V]
	enabled bool
}

// New creates a cache holding at most maxEntries values for at most ttl
// each. A disabled cache misses on every Get and drops every Set.
func New[V any](enabled bool, maxEntries int, ttl time.Duration) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache[V]{
		lru:     expirable.NewLRU[string, V](maxEntries, nil, ttl),
		enabled: enabled,
	}
}

// Get returns the live value for key, if any.
func (c *Cache[V]) Get(key string) (V, bool) {
	if !c.enabled {
		var zero V
		return zero, false
	}
	return c.lru.Get(key)
}

// Set inserts or overwrites the value for key. It silently no-ops when the
// cache is disabled; an eviction caused by the insert is not an error.
func (c *Cache[V]) Set(key string, value V) {
	if !c.enabled {
		return
	}
	c.lru.Add(key, value)
}

// Clear empties the cache. Used for test isolation and operational reset.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}

// Len returns the current number of live entries.
func (c *Cache[V]) Len() int {
	if !c.enabled {
		return 0
	}
	return c.lru.Len()
}
