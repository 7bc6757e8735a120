// Package cache provides the result cache for completed operations: a keyed
// store with per-entry TTL and lazy expiry. Memory is bounded by the set of
// distinct keys seen within one TTL window; Sweep exists for hosts that want
// a tighter bound, and Bounded adds size-based LRU eviction on top.
package cache

import (
	"sync"
	"time"
)

// TTLForever marks an entry that never expires.
const TTLForever = time.Duration(-1)

type entry struct {
	value     any
	expiresAt time.Time // zero means never
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is a TTL-only result store. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        func() time.Time
}

func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get returns the value for key, expiring it lazily if its TTL has passed.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A ttl of zero uses the cache default;
// TTLForever disables expiry for this entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl != TTLForever {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
