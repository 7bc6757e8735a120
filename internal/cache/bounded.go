package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Bounded is the size-capped variant of Cache: same TTL semantics, but the
// entry count never exceeds maxEntries, with least-recently-used eviction
// beyond that. Hosts that cannot tolerate a full TTL window of distinct
// keys in memory pick this one.
type Bounded struct {
	lru        *lru.Cache[string, entry]
	defaultTTL time.Duration
	now        func() time.Time
}

func NewBounded(maxEntries int, defaultTTL time.Duration) (*Bounded, error) {
	l, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Bounded{lru: l, defaultTTL: defaultTTL, now: time.Now}, nil
}

func (c *Bounded) Get(key string) (any, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *Bounded) Set(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl != TTLForever {
		e.expiresAt = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
}

func (c *Bounded) Delete(key string) bool {
	return c.lru.Remove(key)
}

func (c *Bounded) Clear() {
	c.lru.Purge()
}

func (c *Bounded) Len() int {
	return c.lru.Len()
}

// Sweep drops expired entries. The LRU already bounds size, so this only
// matters for hosts polling Len as a metric.
func (c *Bounded) Sweep() int {
	now := c.now()
	removed := 0
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && e.expired(now) {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}
