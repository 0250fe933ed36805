package signal

import (
	"sync"
	"time"
)

type cacheEntry struct {
	v   any
	exp time.Time
}

// Cache is a small TTL cache scanners use to avoid hammering upstream
// APIs with the same lookup every cycle. A hit inside the TTL is used
// verbatim, a miss triggers a refetch.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[string]cacheEntry
}

// NewCache creates a cache with the given entry TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, m: make(map[string]cacheEntry)}
}

// Get returns the cached value for key if it hasn't expired
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}
	return e.v, true
}

// Set stores a value under key with the cache's TTL
func (c *Cache) Set(key string, v any) {
	c.mu.Lock()
	c.m[key] = cacheEntry{v: v, exp: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
