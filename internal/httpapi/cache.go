package httpapi

import (
	"sync"
	"time"
)

// ttlCache holds themes responses for a short window so dashboard
// refreshes don't recluster on every hit. Expired entries are dropped
// lazily on read.
type ttlCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]cacheEntry
}

type cacheEntry struct {
	expires time.Time
	value   themesResponse
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, items: make(map[string]cacheEntry)}
}

func (c *ttlCache) get(key string) (themesResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return themesResponse{}, false
	}
	if time.Now().After(e.expires) {
		delete(c.items, key)
		return themesResponse{}, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, v themesResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheEntry{expires: time.Now().Add(c.ttl), value: v}
}
