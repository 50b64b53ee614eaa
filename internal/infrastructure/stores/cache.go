package stores

import (
	"sync"

	"github.com/goccy/go-json"
)

// CacheStore is the best-effort node-scoped key-value cache. Entries have no
// durability guarantee across host restarts unless the backing store is
// persistent.
type CacheStore interface {
	Get(node, key string) (json.RawMessage, bool)
	Set(node, key string, value json.RawMessage)
	Delete(node, key string)
	Has(node, key string) bool
	Close() error
}

// MemoryCache is the in-memory CacheStore.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]json.RawMessage)}
}

func cacheKey(node, key string) string {
	return node + "\x00" + key
}

func (c *MemoryCache) Get(node, key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey(node, key)]
	return v, ok
}

func (c *MemoryCache) Set(node, key string, value json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(node, key)] = value
}

func (c *MemoryCache) Delete(node, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(node, key))
}

func (c *MemoryCache) Has(node, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[cacheKey(node, key)]
	return ok
}

// Close implements CacheStore. The memory cache holds no resources.
func (c *MemoryCache) Close() error {
	return nil
}
