package cache

import (
	gocache "github.com/patrickmn/go-cache"

	"github.com/sejmbot/detektor/internal/model"
)

// MemoryCache is the hot layer of the evaluation cache. Entries never
// expire; retention is the persistent store's concern.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// Get retrieves an entry from the cache
func (c *MemoryCache) Get(fingerprint string) (model.CacheEntry, bool) {
	if val, found := c.cache.Get(fingerprint); found {
		return val.(model.CacheEntry), true
	}
	return model.CacheEntry{}, false
}

// Set stores an entry
func (c *MemoryCache) Set(entry model.CacheEntry) {
	c.cache.Set(entry.Fingerprint, entry, gocache.NoExpiration)
}

// Len returns the number of entries
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}

// Clear removes all entries
func (c *MemoryCache) Clear() {
	c.cache.Flush()
}
