package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheFactory creates LRU-backed stores. It is the default backend.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory creates a factory for stores holding at most maxSize
// entries.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create implements LocalCacheFactory.
func (f *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(f.maxSize)
}

// LRUCache indexes store records with golang-lru. Capacity evictions are
// counted through the eviction callback; explicit deletes are not.
type LRUCache struct {
	index *lru.Cache[string, any]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	deleting  atomic.Bool
}

// NewLRUCache creates an LRU index holding at most maxSize entries.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	c := &LRUCache{}
	index, err := lru.NewWithEvict[string, any](maxSize, func(string, any) {
		if !c.deleting.Load() {
			c.evictions.Add(1)
		}
	})
	if err != nil {
		return nil, err
	}
	c.index = index
	return c, nil
}

func (c *LRUCache) Get(key string) (any, bool) {
	value, found := c.index.Get(key)
	if found {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return value, found
}

// Set never refuses a value; the oldest entry makes room when full.
func (c *LRUCache) Set(key string, value any, _ int64) bool {
	c.index.Add(key, value)
	return true
}

func (c *LRUCache) Delete(key string) {
	c.deleting.Store(true)
	c.index.Remove(key)
	c.deleting.Store(false)
}

// Keys returns the held keys from least to most recently used.
func (c *LRUCache) Keys() []string {
	return c.index.Keys()
}

func (c *LRUCache) Clear() {
	c.deleting.Store(true)
	c.index.Purge()
	c.deleting.Store(false)
}

func (c *LRUCache) Close() {
	c.Clear()
}

func (c *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      int64(c.index.Len()),
	}
}
