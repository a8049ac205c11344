package cache

import (
	"sync"
	"sync/atomic"

	lfu "github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto cache instances.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (rcf *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(rcf.config)
}

// keyed is implemented by values that know their own cache key, which lets the
// LFU cache keep its key index in sync when Ristretto evicts or rejects an item
// (Ristretto only reports hashed keys).
type keyed interface {
	CacheKey() string
}

// LFUCache is a local LFU cache implementation using Ristretto. Ristretto
// cannot enumerate its keys, so the cache tracks them alongside.
type LFUCache struct {
	cache     *lfu.Cache
	hits      int64
	misses    int64
	evictions int64

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	lc := &LFUCache{keys: make(map[string]struct{})}

	cache, err := lfu.NewCache(&lfu.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: true,
		OnEvict: func(item *lfu.Item) {
			atomic.AddInt64(&lc.evictions, 1)
			lc.forget(item.Value)
		},
		OnReject: func(item *lfu.Item) {
			lc.forget(item.Value)
		},
	})
	if err != nil {
		return nil, err
	}

	lc.cache = cache
	return lc, nil
}

func (rc *LFUCache) forget(value any) {
	k, ok := value.(keyed)
	if !ok {
		return
	}
	rc.mu.Lock()
	delete(rc.keys, k.CacheKey())
	rc.mu.Unlock()
}

// Get retrieves a value from the local cache.
func (rc *LFUCache) Get(key string) (any, bool) {
	value, found := rc.cache.Get(key)
	if found {
		atomic.AddInt64(&rc.hits, 1)
	} else {
		atomic.AddInt64(&rc.misses, 1)
	}
	return value, found
}

// Set stores a value and waits for Ristretto's buffers to drain so the value
// is visible to the next Get.
func (rc *LFUCache) Set(key string, value any, cost int64) bool {
	rc.mu.Lock()
	rc.keys[key] = struct{}{}
	rc.mu.Unlock()

	if !rc.cache.Set(key, value, cost) {
		rc.mu.Lock()
		delete(rc.keys, key)
		rc.mu.Unlock()
		return false
	}
	rc.cache.Wait()

	if _, ok := rc.cache.Get(key); !ok {
		rc.mu.Lock()
		delete(rc.keys, key)
		rc.mu.Unlock()
		return false
	}
	return true
}

// Delete removes a value from the local cache.
func (rc *LFUCache) Delete(key string) {
	rc.cache.Del(key)
	rc.cache.Wait()
	rc.mu.Lock()
	delete(rc.keys, key)
	rc.mu.Unlock()
}

// Keys returns the held keys in no particular order.
func (rc *LFUCache) Keys() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, 0, len(rc.keys))
	for k := range rc.keys {
		out = append(out, k)
	}
	return out
}

// Clear removes all values from the local cache.
func (rc *LFUCache) Clear() {
	rc.cache.Clear()
	rc.mu.Lock()
	rc.keys = make(map[string]struct{})
	rc.mu.Unlock()
}

// Close closes the local cache.
func (rc *LFUCache) Close() {
	rc.cache.Close()
}

// Metrics returns cache metrics.
func (rc *LFUCache) Metrics() LocalCacheMetrics {
	rc.mu.Lock()
	size := len(rc.keys)
	rc.mu.Unlock()
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&rc.hits),
		Misses:    atomic.LoadInt64(&rc.misses),
		Evictions: atomic.LoadInt64(&rc.evictions),
		Size:      int64(size),
	}
}
