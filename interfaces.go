package hydrationcache

import (
	"github.com/huykn/hydration-cache/cache"
	"github.com/huykn/hydration-cache/hydration"
	"github.com/huykn/hydration-cache/keys"
	"github.com/huykn/hydration-cache/params"
	"github.com/huykn/hydration-cache/query"
	"github.com/huykn/hydration-cache/types"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// Store is an alias for cache.Store.
type Store = cache.Store

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// Params is an alias for params.Params.
type Params = params.Params

// Key is an alias for keys.Key.
type Key = keys.Key

// Entry is an alias for types.Entry.
type Entry = types.Entry

// Snapshot is an alias for types.Snapshot.
type Snapshot = types.Snapshot

// CarouselConfig is an alias for query.CarouselConfig.
type CarouselConfig = query.CarouselConfig

// Descriptor is an alias for query.Descriptor.
type Descriptor = query.Descriptor

// Policy is an alias for hydration.Policy.
type Policy = hydration.Policy

// Report is an alias for hydration.Report.
type Report = hydration.Report

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}

// MakeKey builds a cache key; see keys.Make.
func MakeKey(domain, resourceKind string, p Params) (Key, error) {
	return keys.Make(domain, resourceKind, p)
}
