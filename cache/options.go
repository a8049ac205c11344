package cache

// LocalCacheConfig configures the local cache.
type LocalCacheConfig struct {
	// NumCounters is the number of counters for the cache (Ristretto only).
	// Recommended: 10 * MaxItems
	NumCounters int64

	// MaxCost is the maximum cost of items in the cache (Ristretto only).
	// Each entry costs 1, so this is the entry capacity.
	MaxCost int64

	// BufferItems is the number of items to buffer before eviction (Ristretto only).
	// Recommended: 64
	BufferItems int64

	// MaxSize is the maximum number of entries in the cache (LRU only).
	MaxSize int
}

// Options configures a Store instance.
type Options struct {
	// InstanceID identifies this store when publishing invalidation events.
	// Used to avoid applying our own events twice.
	InstanceID string

	// LocalCacheConfig configures the backing local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating the backing local cache.
	// If nil, defaults to the LRU factory.
	LocalCacheFactory LocalCacheFactory

	// Synchronizer propagates invalidations to peer stores. Optional.
	Synchronizer Synchronizer

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default store options.
func DefaultOptions() Options {
	return Options{
		InstanceID:        "default-instance",
		LocalCacheConfig:  DefaultLocalCacheConfig(),
		LocalCacheFactory: nil, // Will default to LRU in NewStore()
		Logger:            nil, // Will default to no-op in NewStore()
		DebugMode:         false,
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
		MaxSize:     10000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.InstanceID == "" {
		return ErrInvalidConfig
	}
	if o.LocalCacheFactory == nil && o.LocalCacheConfig.MaxSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid store configuration")

// ErrStoreClosed is returned when operations are performed on a closed store.
var ErrStoreClosed = NewError("store is closed")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
