// Package hydrationcache wires the cache key factory, the prefetch executor
// and the hydration bridge into one client. A producer renders with
// Client.Render and ships the snapshot; a consumer bootstraps its store with
// Client.Bootstrap and reads through Client.Query.
package hydrationcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/hydration-cache/cache"
	"github.com/huykn/hydration-cache/hydration"
	"github.com/huykn/hydration-cache/metrics"
	"github.com/huykn/hydration-cache/prefetch"
	"github.com/huykn/hydration-cache/query"
	"github.com/huykn/hydration-cache/settings"
	"github.com/huykn/hydration-cache/storage"
	cachesync "github.com/huykn/hydration-cache/sync"
	"github.com/huykn/hydration-cache/types"
	"github.com/huykn/hydration-cache/upstream"
)

// Config configures a Client.
type Config struct {
	// InstanceID identifies this process in invalidation events.
	InstanceID string

	// Domain is the first segment of every cache key.
	Domain string

	// PrefetchCount is how many resolved carousels Render fetches eagerly.
	// The rest are returned as deferred descriptors.
	PrefetchCount int

	// Source backs every descriptor. If nil and UpstreamURL is set, an
	// upstream.HTTPSource is created.
	Source          query.DataSource
	UpstreamURL     string
	UpstreamTimeout time.Duration

	// Permissions gates permission-restricted carousels. Nil grants nothing.
	Permissions query.Permissions

	// Concurrency and FetchTimeout bound the executor.
	Concurrency  int
	FetchTimeout time.Duration

	// LocalCacheConfig configures the store backend.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory creates the store backend. If nil, defaults to LRU.
	LocalCacheFactory LocalCacheFactory

	// Policy decides which entries cross from producer to consumer.
	Policy Policy

	// ScriptID is the element id used by EmbedScript and ExtractScript.
	ScriptID string

	// RedisAddr enables the snapshot transport and invalidation fan-out.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// InvalidationChannel is the Redis pub/sub channel for invalidation.
	InvalidationChannel string

	// SnapshotKeyPrefix namespaces snapshots stored in Redis.
	SnapshotKeyPrefix string

	// SnapshotTTL bounds how long a stored snapshot waits for its consumer.
	SnapshotTTL time.Duration

	// SerializationFormat selects the snapshot serializer ("json" or
	// "json-strict"). Ignored when Marshaller is set.
	SerializationFormat string

	// Marshaller is the marshaller for snapshots and payloads.
	// If nil, defaults to the serializer for SerializationFormat.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// Recorder receives Prometheus metrics. Optional.
	Recorder *metrics.Recorder

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		InstanceID:          "default-instance",
		Domain:              "catalog",
		PrefetchCount:       2,
		Concurrency:         prefetch.DefaultConcurrency,
		FetchTimeout:        5 * time.Second,
		UpstreamTimeout:     10 * time.Second,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		LocalCacheFactory:   nil, // Will default to LRU in New()
		ScriptID:            "__HYDRATION_STATE__",
		InvalidationChannel: "hydration:invalidate",
		SnapshotKeyPrefix:   storage.DefaultKeyPrefix,
		SnapshotTTL:         5 * time.Minute,
		SerializationFormat: "json",
		Marshaller:          nil, // Will default to JSON in New()
		Logger:              nil, // Will default to no-op in New()
		DebugMode:           false,
	}
}

// ConfigFromSettings maps loaded site settings onto a Config.
func ConfigFromSettings(s settings.Settings) (Config, error) {
	if err := s.Validate(); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	cfg.InstanceID = s.Cache.InstanceID
	cfg.Domain = s.Site.Domain
	cfg.PrefetchCount = s.Site.PrefetchCount
	cfg.UpstreamURL = s.Upstream.BaseURL
	cfg.UpstreamTimeout = s.Upstream.Timeout
	cfg.Concurrency = s.Prefetch.Concurrency
	cfg.FetchTimeout = s.Prefetch.FetchTimeout
	cfg.LocalCacheConfig.MaxSize = s.Cache.MaxSize
	cfg.LocalCacheConfig.MaxCost = int64(s.Cache.MaxSize)
	cfg.LocalCacheConfig.NumCounters = 10 * int64(s.Cache.MaxSize)
	if s.Cache.Backend == "lfu" {
		cfg.LocalCacheFactory = cache.NewLFUCacheFactory(cfg.LocalCacheConfig)
	}
	cfg.Policy = Policy{
		DenyDomains:   append([]string(nil), s.Hydration.DenyDomains...),
		IncludeErrors: s.Hydration.IncludeErrors,
	}
	cfg.ScriptID = s.Hydration.ScriptID
	cfg.SerializationFormat = s.Hydration.Format
	cfg.SnapshotTTL = s.Hydration.SnapshotTTL
	cfg.RedisAddr = s.Redis.Address
	cfg.RedisPassword = s.Redis.Password
	cfg.RedisDB = s.Redis.DB
	cfg.InvalidationChannel = s.Redis.Channel
	cfg.SnapshotKeyPrefix = s.Redis.KeyPrefix
	cfg.DebugMode = s.Logging.Debug

	if s.Logging.Format == "console" {
		cfg.Logger = cache.NewConsoleLogger("hydration-cache")
	} else {
		l, err := settings.NewSlogLogger(s.Logging, nil)
		if err != nil {
			return Config{}, err
		}
		cfg.Logger = cache.NewSlogLogger(l)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidConfig)
	}
	if c.Domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidConfig)
	}
	if c.PrefetchCount < 0 {
		return fmt.Errorf("%w: prefetch count must not be negative", ErrInvalidConfig)
	}
	if c.LocalCacheFactory == nil && c.LocalCacheConfig.MaxSize <= 0 {
		return fmt.Errorf("%w: local cache max size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Client ties resolution, prefetching, hydration and the optional Redis
// transport together. It holds no cache state: stores are created per render
// or per session and owned by the caller.
type Client struct {
	cfg      Config
	resolver *query.Resolver
	executor *prefetch.Executor
	bridge   *hydration.Bridge

	redis     *redis.Client
	snapshots *storage.RedisStore

	stores atomic.Int64
}

// New creates a new Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = cache.NewNoOpLogger()
	}
	if cfg.Marshaller == nil {
		serializer, err := storage.GetSerializer(cfg.SerializationFormat)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg.Marshaller = serializer
	}
	if cfg.Source == nil && cfg.UpstreamURL != "" {
		source, err := upstream.NewHTTPSource(cfg.UpstreamURL, upstream.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		cfg.Source = source
	}

	c := &Client{
		cfg:      cfg,
		resolver: query.NewResolver(cfg.Domain, cfg.Source, cfg.Permissions),
		executor: prefetch.NewExecutor(prefetch.Options{
			Concurrency:  cfg.Concurrency,
			FetchTimeout: cfg.FetchTimeout,
			Marshaller:   cfg.Marshaller,
			Logger:       cfg.Logger,
			DebugMode:    cfg.DebugMode,
			Recorder:     cfg.Recorder,
		}),
		bridge: hydration.NewBridge(hydration.Options{
			Policy:     cfg.Policy,
			Marshaller: cfg.Marshaller,
			Logger:     cfg.Logger,
			DebugMode:  cfg.DebugMode,
			OnError:    cfg.OnError,
			Recorder:   cfg.Recorder,
		}),
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: %v", ErrRedisConnection, err)
		}
		c.redis = client
		c.snapshots = storage.NewRedisStoreFromClient(client, cfg.SnapshotKeyPrefix)
	}

	if cfg.DebugMode {
		cfg.Logger.Info("Client created", "instance", cfg.InstanceID, "domain", cfg.Domain, "redis", cfg.RedisAddr != "")
	}
	return c, nil
}

func (c *Client) storeOptions() cache.Options {
	opts := cache.DefaultOptions()
	opts.InstanceID = fmt.Sprintf("%s/%d", c.cfg.InstanceID, c.stores.Add(1))
	opts.LocalCacheConfig = c.cfg.LocalCacheConfig
	opts.LocalCacheFactory = c.cfg.LocalCacheFactory
	opts.Logger = c.cfg.Logger
	opts.DebugMode = c.cfg.DebugMode
	opts.OnError = c.cfg.OnError
	return opts
}

// NewRenderStore creates a producer-side store for one render.
func (c *Client) NewRenderStore() (*Store, error) {
	return cache.NewStore(c.storeOptions())
}

// NewConsumerStore creates a consumer-side store for one session. With Redis
// configured it subscribes to invalidation events from peers.
func (c *Client) NewConsumerStore() (*Store, error) {
	opts := c.storeOptions()
	if c.redis != nil {
		syncer := cachesync.NewPubSubSynchronizer(c.redis, c.cfg.InvalidationChannel, opts.InstanceID)
		syncer.OnError(c.onError)
		opts.Synchronizer = syncer
	}
	return cache.NewStore(opts)
}

func (c *Client) onError(err error) {
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
	if c.cfg.DebugMode {
		c.cfg.Logger.Error("Background error", "error", err)
	}
}

// Resolve maps carousel configuration to descriptors without fetching.
func (c *Client) Resolve(configs []CarouselConfig) ([]Descriptor, error) {
	return c.resolver.Resolve(configs)
}

// Prefetch fetches descs into store and waits for all of them to settle.
func (c *Client) Prefetch(ctx context.Context, descs []Descriptor, store *Store) error {
	return c.executor.Execute(ctx, descs, store)
}

// Query reads d from store, fetching it once on a miss.
func (c *Client) Query(ctx context.Context, d Descriptor, store *Store) (Entry, error) {
	return c.executor.Query(ctx, d, store)
}

// Dehydrate snapshots store under the configured policy.
func (c *Client) Dehydrate(store *Store) Snapshot {
	return c.bridge.Dehydrate(store)
}

// Hydrate merges snap into store.
func (c *Client) Hydrate(snap Snapshot, store *Store) Report {
	return c.bridge.Hydrate(snap, store)
}

// Expect registers a shape check for keys under prefix.
func (c *Client) Expect(prefix Key, check hydration.ShapeCheck) {
	c.bridge.Expect(prefix, check)
}

// RenderResult is the outcome of a producer render.
type RenderResult struct {
	// Prefetched were fetched and are part of Snapshot when the policy
	// permits.
	Prefetched []Descriptor

	// Deferred are left for the consumer to load on interaction.
	Deferred []Descriptor

	Snapshot Snapshot
}

// Render resolves configs, prefetches the first PrefetchCount descriptors
// into a fresh render store and returns its snapshot. The render store is
// discarded afterwards.
func (c *Client) Render(ctx context.Context, configs []CarouselConfig) (RenderResult, error) {
	descs, err := c.Resolve(configs)
	if err != nil {
		return RenderResult{}, err
	}
	prefetched, deferred := query.Partition(descs, c.cfg.PrefetchCount)

	store, err := c.NewRenderStore()
	if err != nil {
		return RenderResult{}, err
	}
	defer store.Close()

	if err := c.Prefetch(ctx, prefetched, store); err != nil {
		return RenderResult{}, err
	}

	return RenderResult{
		Prefetched: prefetched,
		Deferred:   deferred,
		Snapshot:   c.Dehydrate(store),
	}, nil
}

// Bootstrap creates a consumer store hydrated from snap.
func (c *Client) Bootstrap(snap Snapshot) (*Store, Report, error) {
	store, err := c.NewConsumerStore()
	if err != nil {
		return nil, Report{}, err
	}
	return store, c.Hydrate(snap, store), nil
}

// Encode serializes snap.
func (c *Client) Encode(snap Snapshot) ([]byte, error) {
	return c.bridge.Encode(snap)
}

// Decode parses a snapshot.
func (c *Client) Decode(data []byte) (Snapshot, error) {
	return c.bridge.Decode(data)
}

// EmbedScript renders snap as an inline script element.
func (c *Client) EmbedScript(snap Snapshot) (string, error) {
	return c.bridge.EmbedScript(c.cfg.ScriptID, snap)
}

// ExtractScript reads the snapshot embedded in doc. A missing or unreadable
// script yields an empty snapshot together with the error, so callers can
// log and continue with a cold store.
func (c *Client) ExtractScript(doc string) (Snapshot, error) {
	snap, err := c.bridge.ExtractScript(doc, c.cfg.ScriptID)
	if err != nil {
		return emptySnapshot(), err
	}
	return snap, nil
}

// SaveSnapshot stores snap in Redis under renderID for SnapshotTTL.
func (c *Client) SaveSnapshot(ctx context.Context, renderID string, snap Snapshot) error {
	if c.snapshots == nil {
		return ErrTransportDisabled
	}
	data, err := c.Encode(snap)
	if err != nil {
		return err
	}
	return c.snapshots.Save(ctx, renderID, data, c.cfg.SnapshotTTL)
}

// TakeSnapshot loads and deletes the snapshot stored under renderID. Like
// ExtractScript it returns an empty snapshot alongside any error.
func (c *Client) TakeSnapshot(ctx context.Context, renderID string) (Snapshot, error) {
	if c.snapshots == nil {
		return emptySnapshot(), ErrTransportDisabled
	}
	data, err := c.snapshots.Take(ctx, renderID)
	if err != nil {
		return emptySnapshot(), err
	}
	snap, err := c.Decode(data)
	if err != nil {
		return emptySnapshot(), err
	}
	return snap, nil
}

// Close releases the Redis connection. Stores are closed by their owners.
func (c *Client) Close() error {
	if c.redis == nil {
		return nil
	}
	err := c.redis.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func emptySnapshot() Snapshot {
	return types.Snapshot{Version: types.SnapshotVersion, Entries: []types.Entry{}}
}
