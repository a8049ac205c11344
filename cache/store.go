package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huykn/hydration-cache/keys"
	"github.com/huykn/hydration-cache/types"
)

const subscribeTimeout = 5 * time.Second

// record is the value held by the local cache.
type record struct {
	key   string
	entry types.Entry
}

// CacheKey implements keyed.
func (r *record) CacheKey() string {
	return r.key
}

// Store is an owned query cache. Each render cycle (producer side) or
// application session (consumer side) creates its own Store and passes it
// explicitly down the call chain; stores are never shared between the two
// sides.
//
// All mutations go through a single serialized path guarded by mu, so the
// insert-if-absent-or-fresher check and the write happen atomically even when
// prefetches settle on different goroutines.
type Store struct {
	local        LocalCache
	synchronizer Synchronizer
	logger       Logger
	options      Options

	mu     sync.Mutex
	closed int32

	hits          int64
	misses        int64
	inserts       int64
	staleWrites   int64
	invalidations int64
}

// NewStore creates a new Store instance.
func NewStore(opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Set defaults for optional fields
	if opts.LocalCacheFactory == nil {
		opts.LocalCacheFactory = NewLRUCacheFactory(opts.LocalCacheConfig.MaxSize)
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	local, err := opts.LocalCacheFactory.Create()
	if err != nil {
		return nil, err
	}

	s := &Store{
		local:        local,
		synchronizer: opts.Synchronizer,
		logger:       opts.Logger,
		options:      opts,
	}

	if s.synchronizer != nil {
		// The handler must be in place before the listener starts.
		s.synchronizer.OnInvalidate(s.handleInvalidation)

		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		defer cancel()

		if err := s.synchronizer.Subscribe(ctx); err != nil {
			local.Close()
			return nil, err
		}
	}

	return s, nil
}

// Get returns a copy of the entry stored under k. Pending entries are
// returned too; callers check Status.
func (s *Store) Get(k keys.Key) (types.Entry, bool) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return types.Entry{}, false
	}

	rec, ok := s.lookup(k.String())
	if !ok || !rec.entry.Status.Settled() {
		atomic.AddInt64(&s.misses, 1)
		if s.options.DebugMode {
			s.logger.Debug("Get: miss", "key", k.String(), "pending", ok)
		}
		if ok {
			return rec.entry.Clone(), true
		}
		return types.Entry{}, false
	}

	atomic.AddInt64(&s.hits, 1)
	if s.options.DebugMode {
		s.logger.Debug("Get: hit", "key", k.String(), "status", rec.entry.Status)
	}
	return rec.entry.Clone(), true
}

// Peek is like Get but leaves the hit and miss counters untouched.
func (s *Store) Peek(k keys.Key) (types.Entry, bool) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return types.Entry{}, false
	}
	rec, ok := s.lookup(k.String())
	if !ok {
		return types.Entry{}, false
	}
	return rec.entry.Clone(), true
}

func (s *Store) lookup(id string) (*record, bool) {
	value, found := s.local.Get(id)
	if !found {
		return nil, false
	}
	rec, ok := value.(*record)
	return rec, ok
}

// Put inserts e unless the store already holds an entry that is at least as
// fresh. It is the single write path shared by prefetch, lazy queries and
// hydration. It reports whether e was stored.
func (s *Store) Put(e types.Entry) bool {
	if atomic.LoadInt32(&s.closed) != 0 || e.Key.IsZero() {
		return false
	}

	id := e.Key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.lookup(id); ok && !e.FresherThan(current.entry) {
		atomic.AddInt64(&s.staleWrites, 1)
		if s.options.DebugMode {
			s.logger.Debug("Put: kept fresher entry", "key", id, "current", current.entry.FetchedAt, "incoming", e.FetchedAt)
		}
		return false
	}

	return s.write(id, e.Clone())
}

// MarkPending records a pending placeholder for k if nothing is stored under
// it yet. It reports whether the placeholder was created.
func (s *Store) MarkPending(k keys.Key, at time.Time) bool {
	if atomic.LoadInt32(&s.closed) != 0 || k.IsZero() {
		return false
	}

	id := k.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(id); ok {
		return false
	}
	return s.write(id, types.Entry{Key: k, Status: types.StatusPending, FetchedAt: at})
}

// Abandon removes the entry under k if it is still pending. It is used when a
// fetch is cancelled, so a cancelled fetch leaves no trace.
func (s *Store) Abandon(k keys.Key) bool {
	id := k.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(id)
	if !ok || rec.entry.Status != types.StatusPending {
		return false
	}
	s.local.Delete(id)
	if s.options.DebugMode {
		s.logger.Debug("Abandon: removed pending entry", "key", id)
	}
	return true
}

func (s *Store) write(id string, e types.Entry) bool {
	if !s.local.Set(id, &record{key: id, entry: e}, 1) {
		if s.options.DebugMode {
			s.logger.Warn("Put: local cache rejected entry", "key", id)
		}
		return false
	}
	if e.Status.Settled() {
		atomic.AddInt64(&s.inserts, 1)
	}
	if s.options.DebugMode {
		s.logger.Debug("Put: stored entry", "key", id, "status", e.Status)
	}
	return true
}

// Entries returns copies of every entry, ordered by key encoding.
func (s *Store) Entries() []types.Entry {
	if atomic.LoadInt32(&s.closed) != 0 {
		return nil
	}

	ids := s.local.Keys()
	sort.Strings(ids)

	out := make([]types.Entry, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.lookup(id); ok {
			out = append(out, rec.entry.Clone())
		}
	}
	return out
}

// Len returns the number of entries, pending included.
func (s *Store) Len() int {
	return int(s.local.Metrics().Size)
}

// Invalidate removes the entry stored under k and notifies peers.
func (s *Store) Invalidate(ctx context.Context, k keys.Key) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrStoreClosed
	}
	s.removeMatching(k, false)
	return s.publish(ctx, types.InvalidationEvent{Key: k, Action: types.Invalidate})
}

// InvalidatePrefix removes every entry whose key extends prefix, e.g. every
// query of a resource kind, and notifies peers. It returns the number of
// removed entries.
func (s *Store) InvalidatePrefix(ctx context.Context, prefix keys.Key) (int, error) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return 0, ErrStoreClosed
	}
	n := s.removeMatching(prefix, true)
	return n, s.publish(ctx, types.InvalidationEvent{Key: prefix, Action: types.InvalidatePrefix})
}

// Clear removes every entry and notifies peers.
func (s *Store) Clear(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrStoreClosed
	}
	s.mu.Lock()
	s.local.Clear()
	s.mu.Unlock()
	atomic.AddInt64(&s.invalidations, 1)
	return s.publish(ctx, types.InvalidationEvent{Action: types.Clear})
}

func (s *Store) removeMatching(k keys.Key, prefix bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if !prefix {
		if _, ok := s.lookup(k.String()); ok {
			s.local.Delete(k.String())
			removed = 1
		}
	} else {
		for _, id := range s.local.Keys() {
			rec, ok := s.lookup(id)
			if !ok || !keys.IsPrefixOf(k, rec.entry.Key) {
				continue
			}
			s.local.Delete(id)
			removed++
		}
	}

	atomic.AddInt64(&s.invalidations, int64(removed))
	if s.options.DebugMode {
		s.logger.Debug("Invalidate: removed entries", "key", k.String(), "prefix", prefix, "removed", removed)
	}
	return removed
}

func (s *Store) publish(ctx context.Context, event types.InvalidationEvent) error {
	if s.synchronizer == nil {
		return nil
	}
	event.Sender = s.options.InstanceID
	if err := s.synchronizer.Publish(ctx, event); err != nil {
		if s.options.OnError != nil {
			s.options.OnError(err)
		}
		if s.options.DebugMode {
			s.logger.Warn("Invalidate: failed to publish event", "key", event.Key.String(), "action", event.Action, "error", err)
		}
		return err
	}
	return nil
}

// handleInvalidation applies an invalidation event received from a peer.
func (s *Store) handleInvalidation(event types.InvalidationEvent) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return
	}
	if s.options.DebugMode {
		s.logger.Info("Received invalidation event", "action", event.Action, "key", event.Key.String(), "sender", event.Sender)
	}

	switch event.Action {
	case types.Invalidate:
		s.removeMatching(event.Key, false)
	case types.InvalidatePrefix:
		s.removeMatching(event.Key, true)
	case types.Clear:
		s.mu.Lock()
		s.local.Clear()
		s.mu.Unlock()
		atomic.AddInt64(&s.invalidations, 1)
	default:
		if s.options.DebugMode {
			s.logger.Warn("Sync: unknown action", "action", event.Action, "key", event.Key.String(), "sender", event.Sender)
		}
	}
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	local := s.local.Metrics()
	return Stats{
		Hits:          atomic.LoadInt64(&s.hits),
		Misses:        atomic.LoadInt64(&s.misses),
		Inserts:       atomic.LoadInt64(&s.inserts),
		StaleWrites:   atomic.LoadInt64(&s.staleWrites),
		Invalidations: atomic.LoadInt64(&s.invalidations),
		Evictions:     local.Evictions,
		Size:          local.Size,
	}
}

// Close tears the store down. Entries are discarded.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	var err error
	if s.synchronizer != nil {
		err = s.synchronizer.Close()
	}
	s.local.Close()
	return err
}
