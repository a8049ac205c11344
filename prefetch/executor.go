// Package prefetch executes resolved query descriptors against an owned
// cache store: the producer fans out and joins before serialization, the
// consumer loads lazily on a miss.
package prefetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/huykn/hydration-cache/cache"
	"github.com/huykn/hydration-cache/metrics"
	"github.com/huykn/hydration-cache/query"
	"github.com/huykn/hydration-cache/types"
	"github.com/huykn/hydration-cache/upstream"
)

// DefaultConcurrency bounds parallel fetches when Options.Concurrency is unset.
const DefaultConcurrency = 8

// Options configures an Executor.
type Options struct {
	// Concurrency bounds in-flight fetches per Execute call.
	Concurrency int

	// FetchTimeout bounds each fetch. Zero means no per-fetch deadline.
	FetchTimeout time.Duration

	// Clock stamps FetchedAt and evaluates staleness. Defaults to time.Now.
	Clock func() time.Time

	// Marshaller encodes payloads. Defaults to JSON.
	Marshaller cache.Marshaller

	// Logger is used in DebugMode. Defaults to no-op.
	Logger    cache.Logger
	DebugMode bool

	// Recorder receives fetch and lookup metrics. Optional.
	Recorder *metrics.Recorder
}

// DefaultOptions returns default executor options.
func DefaultOptions() Options {
	return Options{
		Concurrency: DefaultConcurrency,
		Clock:       time.Now,
	}
}

// Executor issues fetches for descriptors and records their outcomes.
type Executor struct {
	opts Options

	mu    sync.Mutex
	calls map[string]*call
}

// call is one lazy fetch shared by every Query waiting on the same key of
// the same store. Its context is detached from the callers and cancelled
// once the last waiter gives up.
type call struct {
	done    chan struct{}
	entry   types.Entry
	err     error
	waiters int
	cancel  context.CancelFunc
}

// NewExecutor creates an Executor.
func NewExecutor(opts Options) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Marshaller == nil {
		opts.Marshaller = cache.NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Executor{opts: opts, calls: make(map[string]*call)}
}

// Execute fetches every descriptor that has no fresh settled entry in store
// and waits for all of them to settle. Fetch failures are recorded as error
// entries and never returned. If ctx is cancelled, fetches still in flight
// leave nothing behind and ctx.Err() is returned.
func (e *Executor) Execute(ctx context.Context, descs []query.Descriptor, store *cache.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := e.opts.Clock()
	work := make([]query.Descriptor, 0, len(descs))
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		id := d.Key.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if current, ok := store.Peek(d.Key); ok && e.fresh(current, d, now) {
			if e.opts.DebugMode {
				e.opts.Logger.Debug("Execute: skipping fresh entry", "key", id, "status", current.Status)
			}
			continue
		}
		work = append(work, d)
	}

	if e.opts.DebugMode {
		e.opts.Logger.Debug("Execute: fanning out", "descriptors", len(descs), "fetches", len(work))
	}

	for _, d := range work {
		store.MarkPending(d.Key, now)
	}

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for _, d := range work {
		g.Go(func() error {
			e.fetch(ctx, d, store)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for _, d := range work {
			store.Abandon(d.Key)
		}
		return err
	}
	return nil
}

// Query returns the entry for d, fetching it once if the store has no fresh
// settled entry. Concurrent queries for the same key share one fetch, and
// each caller stops waiting as soon as its own ctx is done. The shared fetch
// is cancelled, leaving no entry, only when every caller has given up. The
// returned entry may have status error; an error is returned only when ctx
// is done.
func (e *Executor) Query(ctx context.Context, d query.Descriptor, store *cache.Store) (types.Entry, error) {
	kind := d.Key.ResourceKind()
	if current, ok := store.Get(d.Key); ok && e.fresh(current, d, e.opts.Clock()) {
		e.opts.Recorder.ObserveLookup(kind, metrics.LookupHit)
		return current, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Entry{}, err
	}

	id := fmt.Sprintf("%p|%s", store, d.Key)

	e.mu.Lock()
	c, shared := e.calls[id]
	if !shared {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call{done: make(chan struct{}), cancel: cancel}
		e.calls[id] = c
		go e.run(fctx, id, c, d, store)
	}
	c.waiters++
	e.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		e.mu.Lock()
		c.waiters--
		last := c.waiters == 0
		if last {
			c.cancel()
			if e.calls[id] == c {
				delete(e.calls, id)
			}
		}
		e.mu.Unlock()
		if last {
			// The fetch returns promptly once cancelled; wait so its
			// pending placeholder is gone before returning.
			<-c.done
		}
		return types.Entry{}, ctx.Err()
	}

	if c.err != nil {
		return types.Entry{}, c.err
	}
	if shared {
		e.opts.Recorder.ObserveLookup(kind, metrics.LookupShared)
	} else {
		e.opts.Recorder.ObserveLookup(kind, metrics.LookupMiss)
	}
	return c.entry, nil
}

func (e *Executor) run(fctx context.Context, id string, c *call, d query.Descriptor, store *cache.Store) {
	defer close(c.done)
	defer c.cancel()

	store.MarkPending(d.Key, e.opts.Clock())
	e.fetch(fctx, d, store)

	e.mu.Lock()
	if e.calls[id] == c {
		delete(e.calls, id)
	}
	e.mu.Unlock()

	if err := fctx.Err(); err != nil {
		store.Abandon(d.Key)
		c.err = err
		return
	}
	entry, ok := store.Peek(d.Key)
	if !ok || !entry.Status.Settled() {
		c.err = fmt.Errorf("query %s: entry was removed before it settled", d.Key)
		return
	}
	c.entry = entry
}

// fresh reports whether current can be reused for d.
func (e *Executor) fresh(current types.Entry, d query.Descriptor, now time.Time) bool {
	if !current.Status.Settled() {
		return false
	}
	if d.StaleAfter <= 0 {
		return true
	}
	return now.Sub(current.FetchedAt) < d.StaleAfter
}

// fetch runs one descriptor and stores its outcome. Nothing is stored when
// the parent ctx is done.
func (e *Executor) fetch(ctx context.Context, d query.Descriptor, store *cache.Store) {
	if ctx.Err() != nil {
		return
	}

	kind := d.Key.ResourceKind()
	start := e.opts.Clock()

	fctx := ctx
	if e.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()
	}

	value, err := e.invoke(fctx, d)

	elapsed := e.opts.Clock().Sub(start)
	if ctx.Err() != nil {
		e.opts.Recorder.ObserveFetch(kind, metrics.FetchCancelled, elapsed)
		if e.opts.DebugMode {
			e.opts.Logger.Debug("Fetch: cancelled", "key", d.Key.String(), "label", d.Label)
		}
		return
	}

	entry := types.Entry{Key: d.Key, FetchedAt: e.opts.Clock()}
	if err == nil {
		entry.Data, err = e.encode(value)
	}

	if err != nil {
		fe := classify(fctx, d, err)
		entry.Status = types.StatusError
		entry.Error = fe.Info()
		if fe.Kind == types.KindTimeout {
			e.opts.Recorder.ObserveFetch(kind, metrics.FetchTimeout, elapsed)
		} else {
			e.opts.Recorder.ObserveFetch(kind, metrics.FetchError, elapsed)
		}
		if e.opts.DebugMode {
			e.opts.Logger.Warn("Fetch: failed", "key", d.Key.String(), "label", d.Label, "kind", fe.Kind, "error", err)
		}
	} else {
		entry.Status = types.StatusSuccess
		e.opts.Recorder.ObserveFetch(kind, metrics.FetchSuccess, elapsed)
		if e.opts.DebugMode {
			e.opts.Logger.Debug("Fetch: stored payload", "key", d.Key.String(), "label", d.Label, "bytes", len(entry.Data), "duration", elapsed)
		}
	}

	store.Put(entry)
}

type outcome struct {
	value any
	err   error
}

// invoke runs d.Fetch and gives up as soon as fctx is done, so a fetch that
// ignores its context cannot hold the join past its deadline. A result that
// arrives after the deadline counts as a timeout.
func (e *Executor) invoke(fctx context.Context, d query.Descriptor) (any, error) {
	if d.Fetch == nil {
		return nil, errors.New("descriptor has no fetch function")
	}

	results := make(chan outcome, 1)
	go func() {
		value, err := d.Fetch(fctx)
		results <- outcome{value: value, err: err}
	}()

	select {
	case r := <-results:
		if r.err == nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return r.value, r.err
	case <-fctx.Done():
		return nil, fctx.Err()
	}
}

// encode marshals a payload once into compact JSON.
func (e *Executor) encode(v any) (json.RawMessage, error) {
	data, err := e.opts.Marshaller.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("encode payload: marshaller produced invalid JSON")
	}
	return json.RawMessage(data), nil
}

func classify(fctx context.Context, d query.Descriptor, err error) *FetchError {
	fe := &FetchError{Key: d.Key, Kind: types.KindFetch, Message: err.Error(), Err: err}

	var se *upstream.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded):
		fe.Kind = types.KindTimeout
	case errors.As(err, &se):
		fe.Kind = types.KindUpstream
		fe.StatusCode = se.StatusCode
	}
	return fe
}
