// Package hydration moves a producer's cache store into a consumer's store.
// Dehydrate captures settled entries as a plain JSON snapshot and Hydrate
// merges a snapshot into a fresh store before its first read.
package hydration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/huykn/hydration-cache/cache"
	"github.com/huykn/hydration-cache/keys"
	"github.com/huykn/hydration-cache/metrics"
	"github.com/huykn/hydration-cache/types"
)

// ShapeCheck validates the payload stored under a key prefix.
type ShapeCheck func(data json.RawMessage) error

type expectation struct {
	prefix keys.Key
	check  ShapeCheck
}

// Options configures a Bridge.
type Options struct {
	Policy Policy

	// Marshaller encodes snapshots. Defaults to JSON.
	Marshaller cache.Marshaller

	// Logger receives conflict warnings, and debug detail in DebugMode.
	Logger    cache.Logger
	DebugMode bool

	// OnError is called for every dropped entry.
	OnError func(error)

	// Recorder receives hydration metrics. Optional.
	Recorder *metrics.Recorder
}

// Report summarizes one Hydrate call.
type Report struct {
	Adopted   int
	Skipped   int
	Conflicts []*HydrationConflictError
}

// Bridge dehydrates and hydrates stores under a Policy.
type Bridge struct {
	opts Options

	mu           sync.RWMutex
	expectations []expectation
}

// NewBridge creates a Bridge.
func NewBridge(opts Options) *Bridge {
	if opts.Marshaller == nil {
		opts.Marshaller = cache.NewJSONMarshaller()
	}
	if opts.Logger == nil {
		opts.Logger = cache.NewNoOpLogger()
	}
	return &Bridge{opts: opts}
}

// Expect registers a shape check for every key under prefix. Hydrated
// entries failing it are dropped as conflicts.
func (b *Bridge) Expect(prefix keys.Key, check ShapeCheck) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expectations = append(b.expectations, expectation{prefix: prefix, check: check})
}

// Dehydrate snapshots every entry of store the policy permits, ordered by
// key encoding. Pending entries are never included.
func (b *Bridge) Dehydrate(store *cache.Store) types.Snapshot {
	snap := types.Snapshot{Version: types.SnapshotVersion, Entries: []types.Entry{}}
	for _, e := range store.Entries() {
		if !b.opts.Policy.Permits(e) {
			if b.opts.DebugMode {
				b.opts.Logger.Debug("Dehydrate: excluded entry", "key", e.Key.String(), "status", e.Status)
			}
			continue
		}
		snap.Entries = append(snap.Entries, e)
	}

	b.opts.Recorder.ObserveDehydrate(len(snap.Entries))
	if b.opts.DebugMode {
		b.opts.Logger.Debug("Dehydrate: snapshot ready", "entries", len(snap.Entries))
	}
	return snap
}

// Hydrate merges snap into store. An entry is adopted only if store holds
// nothing at least as fresh, so hydrating the same snapshot twice is a no-op.
// Malformed or unexpected entries are reported and dropped; Hydrate never
// fails as a whole.
func (b *Bridge) Hydrate(snap types.Snapshot, store *cache.Store) Report {
	var report Report

	if snap.Version != types.SnapshotVersion {
		b.conflict(&report, &HydrationConflictError{
			Reason: fmt.Sprintf("snapshot version %d", snap.Version),
			Err:    ErrUnsupportedVersion,
		})
		b.finish(report)
		return report
	}

	for _, e := range snap.Entries {
		if c := b.validate(e); c != nil {
			b.conflict(&report, c)
			continue
		}
		if !b.opts.Policy.Permits(e) {
			report.Skipped++
			if b.opts.DebugMode {
				b.opts.Logger.Debug("Hydrate: entry denied by policy", "key", e.Key.String())
			}
			continue
		}
		if store.Put(e) {
			report.Adopted++
		} else {
			report.Skipped++
		}
	}

	b.finish(report)
	return report
}

func (b *Bridge) finish(report Report) {
	b.opts.Recorder.ObserveHydrate(report.Adopted, report.Skipped, len(report.Conflicts))
	if b.opts.DebugMode {
		b.opts.Logger.Debug("Hydrate: done", "adopted", report.Adopted, "skipped", report.Skipped, "conflicts", len(report.Conflicts))
	}
}

func (b *Bridge) conflict(report *Report, c *HydrationConflictError) {
	report.Conflicts = append(report.Conflicts, c)
	b.opts.Logger.Warn("Hydrate: dropped entry", "key", c.Key.String(), "reason", c.Reason)
	if b.opts.OnError != nil {
		b.opts.OnError(c)
	}
}

func (b *Bridge) validate(e types.Entry) *HydrationConflictError {
	if e.Key.IsZero() {
		return &HydrationConflictError{Reason: "missing key"}
	}

	switch e.Status {
	case types.StatusSuccess:
		if len(e.Data) == 0 {
			return &HydrationConflictError{Key: e.Key, Reason: "success entry without data"}
		}
		if !json.Valid(e.Data) {
			return &HydrationConflictError{Key: e.Key, Reason: "data is not valid JSON"}
		}
	case types.StatusError:
		if e.Error == nil {
			return &HydrationConflictError{Key: e.Key, Reason: "error entry without error info"}
		}
		return nil
	case types.StatusPending:
		return &HydrationConflictError{Key: e.Key, Reason: "pending entry"}
	default:
		return &HydrationConflictError{Key: e.Key, Reason: fmt.Sprintf("unknown status %q", e.Status)}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, exp := range b.expectations {
		if !keys.IsPrefixOf(exp.prefix, e.Key) {
			continue
		}
		if err := exp.check(e.Data); err != nil {
			return &HydrationConflictError{Key: e.Key, Reason: "shape mismatch", Err: err}
		}
	}
	return nil
}

// Encode serializes snap.
func (b *Bridge) Encode(snap types.Snapshot) ([]byte, error) {
	data, err := b.opts.Marshaller.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot and rejects unsupported versions.
func (b *Bridge) Decode(data []byte) (types.Snapshot, error) {
	var snap types.Snapshot
	if err := b.opts.Marshaller.Unmarshal(data, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != types.SnapshotVersion {
		return types.Snapshot{}, fmt.Errorf("decode snapshot: version %d: %w", snap.Version, ErrUnsupportedVersion)
	}
	return snap, nil
}

// EmbedScript renders snap as an inline JSON script element that is safe to
// place in an HTML document.
func (b *Bridge) EmbedScript(id string, snap types.Snapshot) (string, error) {
	data, err := b.Encode(snap)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteString(scriptOpen(id))
	json.HTMLEscape(&buf, data)
	buf.WriteString(scriptClose)
	return buf.String(), nil
}

// ExtractScript finds the script rendered by EmbedScript in doc and decodes
// its snapshot.
func (b *Bridge) ExtractScript(doc, id string) (types.Snapshot, error) {
	open := scriptOpen(id)
	start := strings.Index(doc, open)
	if start < 0 {
		return types.Snapshot{}, fmt.Errorf("%w: %q", ErrScriptNotFound, id)
	}
	body := doc[start+len(open):]
	end := strings.Index(body, scriptClose)
	if end < 0 {
		return types.Snapshot{}, fmt.Errorf("%w: %q is not terminated", ErrScriptNotFound, id)
	}
	return b.Decode([]byte(body[:end]))
}

const scriptClose = `</script>`

func scriptOpen(id string) string {
	return `<script id="` + html.EscapeString(id) + `" type="application/json">`
}
