// Package types holds the wire types shared by the store, the bridge and the
// synchronization layer.
package types

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/huykn/hydration-cache/keys"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Settled reports whether s is a terminal state.
func (s Status) Settled() bool {
	return s == StatusSuccess || s == StatusError
}

// ErrorKind classifies a recorded fetch failure.
type ErrorKind string

const (
	// KindFetch is a generic data source failure.
	KindFetch ErrorKind = "fetch"
	// KindUpstream is a failure carrying an upstream status code.
	KindUpstream ErrorKind = "upstream"
	// KindTimeout is a fetch that exceeded its configured duration.
	KindTimeout ErrorKind = "timeout"
)

// ErrorInfo is the structured, JSON-safe form of a fetch failure.
type ErrorInfo struct {
	Kind       ErrorKind `json:"kind"`
	StatusCode int       `json:"statusCode,omitempty"`
	Message    string    `json:"message"`
}

// Entry is a cached query result. Entries are owned by the store; readers
// receive copies.
type Entry struct {
	Key       keys.Key        `json:"key"`
	Status    Status          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := e
	if e.Data != nil {
		out.Data = bytes.Clone(e.Data)
	}
	if e.Error != nil {
		info := *e.Error
		out.Error = &info
	}
	return out
}

// FresherThan reports whether e should replace other. Pending entries never
// win over settled ones, settled entries always win over pending ones, and
// otherwise the later FetchedAt wins. Equal timestamps are not fresher.
func (e Entry) FresherThan(other Entry) bool {
	if !e.Status.Settled() {
		return false
	}
	if !other.Status.Settled() {
		return true
	}
	return e.FetchedAt.After(other.FetchedAt)
}

// SnapshotVersion is the current Snapshot wire format version.
const SnapshotVersion = 1

// Snapshot is the serializable form of a dehydrated store.
type Snapshot struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Action names a synchronization event.
type Action string

const (
	// Invalidate drops a single key on peers.
	Invalidate Action = "invalidate"
	// InvalidatePrefix drops every key under a prefix on peers.
	InvalidatePrefix Action = "invalidate_prefix"
	// Clear drops every entry on peers.
	Clear Action = "clear"
)

// InvalidationEvent represents a cache synchronization event between stores
// that serve the same domain on different instances.
type InvalidationEvent struct {
	Key    keys.Key `json:"key"`
	Sender string   `json:"sender"`
	Action Action   `json:"action"`
}
