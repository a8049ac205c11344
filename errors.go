package hydrationcache

import (
	"errors"

	"github.com/huykn/hydration-cache/cache"
	"github.com/huykn/hydration-cache/hydration"
	"github.com/huykn/hydration-cache/keys"
	"github.com/huykn/hydration-cache/params"
	"github.com/huykn/hydration-cache/prefetch"
	"github.com/huykn/hydration-cache/storage"
)

// ErrInvalidConfig is returned when the client configuration is invalid.
var ErrInvalidConfig = errors.New("invalid hydration cache configuration")

// ErrStoreClosed is returned when operations are performed on a closed store.
var ErrStoreClosed = cache.ErrStoreClosed

// ErrInvalidParam is returned for request parameters that cannot be normalized.
var ErrInvalidParam = params.ErrInvalidParam

// ErrInvalidKey is returned when a cache key cannot be built or decoded.
var ErrInvalidKey = keys.ErrInvalidKey

// ErrTimeout matches fetch errors recorded for timed out fetches.
var ErrTimeout = prefetch.ErrTimeout

// ErrConflict matches snapshot entries dropped during hydration.
var ErrConflict = hydration.ErrConflict

// ErrUnsupportedVersion is returned for snapshots of an unknown version.
var ErrUnsupportedVersion = hydration.ErrUnsupportedVersion

// ErrSnapshotNotFound is returned when no snapshot is stored under a render id.
var ErrSnapshotNotFound = storage.ErrNotFound

// ErrTransportDisabled is returned by snapshot transport calls when no Redis
// address is configured.
var ErrTransportDisabled = errors.New("snapshot transport is not configured")

// ErrRedisConnection is returned when Redis connection fails.
var ErrRedisConnection = errors.New("redis connection failed")
