package hydration

import (
	"errors"
	"fmt"

	"github.com/huykn/hydration-cache/keys"
)

var (
	// ErrConflict matches every HydrationConflictError.
	ErrConflict = errors.New("hydration conflict")

	// ErrUnsupportedVersion is returned when a snapshot was written by an
	// incompatible producer.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrScriptNotFound is returned when a document carries no snapshot
	// script with the requested id.
	ErrScriptNotFound = errors.New("snapshot script not found")
)

// HydrationConflictError describes a snapshot entry that was dropped during
// hydration.
type HydrationConflictError struct {
	Key    keys.Key
	Reason string
	Err    error
}

func (e *HydrationConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hydration conflict on %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("hydration conflict on %s: %s", e.Key, e.Reason)
}

func (e *HydrationConflictError) Unwrap() error {
	return e.Err
}

// Is matches ErrConflict.
func (e *HydrationConflictError) Is(target error) bool {
	return target == ErrConflict
}
