package prefetch

import (
	"errors"
	"fmt"

	"github.com/huykn/hydration-cache/keys"
	"github.com/huykn/hydration-cache/types"
)

// ErrTimeout matches any FetchError of kind timeout.
var ErrTimeout = errors.New("prefetch: fetch timed out")

// FetchError is an upstream failure recorded on an entry. It is never
// returned by Execute; consumers obtain it from an error entry via EntryError.
type FetchError struct {
	Key        keys.Key
	Kind       types.ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %s", e.Key, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s: %s", e.Key, e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports timeouts as ErrTimeout.
func (e *FetchError) Is(target error) bool {
	return target == ErrTimeout && e.Kind == types.KindTimeout
}

// Info returns the wire form stored on the entry.
func (e *FetchError) Info() *types.ErrorInfo {
	return &types.ErrorInfo{Kind: e.Kind, StatusCode: e.StatusCode, Message: e.Message}
}

// EntryError returns the failure recorded on an error entry, or nil.
func EntryError(e types.Entry) error {
	if e.Status != types.StatusError {
		return nil
	}
	fe := &FetchError{Key: e.Key, Kind: types.KindFetch}
	if e.Error != nil {
		fe.Kind = e.Error.Kind
		fe.StatusCode = e.Error.StatusCode
		fe.Message = e.Error.Message
	}
	return fe
}
