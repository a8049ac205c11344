package params

import (
	"errors"
	"fmt"
)

// ErrInvalidParam is matched by every *InvalidParamError.
var ErrInvalidParam = errors.New("invalid request parameter")

// InvalidParamError reports a parameter value that cannot take part in a cache key.
type InvalidParamError struct {
	// Path locates the value inside the params tree, e.g. "filters.tags[2]".
	Path string
	// Reason describes why the value was rejected.
	Reason string
}

func (e *InvalidParamError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("params: %s", e.Reason)
	}
	return fmt.Sprintf("params: invalid value at %q: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidParam) match.
func (e *InvalidParamError) Unwrap() error {
	return ErrInvalidParam
}

func invalid(path, format string, args ...any) error {
	return &InvalidParamError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
