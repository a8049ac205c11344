package params

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Normalized is the canonical, immutable encoding of a Params object.
// Two Normalized values are equal iff their canonical encodings are equal.
type Normalized struct {
	canonical string
}

// Parse rebuilds a Normalized from JSON received over the wire. The input is
// re-canonicalized, so whitespace, key order and number spelling do not matter.
func Parse(data []byte) (Normalized, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Normalized{}, &InvalidParamError{Reason: "normalized params must be a JSON object"}
	}
	canonical, err := jsoncanonicalizer.Transform(data)
	if err != nil {
		return Normalized{}, &InvalidParamError{Reason: fmt.Sprintf("canonicalize: %v", err)}
	}
	return Normalized{canonical: string(canonical)}, nil
}

// Canonical returns the RFC 8785 JSON encoding.
func (n Normalized) Canonical() string {
	return n.canonical
}

// IsZero reports whether n was never produced by Normalize or Parse.
func (n Normalized) IsZero() bool {
	return n.canonical == ""
}

// Equal reports structural equality.
func (n Normalized) Equal(other Normalized) bool {
	return n.canonical == other.canonical
}

// Value decodes the canonical form into a fresh map. Callers may mutate the
// result without affecting n.
func (n Normalized) Value() map[string]any {
	if n.canonical == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(n.canonical), &out); err != nil {
		return nil
	}
	return out
}

func (n Normalized) String() string {
	return n.canonical
}

// MarshalJSON emits the canonical encoding verbatim.
func (n Normalized) MarshalJSON() ([]byte, error) {
	if n.canonical == "" {
		return []byte("null"), nil
	}
	return []byte(n.canonical), nil
}

// UnmarshalJSON re-canonicalizes the incoming object.
func (n *Normalized) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*n = Normalized{}
		return nil
	}
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
