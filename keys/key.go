// Package keys builds hierarchical cache keys of the form
// [domain, resourceKind, normalizedParams].
//
// Keys compare structurally: two keys built from semantically equal params are
// Equal and share the same String encoding, and a shorter key is a logical
// ancestor (IsPrefixOf) of every key that extends it.
package keys

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/huykn/hydration-cache/params"
)

// ErrInvalidKey is returned when a key cannot be built or decoded.
var ErrInvalidKey = errors.New("invalid cache key")

// Key is an immutable ordered sequence of segments.
type Key struct {
	segments []string
	params   params.Normalized
	encoded  string
}

// Make builds a full key. When p is nil the params segment is omitted, which
// yields the broader [domain, resourceKind] key used for bulk invalidation.
func Make(domain, resourceKind string, p params.Params) (Key, error) {
	if domain == "" || resourceKind == "" {
		return Key{}, fmt.Errorf("%w: domain and resource kind are required", ErrInvalidKey)
	}
	if p == nil {
		return build([]string{domain, resourceKind}, params.Normalized{}), nil
	}
	normalized, err := params.Normalize(p)
	if err != nil {
		return Key{}, err
	}
	return build([]string{domain, resourceKind, normalized.Canonical()}, normalized), nil
}

// MustMake is like Make but panics on error. Intended for package-level keys
// built from literal params.
func MustMake(domain, resourceKind string, p params.Params) Key {
	k, err := Make(domain, resourceKind, p)
	if err != nil {
		panic(err)
	}
	return k
}

// FromNormalized builds a full key from already normalized params.
func FromNormalized(domain, resourceKind string, n params.Normalized) Key {
	if n.IsZero() {
		return build([]string{domain, resourceKind}, n)
	}
	return build([]string{domain, resourceKind, n.Canonical()}, n)
}

// Prefix builds an ancestor key from a domain and an optional resource kind.
func Prefix(domain string, resourceKind ...string) Key {
	segments := []string{domain}
	if len(resourceKind) > 0 && resourceKind[0] != "" {
		segments = append(segments, resourceKind[0])
	}
	return build(segments, params.Normalized{})
}

func build(segments []string, n params.Normalized) Key {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, seg := range segments {
		if i > 0 {
			buf.WriteByte(',')
		}
		if i == 2 {
			buf.WriteString(seg)
			continue
		}
		buf.WriteString(quote(seg))
	}
	buf.WriteByte(']')
	return Key{segments: segments, params: n, encoded: buf.String()}
}

func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// Domain returns the first segment.
func (k Key) Domain() string {
	if len(k.segments) == 0 {
		return ""
	}
	return k.segments[0]
}

// ResourceKind returns the second segment, or "" for domain-only keys.
func (k Key) ResourceKind() string {
	if len(k.segments) < 2 {
		return ""
	}
	return k.segments[1]
}

// Params returns the normalized params segment, if present.
func (k Key) Params() (params.Normalized, bool) {
	if len(k.segments) < 3 {
		return params.Normalized{}, false
	}
	return k.params, true
}

// Len returns the number of segments.
func (k Key) Len() int {
	return len(k.segments)
}

// IsZero reports whether k has no segments.
func (k Key) IsZero() bool {
	return len(k.segments) == 0
}

// Equal reports structural equality over the segment sequence.
func (k Key) Equal(other Key) bool {
	return k.encoded == other.encoded
}

// String returns the canonical JSON array encoding. Equal keys always have
// equal strings, so the result is safe to use as a map key.
func (k Key) String() string {
	return k.encoded
}

// IsPrefixOf reports whether a's segments are a leading subsequence of b's.
func IsPrefixOf(a, b Key) bool {
	if len(a.segments) > len(b.segments) {
		return false
	}
	for i, seg := range a.segments {
		if b.segments[i] != seg {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the key as a JSON array.
func (k Key) MarshalJSON() ([]byte, error) {
	if k.IsZero() {
		return []byte("[]"), nil
	}
	return []byte(k.encoded), nil
}

// UnmarshalJSON decodes a JSON array produced by MarshalJSON. The params
// segment is re-canonicalized, so keys stay equal across a JSON round trip
// even if an intermediary reformatted the document.
func (k *Key) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "[]", "null":
		*k = Key{}
		return nil
	}
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Parse decodes the String/MarshalJSON form of a key.
func Parse(data []byte) (Key, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) == 0 || len(raw) > 3 {
		return Key{}, fmt.Errorf("%w: expected 1 to 3 segments, got %d", ErrInvalidKey, len(raw))
	}

	segments := make([]string, 0, len(raw))
	for i := 0; i < len(raw) && i < 2; i++ {
		var seg string
		if err := json.Unmarshal(raw[i], &seg); err != nil || seg == "" {
			return Key{}, fmt.Errorf("%w: segment %d must be a non-empty string", ErrInvalidKey, i)
		}
		segments = append(segments, seg)
	}

	if len(raw) < 3 {
		return build(segments, params.Normalized{}), nil
	}

	n, err := params.Parse(raw[2])
	if err != nil {
		return Key{}, fmt.Errorf("%w: params segment: %v", ErrInvalidKey, err)
	}
	return build(append(segments, n.Canonical()), n), nil
}
