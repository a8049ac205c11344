package hydration

import (
	"slices"

	"github.com/huykn/hydration-cache/keys"
	"github.com/huykn/hydration-cache/types"
)

// Policy decides which entries may cross from producer to consumer. Denials
// win over Allow.
type Policy struct {
	// DenyDomains excludes every key whose first segment is listed, e.g.
	// user-scoped "profile" data.
	DenyDomains []string

	// DenyPrefixes excludes every key extending one of the prefixes.
	DenyPrefixes []keys.Key

	// Allow, when set, must accept an entry for it to be included.
	Allow func(types.Entry) bool

	// IncludeErrors ships error entries so the consumer does not retry a
	// failure the producer already observed.
	IncludeErrors bool
}

// Permits reports whether e may be included in a snapshot.
func (p Policy) Permits(e types.Entry) bool {
	switch e.Status {
	case types.StatusSuccess:
	case types.StatusError:
		if !p.IncludeErrors {
			return false
		}
	default:
		return false
	}

	if slices.Contains(p.DenyDomains, e.Key.Domain()) {
		return false
	}
	for _, prefix := range p.DenyPrefixes {
		if keys.IsPrefixOf(prefix, e.Key) {
			return false
		}
	}
	if p.Allow != nil && !p.Allow(e) {
		return false
	}
	return true
}
