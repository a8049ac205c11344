package query

import "sort"

// Permission is an opaque capability flag granted to the current session.
type Permission string

// PermissionSet is a set of granted permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from flags.
func NewPermissionSet(flags ...Permission) PermissionSet {
	set := make(PermissionSet, len(flags))
	for _, f := range flags {
		set[f] = struct{}{}
	}
	return set
}

// Has reports whether p is granted. The empty permission is always granted.
func (s PermissionSet) Has(p Permission) bool {
	if p == "" {
		return true
	}
	_, ok := s[p]
	return ok
}

// Sorted returns the flags in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Permissions reports the permissions of the current session.
type Permissions interface {
	CurrentPermissions() PermissionSet
}

// PermissionsFunc adapts a function to Permissions.
type PermissionsFunc func() PermissionSet

// CurrentPermissions implements Permissions.
func (f PermissionsFunc) CurrentPermissions() PermissionSet {
	return f()
}

// StaticPermissions is a fixed permission set.
type StaticPermissions PermissionSet

// CurrentPermissions implements Permissions.
func (s StaticPermissions) CurrentPermissions() PermissionSet {
	return PermissionSet(s)
}
