// Package query turns declarative carousel configuration into query
// descriptors: a cache key plus a deferred fetch. Resolution never touches
// the network, so the same configuration can be executed on the producer for
// the first tabs and on the consumer for the rest.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huykn/hydration-cache/keys"
	"github.com/huykn/hydration-cache/params"
)

// ErrNoDomain is returned when a Resolver has no cache domain configured.
var ErrNoDomain = errors.New("query: resolver domain is required")

// CarouselConfig declares one carousel or tab and the query behind it.
type CarouselConfig struct {
	Label        string
	ResourceKind string
	Params       params.Params

	// Requires gates the carousel behind a permission. Empty means public.
	Requires Permission

	// StaleAfter bounds how long a settled entry is reused. Zero means the
	// entry never goes stale within a store's lifetime.
	StaleAfter time.Duration
}

// Request is what a DataSource receives for one fetch.
type Request struct {
	ResourceKind string
	Params       params.Normalized
}

// DataSource performs the actual upstream request.
type DataSource interface {
	Fetch(ctx context.Context, req Request) (any, error)
}

// DataSourceFunc adapts a function to DataSource.
type DataSourceFunc func(ctx context.Context, req Request) (any, error)

// Fetch implements DataSource.
func (f DataSourceFunc) Fetch(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// FetchFunc loads the payload for a single descriptor.
type FetchFunc func(ctx context.Context) (any, error)

// Descriptor is a resolved query. It is immutable once built.
type Descriptor struct {
	Label      string
	Key        keys.Key
	Params     params.Normalized
	StaleAfter time.Duration
	Fetch      FetchFunc
}

// Resolver resolves carousel configuration for one cache domain.
type Resolver struct {
	// Domain is the first key segment of every resolved descriptor.
	Domain string

	// Source backs the Fetch of every resolved descriptor.
	Source DataSource

	// Permissions gates configs with Requires set. Nil means no permissions.
	Permissions Permissions
}

// NewResolver creates a Resolver.
func NewResolver(domain string, source DataSource, perms Permissions) *Resolver {
	return &Resolver{Domain: domain, Source: source, Permissions: perms}
}

// Resolve maps configs to descriptors in input order. Configs whose required
// permission is missing are omitted. An invalid parameter fails the whole
// resolution and names the offending label.
func (r *Resolver) Resolve(configs []CarouselConfig) ([]Descriptor, error) {
	if r.Domain == "" {
		return nil, ErrNoDomain
	}

	granted := PermissionSet(nil)
	if r.Permissions != nil {
		granted = r.Permissions.CurrentPermissions()
	}

	out := make([]Descriptor, 0, len(configs))
	for _, cfg := range configs {
		if !granted.Has(cfg.Requires) {
			continue
		}
		d, err := r.resolveOne(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Resolver) resolveOne(cfg CarouselConfig) (Descriptor, error) {
	normalized, err := params.Normalize(cfg.Params)
	if err != nil {
		return Descriptor{}, fmt.Errorf("carousel %q: %w", cfg.Label, err)
	}

	if cfg.ResourceKind == "" {
		return Descriptor{}, fmt.Errorf("carousel %q: %w: resource kind is required", cfg.Label, keys.ErrInvalidKey)
	}

	key := keys.FromNormalized(r.Domain, cfg.ResourceKind, normalized)
	if cfg.Params == nil {
		key = keys.Prefix(r.Domain, cfg.ResourceKind)
	}

	return Descriptor{
		Label:      cfg.Label,
		Key:        key,
		Params:     normalized,
		StaleAfter: cfg.StaleAfter,
		Fetch:      r.fetchFunc(cfg.ResourceKind, normalized),
	}, nil
}

func (r *Resolver) fetchFunc(kind string, p params.Normalized) FetchFunc {
	source := r.Source
	req := Request{ResourceKind: kind, Params: p}
	return func(ctx context.Context) (any, error) {
		if source == nil {
			return nil, fmt.Errorf("query: no data source for %q", kind)
		}
		return source.Fetch(ctx, req)
	}
}

// Partition splits descs into the first n, prefetched by the producer, and
// the rest, deferred to the consumer. n is clamped to [0, len(descs)].
func Partition(descs []Descriptor, n int) (prefetched, deferred []Descriptor) {
	if n < 0 {
		n = 0
	}
	if n > len(descs) {
		n = len(descs)
	}
	return descs[:n:n], descs[n:]
}
