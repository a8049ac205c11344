// Package settings holds the site-wide settings injected once at boot and
// passed explicitly to the resolver, the executor and the bridge.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Settings is the read-only site configuration.
type Settings struct {
	Site      SiteSettings      `koanf:"site"`
	Upstream  UpstreamSettings  `koanf:"upstream"`
	Prefetch  PrefetchSettings  `koanf:"prefetch"`
	Cache     CacheSettings     `koanf:"cache"`
	Hydration HydrationSettings `koanf:"hydration"`
	Redis     RedisSettings     `koanf:"redis"`
	Logging   LoggingSettings   `koanf:"logging"`
}

// SiteSettings identifies the cache domain and how many carousels the
// producer renders eagerly.
type SiteSettings struct {
	Domain        string `koanf:"domain"`
	PrefetchCount int    `koanf:"prefetchCount"`
}

// UpstreamSettings points at the JSON API behind the data source.
type UpstreamSettings struct {
	BaseURL string        `koanf:"baseURL"`
	Timeout time.Duration `koanf:"timeout"`
}

// PrefetchSettings bounds the executor.
type PrefetchSettings struct {
	Concurrency  int           `koanf:"concurrency"`
	FetchTimeout time.Duration `koanf:"fetchTimeout"`
}

// CacheSettings selects the store backend.
type CacheSettings struct {
	InstanceID string `koanf:"instanceID"`
	Backend    string `koanf:"backend"`
	MaxSize    int    `koanf:"maxSize"`
}

// HydrationSettings drives the bridge and the snapshot transport.
type HydrationSettings struct {
	Format        string        `koanf:"format"`
	ScriptID      string        `koanf:"scriptID"`
	DenyDomains   []string      `koanf:"denyDomains"`
	IncludeErrors bool          `koanf:"includeErrors"`
	SnapshotTTL   time.Duration `koanf:"snapshotTTL"`
}

// RedisSettings enables the snapshot transport and invalidation fan-out
// when Address is set.
type RedisSettings struct {
	Address   string `koanf:"address"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	Channel   string `koanf:"channel"`
	KeyPrefix string `koanf:"keyPrefix"`
}

// LoggingSettings selects log verbosity and output format.
type LoggingSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Debug  bool   `koanf:"debug"`
}

// Default returns the baseline settings.
func Default() Settings {
	return Settings{
		Site: SiteSettings{
			Domain:        "catalog",
			PrefetchCount: 2,
		},
		Upstream: UpstreamSettings{
			Timeout: 10 * time.Second,
		},
		Prefetch: PrefetchSettings{
			Concurrency:  8,
			FetchTimeout: 5 * time.Second,
		},
		Cache: CacheSettings{
			InstanceID: "default-instance",
			Backend:    "lru",
			MaxSize:    10000,
		},
		Hydration: HydrationSettings{
			Format:      "json",
			ScriptID:    "__HYDRATION_STATE__",
			DenyDomains: []string{"profile"},
			SnapshotTTL: 5 * time.Minute,
		},
		Redis: RedisSettings{
			Channel:   "hydration:invalidate",
			KeyPrefix: "hydration:snapshot:",
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports every invalid field at once.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Site.Domain) == "" {
		errs = append(errs, errors.New("site.domain is required"))
	}
	if s.Site.PrefetchCount < 0 {
		errs = append(errs, errors.New("site.prefetchCount must not be negative"))
	}
	if s.Prefetch.Concurrency <= 0 {
		errs = append(errs, errors.New("prefetch.concurrency must be positive"))
	}
	if s.Prefetch.FetchTimeout < 0 {
		errs = append(errs, errors.New("prefetch.fetchTimeout must not be negative"))
	}
	if s.Cache.InstanceID == "" {
		errs = append(errs, errors.New("cache.instanceID is required"))
	}
	switch s.Cache.Backend {
	case "lru", "lfu":
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be lru or lfu", s.Cache.Backend))
	}
	if s.Cache.MaxSize <= 0 {
		errs = append(errs, errors.New("cache.maxSize must be positive"))
	}
	switch s.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not supported", s.Logging.Level))
	}
	switch s.Logging.Format {
	case "text", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not supported", s.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("settings: %w", errors.Join(errs...))
	}
	return nil
}
