package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader builds Settings with env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a loader. Files are applied in order; an empty
// envPrefix disables environment overrides.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{envPrefix: envPrefix, files: files}
}

// canonical maps lower-cased env paths to their camelCase koanf keys.
var canonical = map[string]string{
	"site.prefetchcount":      "site.prefetchCount",
	"upstream.baseurl":        "upstream.baseURL",
	"prefetch.fetchtimeout":   "prefetch.fetchTimeout",
	"cache.instanceid":        "cache.instanceID",
	"cache.maxsize":           "cache.maxSize",
	"hydration.scriptid":      "hydration.scriptID",
	"hydration.denydomains":   "hydration.denyDomains",
	"hydration.includeerrors": "hydration.includeErrors",
	"hydration.snapshotttl":   "hydration.snapshotTTL",
	"redis.keyprefix":         "redis.keyPrefix",
}

// Load assembles and validates the effective settings.
func (l *Loader) Load(ctx context.Context) (Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(toMap(Default()), "."), nil); err != nil {
		return Settings{}, fmt.Errorf("settings: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Settings{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("settings: file %s not found", path)
			}
			return Settings{}, fmt.Errorf("settings: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Settings{}, fmt.Errorf("settings: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores separate levels: APP_CACHE__MAX_SIZE -> cache.maxSize.
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ToLower(strings.ReplaceAll(key, "_", ""))
			if mapped, ok := canonical[key]; ok {
				return mapped
			}
			return key
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Settings{}, fmt.Errorf("settings: load env: %w", err)
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, fmt.Errorf("settings: unmarshal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// toMap converts Settings into a map for the koanf confmap provider.
func toMap(s Settings) map[string]any {
	return map[string]any{
		"site": map[string]any{
			"domain":        s.Site.Domain,
			"prefetchCount": s.Site.PrefetchCount,
		},
		"upstream": map[string]any{
			"baseURL": s.Upstream.BaseURL,
			"timeout": s.Upstream.Timeout.String(),
		},
		"prefetch": map[string]any{
			"concurrency":  s.Prefetch.Concurrency,
			"fetchTimeout": s.Prefetch.FetchTimeout.String(),
		},
		"cache": map[string]any{
			"instanceID": s.Cache.InstanceID,
			"backend":    s.Cache.Backend,
			"maxSize":    s.Cache.MaxSize,
		},
		"hydration": map[string]any{
			"format":        s.Hydration.Format,
			"scriptID":      s.Hydration.ScriptID,
			"denyDomains":   append([]string(nil), s.Hydration.DenyDomains...),
			"includeErrors": s.Hydration.IncludeErrors,
			"snapshotTTL":   s.Hydration.SnapshotTTL.String(),
		},
		"redis": map[string]any{
			"address":   s.Redis.Address,
			"password":  s.Redis.Password,
			"db":        s.Redis.DB,
			"channel":   s.Redis.Channel,
			"keyPrefix": s.Redis.KeyPrefix,
		},
		"logging": map[string]any{
			"level":  s.Logging.Level,
			"format": s.Logging.Format,
			"debug":  s.Logging.Debug,
		},
	}
}
