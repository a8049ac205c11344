package settings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write settings file: %v", err)
	}
	return path
}

func TestLoaderDefaults(t *testing.T) {
	got, err := NewLoader("").Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Fatalf("Defaults changed while loading (-want +got):\n%s", diff)
	}
}

func TestLoaderPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) []string
		assert func(t *testing.T, s Settings)
	}{
		{
			name: "merges file overrides",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "site:\n  domain: shop\n  prefetchCount: 4\nprefetch:\n  fetchTimeout: 750ms\nhydration:\n  denyDomains: [profile, account]\n")}
			},
			assert: func(t *testing.T, s Settings) {
				if s.Site.Domain != "shop" || s.Site.PrefetchCount != 4 {
					t.Fatalf("Unexpected site settings: %+v", s.Site)
				}
				if s.Prefetch.FetchTimeout != 750*time.Millisecond {
					t.Fatalf("Expected 750ms fetch timeout, got %v", s.Prefetch.FetchTimeout)
				}
				if diff := cmp.Diff([]string{"profile", "account"}, s.Hydration.DenyDomains); diff != "" {
					t.Fatalf("Unexpected deny domains:\n%s", diff)
				}
				if s.Cache.Backend != "lru" {
					t.Fatalf("Unset keys should keep defaults, got backend %q", s.Cache.Backend)
				}
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				t.Setenv("HYDRATION_SITE__PREFETCH_COUNT", "6")
				t.Setenv("HYDRATION_CACHE__BACKEND", "lfu")
				t.Setenv("HYDRATION_CACHE__MAX_SIZE", "500")
				t.Setenv("HYDRATION_LOGGING__DEBUG", "true")
				return []string{writeFile(t, "site:\n  prefetchCount: 4\ncache:\n  backend: lru\n")}
			},
			assert: func(t *testing.T, s Settings) {
				if s.Site.PrefetchCount != 6 {
					t.Fatalf("Expected env to win, got %d", s.Site.PrefetchCount)
				}
				if s.Cache.Backend != "lfu" || s.Cache.MaxSize != 500 {
					t.Fatalf("Unexpected cache settings: %+v", s.Cache)
				}
				if !s.Logging.Debug {
					t.Fatal("Expected debug logging from env")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := tt.setup(t)
			s, err := NewLoader("HYDRATION", files...).Load(context.Background())
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.assert(t, s)
		})
	}
}

func TestLoaderErrors(t *testing.T) {
	if _, err := NewLoader("", filepath.Join(t.TempDir(), "missing.yaml")).Load(context.Background()); err == nil {
		t.Fatal("Expected error for missing file")
	}

	bad := writeFile(t, "cache:\n  backend: arc\n  maxSize: 0\n")
	_, err := NewLoader("", bad).Load(context.Background())
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"cache.backend", "cache.maxSize"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Expected error to mention %s, got %v", want, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLoader("", writeFile(t, "site:\n  domain: x\n")).Load(ctx); err == nil {
		t.Fatal("Expected context error")
	}
}

func TestValidate(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Fatalf("Defaults must validate: %v", err)
	}

	s.Site.Domain = " "
	s.Prefetch.Concurrency = 0
	s.Logging.Level = "trace"
	err := s.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"site.domain", "prefetch.concurrency", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Expected error to mention %s, got %v", want, err)
		}
	}
}
