package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/huykn/hydration-cache/params"
	"github.com/huykn/hydration-cache/query"
)

func mustNormalize(t *testing.T, p params.Params) params.Normalized {
	t.Helper()
	n, err := params.Normalize(p)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return n
}

func TestHTTPSourceFetch(t *testing.T) {
	var gotPath, gotQuery, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotToken = r.Header.Get("X-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":1}]}`))
	}))
	defer srv.Close()

	src, err := NewHTTPSource(srv.URL+"/api", WithHeader("X-Token", "secret"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewHTTPSource failed: %v", err)
	}

	v, err := src.Fetch(context.Background(), query.Request{
		ResourceKind: "course",
		Params:       mustNormalize(t, params.Params{"limit": 12, "sort": "latest", "kinds": []string{"course"}}),
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	raw, ok := v.(json.RawMessage)
	if !ok || string(raw) != `{"items":[{"id":1}]}` {
		t.Fatalf("Unexpected payload: %#v", v)
	}
	if gotPath != "/api/course" {
		t.Fatalf("Unexpected path: %s", gotPath)
	}
	if gotQuery != "kinds=%5B%22course%22%5D&limit=12&sort=latest" {
		t.Fatalf("Unexpected query: %s", gotQuery)
	}
	if gotToken != "secret" {
		t.Fatalf("Expected header to be forwarded, got %q", gotToken)
	}
}

func TestHTTPSourceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, _ := NewHTTPSource(srv.URL)
	_, err := src.Fetch(context.Background(), query.Request{ResourceKind: "course"})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusInternalServerError || se.Message != "boom" {
		t.Fatalf("Unexpected StatusError: %+v", se)
	}
}

func TestHTTPSourceInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	src, _ := NewHTTPSource(srv.URL)
	if _, err := src.Fetch(context.Background(), query.Request{ResourceKind: "course"}); err == nil {
		t.Fatal("Expected error for non-JSON body")
	}
}

func TestHTTPSourceHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src, _ := NewHTTPSource(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.Fetch(ctx, query.Request{ResourceKind: "course"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestNewHTTPSourceValidation(t *testing.T) {
	if _, err := NewHTTPSource(""); err == nil {
		t.Fatal("Expected error for empty base URL")
	}
	src, _ := NewHTTPSource("http://example.invalid")
	if _, err := src.Fetch(context.Background(), query.Request{}); err == nil {
		t.Fatal("Expected error for empty resource kind")
	}
}

func TestStatusErrorMessage(t *testing.T) {
	if got := (&StatusError{StatusCode: 503}).Error(); got != "upstream: status 503" {
		t.Fatalf("Unexpected message: %s", got)
	}
}
