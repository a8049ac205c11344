package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, ""), server
}

func TestNewRedisStore(t *testing.T) {
	server := miniredis.RunT(t)

	store, err := NewRedisStore(server.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Failed to create Redis store: %v", err)
	}
	defer store.Close()

	if store.GetClient() == nil {
		t.Fatal("Client should not be nil")
	}
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	if _, err := NewRedisStore(addr, "", 0); err == nil {
		t.Fatal("Expected error for unreachable Redis")
	}
}

func TestRedisStoreSaveLoad(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"version":1,"entries":[]}`)
	if err := store.Save(ctx, "render-1", payload, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !server.Exists(DefaultKeyPrefix + "render-1") {
		t.Fatal("Expected snapshot under the default prefix")
	}
	if ttl := server.TTL(DefaultKeyPrefix + "render-1"); ttl != time.Minute {
		t.Fatalf("Expected TTL of one minute, got %v", ttl)
	}

	got, err := store.Load(ctx, "render-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Expected %s, got %s", payload, got)
	}

	// Load does not consume
	if _, err := store.Load(ctx, "render-1"); err != nil {
		t.Fatalf("Second Load failed: %v", err)
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "render-1", []byte(`{}`), time.Second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	server.FastForward(2 * time.Second)

	if _, err := store.Load(ctx, "render-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRedisStoreTake(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "render-1", []byte(`{}`), 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := store.Take(ctx, "render-1"); err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if _, err := store.Take(ctx, "render-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on second Take, got %v", err)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, "render-1", []byte(`{}`), 0)
	if err := store.Delete(ctx, "render-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "render-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreValidation(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Save(context.Background(), "", []byte(`{}`), 0); err == nil {
		t.Fatal("Expected error for empty id")
	}
}

func TestRedisStoreCustomPrefixAndClose(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	store := NewRedisStoreFromClient(client, "app:state:")
	_ = store.Save(context.Background(), "r", []byte(`{}`), 0)
	if !server.Exists("app:state:r") {
		t.Fatal("Expected snapshot under the custom prefix")
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Borrowed client must stay open, got %v", err)
	}
}
