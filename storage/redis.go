// Package storage carries encoded snapshots between the producing and the
// consuming side when they do not share a document, e.g. a render id handed
// to a client that fetches its initial state separately.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces snapshot keys in Redis.
const DefaultKeyPrefix = "hydration:snapshot:"

// ErrNotFound is returned when no snapshot is stored under an id.
var ErrNotFound = errors.New("snapshot not found in redis")

// RedisStore stores encoded snapshots in Redis under a render id.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisStore creates a new Redis-based snapshot store with its own client.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client, prefix: DefaultKeyPrefix, owned: true}, nil
}

// NewRedisStoreFromClient wraps an existing client. The client stays owned
// by the caller. An empty prefix uses DefaultKeyPrefix.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (rs *RedisStore) key(id string) string {
	return rs.prefix + id
}

// Save stores an encoded snapshot. A zero ttl keeps it until deleted.
func (rs *RedisStore) Save(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if id == "" {
		return errors.New("snapshot id is required")
	}
	return rs.client.Set(ctx, rs.key(id), data, ttl).Err()
}

// Load retrieves an encoded snapshot.
func (rs *RedisStore) Load(ctx context.Context, id string) ([]byte, error) {
	val, err := rs.client.Get(ctx, rs.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Take retrieves and deletes an encoded snapshot in one step, so each
// snapshot bootstraps at most one consumer.
func (rs *RedisStore) Take(ctx context.Context, id string) ([]byte, error) {
	val, err := rs.client.GetDel(ctx, rs.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Delete removes a snapshot.
func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	return rs.client.Del(ctx, rs.key(id)).Err()
}

// Close closes the Redis connection if the store created it.
func (rs *RedisStore) Close() error {
	if !rs.owned {
		return nil
	}
	return rs.client.Close()
}

// GetClient returns the underlying Redis client.
func (rs *RedisStore) GetClient() *redis.Client {
	return rs.client
}
