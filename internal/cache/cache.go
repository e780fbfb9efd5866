// Package cache provides the shared key/value store used for LLM response
// caching and analytics counters, backed by Redis. Reads and writes are
// idempotent; last-writer-wins on the same key is acceptable for every use
// in this codebase.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/averbeck/go-deutsch-backend/internal/config"
)

// Store is the minimal cache contract the application depends on. The Redis
// implementation below is the production store; tests run against miniredis.
type Store interface {
	// Get returns the cached value for key. The boolean reports presence;
	// a missing key is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with an optional TTL (ttl <= 0 means no
	// expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Redis implements Store over a go-redis client.
type Redis struct {
	rdb *redis.Client
}

// NewRedis constructs a Redis store from configuration. The underlying
// client pools connections; construct once at startup.
func NewRedis(cfg config.RedisConfig) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// NewRedisFromClient wraps an existing client (used by tests with miniredis).
func NewRedisFromClient(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// Ping verifies connectivity; called once during startup readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// Incr implements Store.
func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.rdb.Incr(ctx, key).Result()
}

// Expire implements Store.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, key, ttl).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.rdb.Close() }
