package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on top of a Redis server. Expiry is delegated to
// Redis key TTLs.
type Redis[V any] struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	codec      Codec[V]
}

type RedisConfig struct {
	Prefix     string
	DefaultTTL time.Duration
}

// NewRedis creates a Redis-backed cache using the JSON codec.
func NewRedis[V any](client redis.UniversalClient, config RedisConfig) *Redis[V] {
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Redis[V]{
		client:     client,
		prefix:     config.Prefix,
		defaultTTL: ttl,
		codec:      JSONCodec[V]{},
	}
}

// key builds the final Redis key with prefix.
func (c *Redis[V]) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get retrieves a value from Redis.
// On Redis error it returns (zero, false, err) so the caller can log and treat it as a miss.
func (c *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, fmt.Errorf("context error: %w", err)
	}

	res, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get failed: %w", err)
	}

	v, err := c.codec.Unmarshal(res)
	if err != nil {
		return zero, false, fmt.Errorf("decode cached value: %w", err)
	}
	return v, true, nil
}

// Set stores a value with TTL. ttl == 0 uses the default TTL, ttl < 0 deletes.
func (c *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if ttl < 0 {
		return c.Delete(ctx, key)
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	data, err := c.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes a key from cache.
func (c *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Ping checks if Redis connection is healthy.
func (c *Redis[V]) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return c.client.Ping(ctx).Err()
}
