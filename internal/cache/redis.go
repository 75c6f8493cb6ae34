// Package cache is the Redis adapter accelerating the query path.
// It is never a source of truth; every failure degrades to a store read.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss means the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is the key-value expiring cache the query handler consults.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisCache implements Cache on go-redis. TTLs are clamped to
// maxStaleness so entries can never outlive the configured bound.
type RedisCache struct {
	client       *redis.Client
	maxStaleness time.Duration
}

// NewRedisCache connects to Redis and verifies connectivity.
func NewRedisCache(redisURL string, maxStaleness time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisCache{client: client, maxStaleness: maxStaleness}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.maxStaleness {
		ttl = c.maxStaleness
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoOpCache satisfies Cache when Redis is disabled; every read misses.
type NoOpCache struct{}

func (NoOpCache) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }

func (NoOpCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoOpCache) Del(context.Context, ...string) error { return nil }

func (NoOpCache) Ping(context.Context) error { return nil }

func (NoOpCache) Close() error { return nil }
