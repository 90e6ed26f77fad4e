// Package cache is the volatile key-value side of the cache-aside flows.
// Entries are derived state: losing any of them only costs a database trip.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darkodi/shorts/internal/config"
)

// RedisCache stores string values with a per-key expiry in Redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache builds a pooled client from configuration. It does not dial;
// call Ping to check reachability.
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	// one attempt per call: a slow cache must lose the race, not retry it
	opts.MaxRetries = -1

	return New(redis.NewClient(opts)), nil
}

// New wraps an existing client
func New(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value stored at key. A missing key reports ok=false with a nil error.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get", key, err)
	}
	return value, true, nil
}

// Set stores value at key with the given time-to-live (SET EX, one round trip)
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrap("set", key, err)
	}
	return nil
}

// Ping checks the cache is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", "", err)
	}
	return nil
}

// Close releases the connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}
