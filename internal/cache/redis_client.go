package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vulnsentinel/vulnsentinel/internal/logging"
)

// RedisCache is the shared content cache. All engine workers in a process
// share one client; go-redis is safe for concurrent use.
type RedisCache struct {
	client *redis.Client
	logger *logging.Logger
	ttl    time.Duration
}

// NewRedisCache connects using a redis:// URL and verifies connectivity so
// startup fails fast on a bad address.
func NewRedisCache(ctx context.Context, url string, defaultTTL time.Duration, logger *logging.Logger) (*RedisCache, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	if defaultTTL <= 0 {
		defaultTTL = 6 * time.Hour
	}
	log := logger.With("cache")
	log.Info("cache.connected", "addr", opts.Addr, "default_ttl", defaultTTL.String())

	return &RedisCache{client: client, logger: log, ttl: defaultTTL}, nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// HealthCheck verifies connectivity for the readiness endpoint.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Get retrieves a cached value and unmarshals it into target.
func (c *RedisCache) Get(ctx context.Context, key string, target any) (bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("cache.miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}
	c.logger.Debug("cache.hit", "key", key)
	return true, nil
}

// Set stores a value with the default TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a JSON-marshaled value with an explicit TTL.
func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	c.logger.Debug("cache.set", "key", key, "ttl", ttl.String())
	return nil
}

// Delete removes one key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}
	return nil
}
