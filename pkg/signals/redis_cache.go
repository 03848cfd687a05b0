package signals

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisCachePrefix = "shiftflow:signal:"

// RedisCache is a Cache shared by every process pointing at the same Redis. Entries expire
// through the Redis key TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache from a redis:// URL.
func NewRedisCache(url string, ttl time.Duration, logger *slog.Logger) (*RedisCache, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	return NewRedisCacheWithClient(redis.NewClient(options), ttl, logger), nil
}

// NewRedisCacheWithClient creates a RedisCache around an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &RedisCache{
		client: client,
		prefix: defaultRedisCachePrefix,
		ttl:    ttl,
		logger: logger.With("module", "signal_cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Reading, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "Failed to read cached signal", "key", key, "error", err)
		}

		return Reading{}, false
	}

	var reading Reading

	err = json.Unmarshal(data, &reading)
	if err != nil {
		c.logger.WarnContext(ctx, "Discarding malformed cached signal", "key", key, "error", err)

		return Reading{}, false
	}

	return reading, true
}

func (c *RedisCache) Set(ctx context.Context, key string, reading Reading) {
	data, err := json.Marshal(reading)
	if err != nil {
		return
	}

	err = c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to cache signal", "key", key, "error", err)
	}
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
