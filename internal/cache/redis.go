package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	applog "dealbook/internal/log"
)

const redisOpTimeout = 2 * time.Second

// RedisCache stores JSON encoded values in Redis under a namespace. Redis
// failures degrade to cache misses; the record store stays authoritative.
type RedisCache[T any] struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	logger    *applog.Logger
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisCache[T any](client redis.UniversalClient, namespace string, ttl time.Duration, logger *applog.Logger) *RedisCache[T] {
	return &RedisCache[T]{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger.WithComponent(applog.ComponentCache),
	}
}

func (c *RedisCache[T]) key(k string) string {
	return c.namespace + ":" + k
}

func (c *RedisCache[T]) Get(key string) (T, bool) {
	var zero T
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Redis get failed", "key", key, applog.FieldError, err)
		}
		return zero, false
	}
	var out T
	if err := json.Unmarshal(val, &out); err != nil {
		c.logger.Warn("Redis value decode failed", "key", key, applog.FieldError, err)
		return zero, false
	}
	return out, true
}

func (c *RedisCache[T]) Set(key string, data T) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	payload, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("Redis value encode failed", "key", key, applog.FieldError, err)
		return
	}
	if err := c.client.Set(ctx, c.key(key), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed", "key", key, applog.FieldError, err)
	}
}

func (c *RedisCache[T]) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.logger.Warn("Redis delete failed", "key", key, applog.FieldError, err)
	}
}

// DeletePrefix scans for namespaced keys under prefix and deletes them in
// batches. It stops at the first Redis error and returns it with the count
// removed so far.
func (c *RedisCache[T]) DeletePrefix(prefix string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*redisOpTimeout)
	defer cancel()

	removed := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.key(prefix)+"*", 100).Result()
		if err != nil {
			c.logger.Warn("Redis scan failed", "prefix", prefix, applog.FieldError, err)
			return removed, fmt.Errorf("scan %s*: %w", prefix, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.logger.Warn("Redis delete failed", "prefix", prefix, applog.FieldError, err)
				return removed, fmt.Errorf("delete %s*: %w", prefix, err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
