package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/safety-kernel/internal/observ"
)

// RedisClient is the production Client backend.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient dials a Redis instance at addr. db selects the logical
// database index; pass "" for password when auth is disabled.
func NewRedisClient(addr, password string, db int) *RedisClient {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisClient{rdb: rdb}
}

func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kvstore redis get %q: %w", key, err)
	}
	return v, nil
}

func (c *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore redis set %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	v, err := c.rdb.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("kvstore redis incrbyfloat %q: %w", key, err)
	}
	return v, nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kvstore redis del %q: %w", key, err)
	}
	return nil
}

func (c *RedisClient) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kvstore redis scan %q: %w", prefix, err)
	}
	return keys, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		observ.LogError("kvstore_ping_failed", err, map[string]any{"backend": "redis"})
		return fmt.Errorf("kvstore redis ping: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

// ParseFloat is a small helper shared by ledger code that reads raw string
// values straight out of Get rather than IncrByFloat.
func ParseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
