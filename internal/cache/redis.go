package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "cache:"

// Redis keeps entries in Redis with native expiry, so Sweep has nothing to do.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps client. Keys are namespaced under "cache:".
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: redisPrefix}
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}

func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s*: %w", prefix, err)
	}
	return nil
}

func (r *Redis) Sweep(context.Context) (int, error) { return 0, nil }

func (r *Redis) Clear(ctx context.Context) error {
	return r.InvalidatePrefix(ctx, "")
}
