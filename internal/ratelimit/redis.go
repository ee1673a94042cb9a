package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rl:"

// Redis shares fixed-window counters between processes. It fails open: a
// Redis error lets the call through.
type Redis struct {
	client *redis.Client
	max    int
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedis builds a Redis backed limiter.
func NewRedis(client *redis.Client, max int, window time.Duration, logger *slog.Logger) *Redis {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{client: client, max: max, window: window, logger: logger, now: time.Now}
}

// Allow increments the counter of the current window for action.
func (r *Redis) Allow(ctx context.Context, action string) error {
	if r.client == nil {
		return nil
	}
	key := fmt.Sprintf("%s%s:%d", redisKeyPrefix, action, windowIndex(r.now(), r.window))

	cnt, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("rate limit counter unavailable", slog.String("action", action), slog.Any("error", err))
		}
		return nil
	}
	if cnt == 1 {
		if err := r.client.Expire(ctx, key, (retainedWindows+1)*r.window).Err(); err != nil && r.logger != nil {
			r.logger.Warn("rate limit expiry not set", slog.String("action", action), slog.String("key", key), slog.Any("error", err))
		}
	}
	if cnt > int64(r.max) {
		return ErrRateLimitExceeded
	}
	return nil
}
