package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "progresshub:rl:"

// Redis keeps one counter per key and window in Redis so every API instance
// draws from the same budget.
type Redis struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
}

func NewRedis(rdb redis.Cmdable, limit int, window time.Duration) *Redis {
	return &Redis{rdb: rdb, limit: int64(limit), window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := keyPrefix + key

	n, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", k, err)
	}

	if n == 1 {
		if err := r.rdb.PExpire(ctx, k, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("pexpire %s: %w", k, err)
		}
	}

	if n <= r.limit {
		return true, 0, nil
	}

	ttl, err := r.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("pttl %s: %w", k, err)
	}

	// the expiry was lost (e.g. the process died between INCR and PEXPIRE)
	if ttl < 0 {
		if err := r.rdb.PExpire(ctx, k, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("pexpire %s: %w", k, err)
		}
		ttl = r.window
	}

	return false, ttl, nil
}
