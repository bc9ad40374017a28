package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"sign-gateway/internal/platform/redis"
)

// RedisLimiter implements the sliding window on a Redis sorted set per key,
// so all instances share one budget. Member scores are nanosecond
// timestamps; expired members are trimmed before counting.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := l.now()
	cutoff := now.Add(-window)
	redisKey := "admission:" + key

	var count *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey,
			"-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
		count = pipe.ZCard(ctx, redisKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("admission window count: %w", err)
	}

	if int(count.Val()) >= limit {
		return &Result{Allowed: false, Limit: limit, ResetAt: now.Add(window)}, nil
	}

	_, err = l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, goredis.Z{
			Score: float64(now.UnixNano()),
			// Unique member so same-instant admissions are all counted.
			Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString(),
		})
		pipe.Expire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("admission window add: %w", err)
	}

	return &Result{
		Allowed:   true,
		Remaining: limit - int(count.Val()) - 1,
		Limit:     limit,
		ResetAt:   now.Add(window),
	}, nil
}
