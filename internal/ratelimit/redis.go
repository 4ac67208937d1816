package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "dukcapil:ratelimit:"

// Redis is a fixed-window Store shared by every replica.
type Redis struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (s *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := s.now()
	start := now.Truncate(window)
	bucket := redisKeyPrefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.PExpire(ctx, bucket, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("count request: %w", err)
	}

	count := int(incr.Val())
	res := Result{Limit: limit, ResetAt: start.Add(window)}
	if count > limit {
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - count
	return res, nil
}
