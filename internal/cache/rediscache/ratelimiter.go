package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}

// Allow increments the key and sets the TTL when the key is first
// created. Returns (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// AllowSOAPCall charges one call against the shared per-minute SOAP quota.
// The bucket key rolls over with the wall-clock minute, so every worker
// instance counts against the same window.
func (rl *RateLimiter) AllowSOAPCall(ctx context.Context, limit int64) (bool, error) {
	bucket := "sian:quota:" + time.Now().UTC().Format("200601021504")
	ok, _, err := rl.Allow(ctx, bucket, limit, time.Minute)
	return ok, err
}
