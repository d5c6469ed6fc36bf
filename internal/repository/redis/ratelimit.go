package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window send counter per user. Counters live in
// Redis so every server process shares them.
type RateLimiter struct {
	client *goredis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *goredis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: int64(limit), window: window}
}

// chatRateKey returns the counter key for a user's current window.
func chatRateKey(userID uuid.UUID, window time.Duration, now time.Time) string {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("ratelimit:chat:%s:%d", userID, now.Unix()/secs)
}

// Allow increments the user's counter for the current window and reports
// whether it is still within the limit.
func (l *RateLimiter) Allow(ctx context.Context, userID uuid.UUID) (bool, error) {
	key := chatRateKey(userID, l.window, time.Now())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}
	return incr.Val() <= l.limit, nil
}
