package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter implements sliding window rate limiting using Redis
type RateLimiter struct {
	redis  *Redis
	window time.Duration
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// NewRateLimiter creates a new rate limiter over windowSeconds
func NewRateLimiter(r *Redis, windowSeconds int) *RateLimiter {
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	return &RateLimiter{
		redis:  r,
		window: time.Duration(windowSeconds) * time.Second,
	}
}

// Check records a request for key and reports whether it fits in limit.
// Redis failures fail open.
func (r *RateLimiter) Check(ctx context.Context, key string, limit int) (*RateLimitResult, error) {
	now := time.Now()
	windowStart := now.Add(-r.window)
	redisKey := fmt.Sprintf("ratelimit:sliding:%s", key)

	// Score = timestamp, Member = unique request ID
	pipe := r.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to check rate limit")
		return &RateLimitResult{Allowed: true, Remaining: int64(limit), Limit: limit}, nil
	}

	currentCount := countCmd.Val()
	result := &RateLimitResult{
		Limit:   limit,
		ResetAt: now.Add(r.window),
	}

	if currentCount >= int64(limit) {
		result.Allowed = false
		result.Remaining = 0
		result.RetryAfter = r.window

		oldest, err := r.redis.Client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			result.RetryAfter = oldestTime.Add(r.window).Sub(now)
			if result.RetryAfter <= 0 {
				result.RetryAfter = time.Second
			}
		}
		return result, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), key)
	pipe = r.redis.Client.Pipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, redisKey, r.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to add rate limit entry")
	}

	result.Allowed = true
	result.Remaining = int64(limit) - currentCount - 1
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	return result, nil
}

// Reset clears the window for key
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.redis.Client.Del(ctx, fmt.Sprintf("ratelimit:sliding:%s", key)).Err()
}
