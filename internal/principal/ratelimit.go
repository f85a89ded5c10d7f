package principal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuthRateLimiter limits bearer-token verification failures per source IP
// using Redis INCR + EXPIRE. If no Redis
// client is configured it falls back to an in-memory counter, bounded to a
// single process, so the request path never blocks on Redis connectivity.
type AuthRateLimiter struct {
	redis      *redis.Client
	maxAttempt int
	window     time.Duration

	mu    sync.Mutex
	local map[string]*localCounter
}

type localCounter struct {
	count   int
	resetAt time.Time
}

// NewAuthRateLimiter creates a rate limiter. rdb may be nil, in which case
// counting happens in memory.
func NewAuthRateLimiter(rdb *redis.Client, maxAttempt int, window time.Duration) *AuthRateLimiter {
	return &AuthRateLimiter{
		redis:      rdb,
		maxAttempt: maxAttempt,
		window:     window,
		local:      make(map[string]*localCounter),
	}
}

// RateLimitResult holds the result of a rate limit check.
type RateLimitResult struct {
	Allowed bool
	RetryAt time.Time
}

// Allowed returns whether ip may attempt authentication right now.
func (rl *AuthRateLimiter) Allowed(ctx context.Context, ip string) (RateLimitResult, error) {
	if rl.redis == nil {
		return rl.allowedLocal(ip), nil
	}

	key := fmt.Sprintf("auth_failure_ratelimit:%s", ip)
	count, err := rl.redis.Get(ctx, key).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return RateLimitResult{}, fmt.Errorf("checking auth rate limit: %w", err)
	}

	if count >= rl.maxAttempt {
		ttl, err := rl.redis.TTL(ctx, key).Result()
		if err != nil {
			return RateLimitResult{}, fmt.Errorf("getting auth rate limit TTL: %w", err)
		}
		return RateLimitResult{Allowed: false, RetryAt: time.Now().Add(ttl)}, nil
	}

	return RateLimitResult{Allowed: true}, nil
}

// RecordFailure records a failed authentication attempt for ip.
func (rl *AuthRateLimiter) RecordFailure(ctx context.Context, ip string) {
	if rl.redis == nil {
		rl.recordLocal(ip)
		return
	}

	key := fmt.Sprintf("auth_failure_ratelimit:%s", ip)
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rl.window)
	_, _ = pipe.Exec(ctx)
	if incr.Val() == 1 {
		rl.redis.Expire(ctx, key, rl.window)
	}
}

func (rl *AuthRateLimiter) allowedLocal(ip string) RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.local[ip]
	if !ok || time.Now().After(c.resetAt) {
		return RateLimitResult{Allowed: true}
	}
	if c.count >= rl.maxAttempt {
		return RateLimitResult{Allowed: false, RetryAt: c.resetAt}
	}
	return RateLimitResult{Allowed: true}
}

func (rl *AuthRateLimiter) recordLocal(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.local[ip]
	if !ok || time.Now().After(c.resetAt) {
		c = &localCounter{resetAt: time.Now().Add(rl.window)}
		rl.local[ip] = c
	}
	c.count++
}
