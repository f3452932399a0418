package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills by elapsed time and takes one token, all in
// one round trip. Returns 1 when the request is admitted.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local bucket = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(bucket[1])
local ts = tonumber(bucket[2])
if tokens == nil then
	tokens = capacity
	ts = now_ms
end

tokens = math.min(capacity, tokens + (now_ms - ts) * refill_per_ms)
local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", key, math.ceil(capacity / refill_per_ms))
return allowed
`)

// RateLimiterConfig controls the ingress token bucket.
type RateLimiterConfig struct {
	// Capacity is the burst size per caller.
	Capacity int
	// RefillPerSecond is the sustained request rate per caller.
	RefillPerSecond float64
}

// DefaultRateLimiterConfig returns the standard ingress limit.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{Capacity: 20, RefillPerSecond: 10}
}

// RateLimiter is a per-caller token bucket in Redis, shared across
// instances. Callers are identified by the authenticated user id, falling
// back to the client IP.
type RateLimiter struct {
	rdb *redis.Client
	cfg RateLimiterConfig
}

// NewRateLimiter creates the ingress rate limiter.
func NewRateLimiter(rdb *redis.Client, cfg RateLimiterConfig) *RateLimiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 20
	}
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = 10
	}
	return &RateLimiter{rdb: rdb, cfg: cfg}
}

// Allow reports whether the caller may proceed.
func (r *RateLimiter) Allow(ctx context.Context, caller string) (bool, error) {
	allowed, err := tokenBucketScript.Run(ctx, r.rdb,
		[]string{"ratelimit:" + caller},
		r.cfg.Capacity,
		r.cfg.RefillPerSecond/1000.0,
		time.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit check for %s: %w", caller, err)
	}
	return allowed == 1, nil
}
