package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Limiter bounds send throughput. Allow reports whether n sends may proceed
// for the campaign right now, and if not, how long to wait before asking
// again.
type Limiter interface {
	Allow(ctx context.Context, campaignID string, n int) (allowed bool, wait time.Duration, err error)
}

// Lua script for the per-campaign token check. The check and increment are
// one atomic step; a GET then INCR pair would let two workers both pass the
// check under load.
const campaignLimitLuaScript = `
local key = KEYS[1]
local increment = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")

if current + increment > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, increment)
if newVal == increment then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// unlimitedLimiter grants every request immediately. It stands in when no
// Redis limiter is configured so sends proceed uncapped instead of crashing.
type unlimitedLimiter struct{}

func (unlimitedLimiter) Allow(context.Context, string, int) (bool, time.Duration, error) {
	return true, 0, nil
}

// Unlimited returns a limiter that never throttles.
func Unlimited() Limiter {
	return unlimitedLimiter{}
}

// RateLimiter is a Redis-backed token bucket scoped per campaign: one
// campaign's ceiling never starves another's. Buckets refill each wall-clock
// second via key rotation.
type RateLimiter struct {
	redis         *redis.Client
	sendsPerSec   int
	campaignLimit *redis.Script
}

// NewRateLimiter creates a limiter allowing sendsPerSec sends per campaign
// per second.
func NewRateLimiter(redisClient *redis.Client, sendsPerSec int) *RateLimiter {
	if sendsPerSec <= 0 {
		sendsPerSec = 50
	}
	return &RateLimiter{
		redis:         redisClient,
		sendsPerSec:   sendsPerSec,
		campaignLimit: redis.NewScript(campaignLimitLuaScript),
	}
}

// NewRateLimiterFromURL connects to Redis and creates a limiter.
func NewRateLimiterFromURL(redisURL string, sendsPerSec int) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRateLimiter(client, sendsPerSec), nil
}

// Allow atomically checks and claims n tokens from the campaign's bucket.
// Redis trouble fails open: throughput briefly uncapped beats a stalled
// campaign.
func (r *RateLimiter) Allow(ctx context.Context, campaignID string, n int) (bool, time.Duration, error) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:campaign:%s:sec:%d", campaignID, now.Unix())

	result, err := r.campaignLimit.Run(ctx, r.redis,
		[]string{key},
		n,
		r.sendsPerSec,
		2, // seconds; covers clock skew between workers
	).Slice()
	if err != nil {
		logger.Warn("rate limit check failed, allowing", "campaign_id", campaignID, "error", err.Error())
		return true, 0, nil
	}

	if result[0].(int64) == 0 {
		// Wait out the rest of the current second.
		wait := time.Duration(time.Second.Nanoseconds()-int64(now.Nanosecond())) + 5*time.Millisecond
		return false, wait, nil
	}
	return true, 0, nil
}

func (r *RateLimiter) Close() error {
	return r.redis.Close()
}
