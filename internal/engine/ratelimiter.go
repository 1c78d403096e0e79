package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a per-consumer sliding window limiter backed by Redis.
// Each member of the sorted set is one delivery attempt; a Lua script
// atomically drops expired entries, checks the count and admits the request.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    return 0
end
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
	}
}

func rlKey(consumerID string) string {
	return fmt.Sprintf("rl:%s", consumerID)
}

// Allow reports whether a delivery to this consumer fits its configured
// per-second rate. A limit of zero means unlimited.
func (rl *RateLimiter) Allow(ctx context.Context, consumerID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	key := rlKey(consumerID)
	now := time.Now().UnixMilli()
	window := int64(1000)
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000)

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "consumer_id", consumerID)
		return true // fail open
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "consumer_id", consumerID, "limit", limit)
		return false
	}

	return true
}
