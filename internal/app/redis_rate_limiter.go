package app

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ledger:rate_limit"

// claimWindowScript keeps a sorted set of accepted claim attempts scored by time. Attempts
// older than the window are dropped first; a refused attempt is not recorded.
//
// KEYS[1] attempt log, ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] member.
// Returns {attempts, retry_after_ms, limited}.
var claimWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local attempts = redis.call("ZCARD", KEYS[1])
if attempts >= limit then
  local retry = window
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {attempts, retry, 1}
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return {attempts + 1, 0, 0}
`)

// RedisClaimRateLimiter throttles claims per user with a sliding window shared by every replica.
type RedisClaimRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisClaimRateLimiter(client redis.UniversalClient, prefix string) *RedisClaimRateLimiter {
	return &RedisClaimRateLimiter{
		client: client,
		prefix: normalizeRedisPrefix(prefix, defaultRedisPrefix),
	}
}

func normalizeRedisPrefix(prefix, fallback string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = fallback
	}
	return strings.TrimSuffix(trimmed, ":")
}

func (r *RedisClaimRateLimiter) attemptLogKey(userID int64) string {
	return fmt.Sprintf("%s:task_claim:%d", r.prefix, userID)
}

// ConsumeClaim records the attempt unless the user already made attempt.Limit claims within
// the window ending at attempt.At.
func (r *RedisClaimRateLimiter) ConsumeClaim(ctx context.Context, attempt ClaimAttempt) (ClaimThrottle, error) {
	if r == nil || r.client == nil || attempt.Limit <= 0 || attempt.Window <= 0 || attempt.UserID <= 0 {
		return ClaimThrottle{}, nil
	}

	windowMs := attempt.Window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	member := fmt.Sprintf("%d:%s", attempt.TaskID, uuid.NewString())

	raw, err := claimWindowScript.Run(ctx, r.client,
		[]string{r.attemptLogKey(attempt.UserID)},
		attempt.At.UnixMilli(), windowMs, attempt.Limit, member,
	).Int64Slice()
	if err != nil {
		return ClaimThrottle{}, err
	}
	if len(raw) != 3 {
		return ClaimThrottle{}, fmt.Errorf("unexpected claim limiter response length %d", len(raw))
	}

	throttle := ClaimThrottle{Attempts: int(raw[0]), Limited: raw[2] == 1}
	if throttle.Limited {
		throttle.RetryAfterSeconds = retryAfterFromMillis(raw[1])
	}
	return throttle, nil
}

func retryAfterFromMillis(ttlMs int64) int {
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter
}
