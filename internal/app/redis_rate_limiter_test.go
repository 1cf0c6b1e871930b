package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNormalizeRedisPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "", want: defaultRedisPrefix},
		{prefix: "  ", want: defaultRedisPrefix},
		{prefix: "ledger:", want: "ledger"},
		{prefix: " prod:ledger ", want: "prod:ledger"},
	}
	for _, tt := range tests {
		if got := normalizeRedisPrefix(tt.prefix, defaultRedisPrefix); got != tt.want {
			t.Fatalf("normalizeRedisPrefix(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestRetryAfterFromMillis(t *testing.T) {
	tests := []struct {
		ttlMs int64
		want  int
	}{
		{ttlMs: 0, want: 1},
		{ttlMs: 1, want: 1},
		{ttlMs: 1000, want: 1},
		{ttlMs: 1001, want: 2},
		{ttlMs: 59500, want: 60},
	}
	for _, tt := range tests {
		if got := retryAfterFromMillis(tt.ttlMs); got != tt.want {
			t.Fatalf("retryAfterFromMillis(%d) = %d, want %d", tt.ttlMs, got, tt.want)
		}
	}
}

func TestRedisClaimRateLimiter_DisabledInputsSkipRedis(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var nilLimiter *RedisClaimRateLimiter
	throttle, err := nilLimiter.ConsumeClaim(context.Background(), ClaimAttempt{UserID: 1, TaskID: 2, At: now, Limit: 5, Window: time.Minute})
	if err != nil || throttle != (ClaimThrottle{}) {
		t.Fatalf("expected nil limiter to be a no-op, got %+v, %v", throttle, err)
	}

	limiter := NewRedisClaimRateLimiter(unreachableRedis(t), "ledger")
	for _, attempt := range []ClaimAttempt{
		{UserID: 1, TaskID: 2, At: now, Limit: 0, Window: time.Minute},
		{UserID: 1, TaskID: 2, At: now, Limit: 5, Window: 0},
		{UserID: 0, TaskID: 2, At: now, Limit: 5, Window: time.Minute},
	} {
		if _, err := limiter.ConsumeClaim(context.Background(), attempt); err != nil {
			t.Fatalf("expected disabled attempt %+v to skip redis, got %v", attempt, err)
		}
	}
}

func TestRedisClaimRateLimiter_ReportsConnectionErrors(t *testing.T) {
	limiter := NewRedisClaimRateLimiter(unreachableRedis(t), "ledger")
	attempt := ClaimAttempt{UserID: 1, TaskID: 2, At: time.Now(), Limit: 5, Window: time.Minute}
	if _, err := limiter.ConsumeClaim(context.Background(), attempt); err == nil {
		t.Fatal("expected an error from an unreachable redis")
	}
}

func TestRedisClaimRateLimiter_KeysAttemptLogPerUser(t *testing.T) {
	limiter := NewRedisClaimRateLimiter(nil, "prod:ledger:")
	if got := limiter.attemptLogKey(42); got != "prod:ledger:task_claim:42" {
		t.Fatalf("unexpected attempt log key %q", got)
	}
}

func TestRedisSweepLock_ReportsConnectionErrors(t *testing.T) {
	lock := NewRedisSweepLock(unreachableRedis(t), "", nil)
	if lock.key != defaultSweepLockKey {
		t.Fatalf("expected default lock key, got %q", lock.key)
	}
	release, acquired, err := lock.Acquire(context.Background(), time.Second)
	if err == nil || acquired || release != nil {
		t.Fatalf("expected acquire to fail against an unreachable redis, got %t, %v", acquired, err)
	}
}
