package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultSweepLockKey = "ledger:lock:expiry_sweep"

// releaseLockScript deletes the key only while it still holds this owner's token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSweepLock is a SET NX PX lease on a single key.
type RedisSweepLock struct {
	client redis.UniversalClient
	key    string
	logger *slog.Logger
}

func NewRedisSweepLock(client redis.UniversalClient, key string, logger *slog.Logger) *RedisSweepLock {
	return &RedisSweepLock{
		client: client,
		key:    normalizeRedisPrefix(key, defaultSweepLockKey),
		logger: logger,
	}
}

func (l *RedisSweepLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseLockScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil && l.logger != nil {
			l.logger.Warn("failed to release sweep lock", "key", l.key, "error", err)
		}
	}
	return release, true, nil
}
