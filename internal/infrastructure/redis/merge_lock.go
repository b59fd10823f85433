package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// MergeLocker serializes read-merge-write sequences per entitlement key
// across replicas. Deployments running a single reconciler instance can
// rely on the engine's in-process keyed mutex instead.
type MergeLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMergeLocker builds a locker; ttl bounds how long a crashed holder
// can block a key.
func NewMergeLocker(client *redis.Client, ttl time.Duration) *MergeLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &MergeLocker{client: client, ttl: ttl}
}

// Lock acquires the per-key lock, polling until acquisition or context
// cancellation. The returned function releases the lock.
func (l *MergeLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("entitlements:merge-lock:%s", key)
	value := uuid.New().String()

	for {
		acquired, err := l.client.SetNX(ctx, redisKey, value, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire merge lock %s: %w", key, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseLockScript.Run(releaseCtx, l.client, []string{redisKey}, value)
	}, nil
}
