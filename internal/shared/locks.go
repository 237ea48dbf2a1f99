package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdentityLockKey builds redis keys for per-identity reconciliation critical sections.
func IdentityLockKey(identityID string) string {
	return fmt.Sprintf("reconcile:identity:%s:lock", identityID)
}

// RedisLock is a single-holder lock with a bounded TTL. Remediation for the
// same identity must never run twice concurrently; the TTL caps how long a
// crashed holder can block new checks.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock constructs a RedisLock.
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, ttl: ttl}
}

// Acquire takes the lock, returning a release token. ErrLockHeld is returned
// when another holder is active.
func (l *RedisLock) Acquire(ctx context.Context, key string) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("shared: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release frees the lock if the token still owns it. Releasing an expired or
// stolen lock is a no-op.
func (l *RedisLock) Release(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("shared: release lock %s: %w", key, err)
	}
	return nil
}

// TTL exposes the configured lock lifetime.
func (l *RedisLock) TTL() time.Duration {
	return l.ttl
}
