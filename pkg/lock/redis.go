package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	client     redis.UniversalClient
	prefix     string
	retryDelay time.Duration
	defaultTTL time.Duration
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithKeyPrefix namespaces lock keys. Default "billing:lock:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) { l.prefix = prefix }
}

// WithRetryDelay sets the polling interval while waiting for a held key. Default 50ms.
func WithRetryDelay(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// WithDefaultTTL sets the expiry used when Acquire is called with ttl <= 0. Default 30s.
func WithDefaultTTL(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.defaultTTL = d
		}
	}
}

// NewRedisLocker panics on a nil client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	if client == nil {
		panic("lock: redis client cannot be nil")
	}
	l := &RedisLocker{
		client:     client,
		prefix:     "billing:lock:",
		retryDelay: 50 * time.Millisecond,
		defaultTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	fullKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		err := l.client.SetArgs(ctx, fullKey, token, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
		switch {
		case err == nil:
			var once sync.Once
			return func() {
				once.Do(func() {
					// the caller's ctx may already be canceled
					releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
				})
			}, nil
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}
