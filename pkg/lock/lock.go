// Package lock provides keyed mutual exclusion used to serialize billing
// operations per business and per payment.
//
// MemoryLocker serves tests and single-instance deployments; RedisLocker
// coordinates several billingd instances through Redis.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when a lock could not be obtained before the context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker obtains exclusive ownership of a key. Acquire blocks until the lock
// is held or ctx is done. The returned release function is idempotent.
// A positive ttl bounds how long a crashed holder can keep the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// With runs fn while holding key.
func With(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}
