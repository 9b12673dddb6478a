package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/lock"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocker sets the per-business lock. Use a lock.RedisLocker when several
// processes serve the same businesses.
func WithLocker(l lock.Locker) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockTTL bounds how long a business stays locked if the holder dies.
// It must exceed the gateway timeout.
func WithLockTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithRetryPolicy(p RetryPolicy) ServiceOption {
	return func(s *Service) {
		s.policy = p
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
