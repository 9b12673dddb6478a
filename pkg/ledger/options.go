package ledger

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/lock"
)

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(led *Ledger) {
		if l != nil {
			led.logger = l
		}
	}
}

// WithLocker replaces the in-process per-payment lock, e.g. with a RedisLocker
// when several instances serve refunds.
func WithLocker(l lock.Locker) Option {
	return func(led *Ledger) {
		if l != nil {
			led.locker = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(led *Ledger) {
		if now != nil {
			led.now = now
		}
	}
}
