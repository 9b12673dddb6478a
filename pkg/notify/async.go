package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Async runs deliveries of the wrapped Sender in the background so the
// billing transition that triggered them never waits. Failures are logged.
type Async struct {
	next    Sender
	logger  *slog.Logger
	timeout time.Duration
	sem     *semaphore.Weighted

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// AsyncOption configures Async.
type AsyncOption func(*Async)

// WithAsyncLogger sets the logger for failed deliveries.
func WithAsyncLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDeliveryTimeout bounds a single delivery. Default 30s.
func WithDeliveryTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxInFlight caps concurrent deliveries. Default 16.
func WithMaxInFlight(n int64) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.sem = semaphore.NewWeighted(n)
		}
	}
}

// NewAsync wraps next.
func NewAsync(next Sender, opts ...AsyncOption) *Async {
	if next == nil {
		panic("notify: sender is required")
	}
	a := &Async{
		next:    next,
		logger:  slog.Default(),
		timeout: 30 * time.Second,
		sem:     semaphore.NewWeighted(16),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("notify"))
	return a
}

func (a *Async) SendRenewalConfirmation(ctx context.Context, n RenewalConfirmation) error {
	return a.dispatch(ctx, TagRenewalConfirmation, func(ctx context.Context) error {
		return a.next.SendRenewalConfirmation(ctx, n)
	})
}

func (a *Async) SendPaymentRetryFailure(ctx context.Context, n PaymentRetryFailure) error {
	return a.dispatch(ctx, TagPaymentRetryFailure, func(ctx context.Context) error {
		return a.next.SendPaymentRetryFailure(ctx, n)
	})
}

func (a *Async) SendPaymentEscalation(ctx context.Context, n PaymentEscalation) error {
	return a.dispatch(ctx, TagPaymentEscalation, func(ctx context.Context) error {
		return a.next.SendPaymentEscalation(ctx, n)
	})
}

func (a *Async) SendSubscriptionCancellation(ctx context.Context, n SubscriptionCancellation) error {
	return a.dispatch(ctx, TagSubscriptionCancellation, func(ctx context.Context) error {
		return a.next.SendSubscriptionCancellation(ctx, n)
	})
}

// dispatch detaches the delivery from ctx so that it outlives the request or
// pass that triggered it.
func (a *Async) dispatch(ctx context.Context, tag string, fn func(context.Context) error) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSenderClosed
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		bg := context.WithoutCancel(ctx)
		if err := a.sem.Acquire(bg, 1); err != nil {
			return
		}
		defer a.sem.Release(1)

		dctx, cancel := context.WithTimeout(bg, a.timeout)
		defer cancel()
		if err := fn(dctx); err != nil {
			a.logger.LogAttrs(dctx, slog.LevelError, "notification delivery failed",
				slog.String("tag", tag), logger.Error(err))
		}
	}()
	return nil
}

// Close rejects new deliveries and waits for outstanding ones until ctx is
// done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
