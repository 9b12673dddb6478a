package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/periodic"
)

// reconciler settles payments stuck in pending against the gateway, by
// provider id when the row has one and by payment id otherwise.
type reconciler struct {
	ledger    *ledger.Ledger
	olderThan time.Duration
	log       *slog.Logger
}

func newReconciler(l *ledger.Ledger, olderThan time.Duration, log *slog.Logger) *reconciler {
	return &reconciler{ledger: l, olderThan: olderThan, log: log.With(logger.Component("reconcile"))}
}

func (r *reconciler) Run(ctx context.Context, every time.Duration) error {
	runner := periodic.NewRunner("reconcile", periodic.Every(every),
		periodic.WithLogger(r.log),
		periodic.WithoutImmediateRun(),
	)
	return runner.Run(ctx, r.once)
}

func (r *reconciler) once(ctx context.Context) error {
	stale, err := r.ledger.StalePending(ctx, r.olderThan)
	if err != nil {
		return err
	}
	var resolved, unresolved int
	for _, p := range stale {
		refreshed, err := r.ledger.Refresh(ctx, p.ID)
		switch {
		case err != nil:
			unresolved++
			r.log.LogAttrs(ctx, slog.LevelError, "refresh pending payment",
				logger.PaymentID(p.ID),
				logger.Error(err),
			)
		case refreshed.Status != ledger.StatusPending:
			resolved++
			level := slog.LevelInfo
			if refreshed.FailureCode == gateway.CodeNotFound {
				level = slog.LevelWarn
			}
			r.log.LogAttrs(ctx, level, "pending payment settled",
				logger.PaymentID(p.ID),
				logger.SubscriptionID(p.SubscriptionID),
				logger.Amount(p.Amount, p.Currency),
				logger.Status(refreshed.Status),
			)
		default:
			unresolved++
		}
	}
	if len(stale) > 0 {
		r.log.LogAttrs(ctx, slog.LevelInfo, "reconciled pending payments",
			slog.Int("resolved", resolved),
			slog.Int("unresolved", unresolved),
		)
	}
	return nil
}
