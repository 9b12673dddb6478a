package notify

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// LogSender writes notifications to a logger instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default.
func NewLogSender(l *slog.Logger) *LogSender {
	if l == nil {
		l = slog.Default()
	}
	return &LogSender{logger: l.With(logger.Component("notify"))}
}

func (s *LogSender) SendRenewalConfirmation(ctx context.Context, n RenewalConfirmation) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "renewal confirmation",
		logger.BusinessID(n.BusinessID),
		logger.SubscriptionID(n.SubscriptionID),
		logger.PaymentID(n.PaymentID),
		logger.Amount(n.Amount, n.Currency),
	)
	return nil
}

func (s *LogSender) SendPaymentRetryFailure(ctx context.Context, n PaymentRetryFailure) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "payment retry failure",
		logger.BusinessID(n.BusinessID),
		logger.SubscriptionID(n.SubscriptionID),
		logger.Amount(n.Amount, n.Currency),
		logger.RetryCount(n.FailedCount),
		slog.String("reason", n.Reason),
	)
	return nil
}

func (s *LogSender) SendPaymentEscalation(ctx context.Context, n PaymentEscalation) error {
	s.logger.LogAttrs(ctx, slog.LevelWarn, "payment escalation",
		logger.BusinessID(n.BusinessID),
		logger.SubscriptionID(n.SubscriptionID),
		logger.RetryCount(n.FailedCount),
		slog.String("last_failure", n.LastFailure),
	)
	return nil
}

func (s *LogSender) SendSubscriptionCancellation(ctx context.Context, n SubscriptionCancellation) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "subscription cancellation",
		logger.BusinessID(n.BusinessID),
		logger.SubscriptionID(n.SubscriptionID),
		slog.String("reason", n.Reason),
	)
	return nil
}
