package dunning

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/billingkit/pkg/ledger"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func (s *Scheduler) planName(id string) string {
	if p, err := s.billing.Plan(id); err == nil {
		return p.Name
	}
	return id
}

func (s *Scheduler) confirmed(ctx context.Context, out *subscription.Outcome) {
	sub, p := out.Subscription, out.Charge.Payment
	n := notify.RenewalConfirmation{
		BusinessID:     sub.BusinessID,
		SubscriptionID: sub.ID,
		PaymentID:      p.ID,
		PlanName:       s.planName(sub.PlanID),
		Amount:         p.Amount,
		Currency:       p.Currency,
		PeriodEnd:      sub.CurrentPeriodEnd,
	}
	if d := out.Charge.Discount; d != nil {
		n.DiscountAmount = d.DiscountAmount
	}
	s.notified(ctx, sub, notify.TagRenewalConfirmation, s.sender.SendRenewalConfirmation(ctx, n))
}

func (s *Scheduler) retryFailed(ctx context.Context, out *subscription.Outcome, cause error) {
	sub := out.Subscription
	n := notify.PaymentRetryFailure{
		BusinessID:     sub.BusinessID,
		SubscriptionID: sub.ID,
		PlanName:       s.planName(sub.PlanID),
		FailedCount:    sub.FailedPaymentCount,
		MaxRetries:     s.cfg.MaxRetries,
		NextRetryAt:    sub.NextRetryAt,
		Reason:         failureReason(out, cause),
	}
	if p := payment(out); p != nil {
		n.Amount, n.Currency = p.Amount, p.Currency
	} else if plan, err := s.billing.Plan(sub.PlanID); err == nil {
		n.Amount, n.Currency = plan.Price.Amount, plan.Price.Currency
	}
	s.notified(ctx, sub, notify.TagPaymentRetryFailure, s.sender.SendPaymentRetryFailure(ctx, n))
}

func (s *Scheduler) escalate(ctx context.Context, rep *Report, out *subscription.Outcome, cause error) {
	sub := out.Subscription
	rep.escalated()
	s.metrics.Escalations.Inc()
	n := notify.PaymentEscalation{
		BusinessID:     sub.BusinessID,
		SubscriptionID: sub.ID,
		PlanName:       s.planName(sub.PlanID),
		FailedCount:    sub.FailedPaymentCount,
		MaxRetries:     s.cfg.MaxRetries,
		LastFailure:    failureReason(out, cause),
	}
	if p := payment(out); p != nil {
		n.Amount, n.Currency = p.Amount, p.Currency
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "payment failures escalated",
		logger.BusinessID(sub.BusinessID),
		logger.SubscriptionID(sub.ID),
		logger.RetryCount(sub.FailedPaymentCount),
	)
	s.notified(ctx, sub, notify.TagPaymentEscalation, s.sender.SendPaymentEscalation(ctx, n))
}

func (s *Scheduler) canceled(ctx context.Context, sub *subscription.Subscription) {
	s.metrics.Cancellations.WithLabelValues(sub.CancellationReason).Inc()
	n := notify.SubscriptionCancellation{
		BusinessID:     sub.BusinessID,
		SubscriptionID: sub.ID,
		PlanName:       s.planName(sub.PlanID),
		Reason:         sub.CancellationReason,
	}
	if sub.CanceledAt != nil {
		n.CanceledAt = *sub.CanceledAt
	}
	s.notified(ctx, sub, notify.TagSubscriptionCancellation, s.sender.SendSubscriptionCancellation(ctx, n))
}

// notified logs a failed notification; it never affects the pass.
func (s *Scheduler) notified(ctx context.Context, sub *subscription.Subscription, tag string, err error) {
	if err == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelError, "notification failed",
		slog.String("tag", tag),
		logger.BusinessID(sub.BusinessID),
		logger.SubscriptionID(sub.ID),
		logger.Error(err),
	)
}

func payment(out *subscription.Outcome) *ledger.Payment {
	if out.Charge == nil {
		return nil
	}
	return out.Charge.Payment
}

func failureReason(out *subscription.Outcome, cause error) string {
	if p := payment(out); p != nil && p.FailureMessage != "" {
		return p.FailureMessage
	}
	if cause != nil {
		return cause.Error()
	}
	return "unknown"
}
