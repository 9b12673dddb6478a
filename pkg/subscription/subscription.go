package subscription

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/discount"
)

// Subscription is a business's subscription to a plan. A business may have
// many rows over time but at most one in a blocking status. Rows are never
// deleted; canceled ones stay for history.
type Subscription struct {
	ID                 uuid.UUID         `json:"id"`
	BusinessID         uuid.UUID         `json:"business_id"`
	PlanID             string            `json:"plan_id"`
	Status             Status            `json:"status"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	TrialStart         *time.Time        `json:"trial_start,omitempty"`
	TrialEnd           *time.Time        `json:"trial_end,omitempty"`
	AutoRenewal        bool              `json:"auto_renewal"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	PaymentMethodID    *uuid.UUID        `json:"payment_method_id,omitempty"`
	FailedPaymentCount int               `json:"failed_payment_count"`
	LastFailureAt      *time.Time        `json:"last_failure_at,omitempty"`
	NextRetryAt        *time.Time        `json:"next_retry_at,omitempty"`
	NextBillingDate    *time.Time        `json:"next_billing_date,omitempty"`
	PendingDiscount    *discount.Pending `json:"pending_discount,omitempty"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	Version            int64             `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrial
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// TrialEnded reports whether the trial window is over at now.
func (s *Subscription) TrialEnded(now time.Time) bool {
	return s.TrialEnd != nil && !now.Before(*s.TrialEnd)
}

// TrialDaysRemainingAt returns whole days left in the trial, rounding partial days.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() || s.TrialEnd == nil {
		return 0
	}
	remaining := s.TrialEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours()/24 + 0.5)
}

// RenewalDue reports whether an active subscription has reached its billing date.
func (s *Subscription) RenewalDue(now time.Time) bool {
	return s.IsActive() && s.NextBillingDate != nil && !now.Before(*s.NextBillingDate)
}

// RetryDue reports whether the next payment retry may run at now.
func (s *Subscription) RetryDue(now time.Time) bool {
	return s.NextRetryAt == nil || !now.Before(*s.NextRetryAt)
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.TrialStart = cloneTime(s.TrialStart)
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.LastFailureAt = cloneTime(s.LastFailureAt)
	c.NextRetryAt = cloneTime(s.NextRetryAt)
	c.NextBillingDate = cloneTime(s.NextBillingDate)
	c.CanceledAt = cloneTime(s.CanceledAt)
	if s.PaymentMethodID != nil {
		id := *s.PaymentMethodID
		c.PaymentMethodID = &id
	}
	if s.PendingDiscount != nil {
		pd := *s.PendingDiscount
		pd.AppliedPaymentIDs = slices.Clone(s.PendingDiscount.AppliedPaymentIDs)
		c.PendingDiscount = &pd
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
