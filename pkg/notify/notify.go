package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sender delivers billing notifications. Callers treat every method as fire
// and forget: a returned error is logged, never acted on.
type Sender interface {
	SendRenewalConfirmation(ctx context.Context, n RenewalConfirmation) error
	SendPaymentRetryFailure(ctx context.Context, n PaymentRetryFailure) error
	SendPaymentEscalation(ctx context.Context, n PaymentEscalation) error
	SendSubscriptionCancellation(ctx context.Context, n SubscriptionCancellation) error
}

// RenewalConfirmation is sent after any successful charge: trial conversion,
// renewal or a recovered retry.
type RenewalConfirmation struct {
	BusinessID     uuid.UUID
	SubscriptionID uuid.UUID
	PaymentID      uuid.UUID
	PlanName       string
	Amount         int64
	DiscountAmount int64
	Currency       string
	PeriodEnd      time.Time
}

// PaymentRetryFailure is sent after a failed charge that will be retried.
type PaymentRetryFailure struct {
	BusinessID     uuid.UUID
	SubscriptionID uuid.UUID
	PlanName       string
	Amount         int64
	Currency       string
	FailedCount    int
	MaxRetries     int
	NextRetryAt    *time.Time
	Reason         string
}

// PaymentEscalation alerts support staff that a subscription keeps failing.
type PaymentEscalation struct {
	BusinessID     uuid.UUID
	SubscriptionID uuid.UUID
	PlanName       string
	Amount         int64
	Currency       string
	FailedCount    int
	MaxRetries     int
	LastFailure    string
}

// SubscriptionCancellation is sent when a subscription reaches a terminal
// status.
type SubscriptionCancellation struct {
	BusinessID     uuid.UUID
	SubscriptionID uuid.UUID
	PlanName       string
	Reason         string
	CanceledAt     time.Time
}

// Recipient is the owner contact of a business.
type Recipient struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	BusinessName string `json:"business_name"`
}

// Directory looks up who receives mail for a business.
type Directory interface {
	Owner(ctx context.Context, businessID uuid.UUID) (Recipient, error)
}
