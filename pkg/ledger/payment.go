package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a payment row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusRefunded  Status = "refunded"
)

// Payment records one gateway charge attempt and everything that happened to it.
type Payment struct {
	ID              uuid.UUID  `json:"id"`
	SubscriptionID  uuid.UUID  `json:"subscription_id"`
	BusinessID      uuid.UUID  `json:"business_id"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Status          Status     `json:"status"`
	PaymentMethodID *uuid.UUID `json:"payment_method_id,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key"`
	ProviderID      string     `json:"provider_id,omitempty"`
	FailureCode     string     `json:"failure_code,omitempty"`
	FailureMessage  string     `json:"failure_message,omitempty"`
	Description     string     `json:"description,omitempty"`

	RefundedAmount   *int64 `json:"refunded_amount,omitempty"`
	RefundReason     string `json:"refund_reason,omitempty"`
	ProviderRefundID string `json:"provider_refund_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
}

func (p *Payment) Succeeded() bool {
	return p.Status == StatusSucceeded
}

// Refundable returns the amount that can still be refunded.
func (p *Payment) Refundable() int64 {
	if p.RefundedAmount == nil {
		return p.Amount
	}
	return p.Amount - *p.RefundedAmount
}
