package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/ledger"
)

const paymentColumns = `id, subscription_id, business_id, amount, currency, status, payment_method_id,
	idempotency_key, provider_id, failure_code, failure_message, description,
	refunded_amount, refund_reason, provider_refund_id,
	created_at, updated_at, completed_at, refunded_at, canceled_at`

// Payments implements ledger.Store.
type Payments struct {
	db DB
}

func NewPayments(db DB) *Payments {
	return &Payments{db: db}
}

func scanPayment(row pgx.Row) (*ledger.Payment, error) {
	var p ledger.Payment
	err := row.Scan(&p.ID, &p.SubscriptionID, &p.BusinessID, &p.Amount, &p.Currency, &p.Status, &p.PaymentMethodID,
		&p.IdempotencyKey, &p.ProviderID, &p.FailureCode, &p.FailureMessage, &p.Description,
		&p.RefundedAmount, &p.RefundReason, &p.ProviderRefundID,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.RefundedAt, &p.CanceledAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Payments) Create(ctx context.Context, p *ledger.Payment) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.SubscriptionID, p.BusinessID, p.Amount, p.Currency, p.Status, p.PaymentMethodID,
		p.IdempotencyKey, p.ProviderID, p.FailureCode, p.FailureMessage, p.Description,
		p.RefundedAmount, p.RefundReason, p.ProviderRefundID,
		p.CreatedAt, p.UpdatedAt, p.CompletedAt, p.RefundedAt, p.CanceledAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Payments) Get(ctx context.Context, id uuid.UUID) (*ledger.Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	return p, notFound(err, ledger.ErrPaymentNotFound)
}

// Update writes p only while the stored status is still expected.
func (r *Payments) Update(ctx context.Context, p *ledger.Payment, expected ledger.Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE payments SET
			status = $3, provider_id = $4, failure_code = $5, failure_message = $6,
			refunded_amount = $7, refund_reason = $8, provider_refund_id = $9,
			updated_at = $10, completed_at = $11, refunded_at = $12, canceled_at = $13
		WHERE id = $1 AND status = $2`,
		p.ID, expected, p.Status, p.ProviderID, p.FailureCode, p.FailureMessage,
		p.RefundedAmount, p.RefundReason, p.ProviderRefundID,
		p.UpdatedAt, p.CompletedAt, p.RefundedAt, p.CanceledAt)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, p.ID); err != nil {
			return err
		}
		return ledger.ErrConcurrentUpdate
	}
	return nil
}

func (r *Payments) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]ledger.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE subscription_id = $1 ORDER BY created_at, id`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return collect(rows, scanPayment)
}

func (r *Payments) ListPendingBefore(ctx context.Context, before time.Time) ([]ledger.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 AND created_at < $2 ORDER BY created_at, id`, ledger.StatusPending, before)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	return collect(rows, scanPayment)
}
