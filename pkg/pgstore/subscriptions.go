package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

const subscriptionColumns = `id, business_id, plan_id, status, current_period_start, current_period_end,
	trial_start, trial_end, auto_renewal, cancel_at_period_end, payment_method_id,
	failed_payment_count, last_failure_at, next_retry_at, next_billing_date, pending_discount,
	canceled_at, cancellation_reason, version, created_at, updated_at`

// Subscriptions implements subscription.Store.
type Subscriptions struct {
	db DB
}

func NewSubscriptions(db DB) *Subscriptions {
	return &Subscriptions{db: db}
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := row.Scan(
		&s.ID, &s.BusinessID, &s.PlanID, &s.Status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.TrialStart, &s.TrialEnd, &s.AutoRenewal, &s.CancelAtPeriodEnd, &s.PaymentMethodID,
		&s.FailedPaymentCount, &s.LastFailureAt, &s.NextRetryAt, &s.NextBillingDate, &s.PendingDiscount,
		&s.CanceledAt, &s.CancellationReason, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Subscriptions) Create(ctx context.Context, s *subscription.Subscription) error {
	if s.Version == 0 {
		s.Version = 1
	}
	_, err := r.db.Exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		s.ID, s.BusinessID, s.PlanID, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.TrialStart, s.TrialEnd, s.AutoRenewal, s.CancelAtPeriodEnd, s.PaymentMethodID,
		s.FailedPaymentCount, s.LastFailureAt, s.NextRetryAt, s.NextBillingDate, s.PendingDiscount,
		s.CanceledAt, s.CancellationReason, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *Subscriptions) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	return s, notFound(err, subscription.ErrSubscriptionNotFound)
}

func (r *Subscriptions) GetByBusiness(ctx context.Context, businessID uuid.UUID) (*subscription.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE business_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, businessID))
	return s, notFound(err, subscription.ErrSubscriptionNotFound)
}

// Update is a compare-and-set on version.
func (r *Subscriptions) Update(ctx context.Context, s *subscription.Subscription) error {
	tag, err := r.db.Exec(ctx, `UPDATE subscriptions SET
			plan_id = $3, status = $4, current_period_start = $5, current_period_end = $6,
			trial_start = $7, trial_end = $8, auto_renewal = $9, cancel_at_period_end = $10,
			payment_method_id = $11, failed_payment_count = $12, last_failure_at = $13,
			next_retry_at = $14, next_billing_date = $15, pending_discount = $16,
			canceled_at = $17, cancellation_reason = $18, updated_at = $19,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		s.ID, s.Version, s.PlanID, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.TrialStart, s.TrialEnd, s.AutoRenewal, s.CancelAtPeriodEnd,
		s.PaymentMethodID, s.FailedPaymentCount, s.LastFailureAt,
		s.NextRetryAt, s.NextBillingDate, s.PendingDiscount,
		s.CanceledAt, s.CancellationReason, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, s.ID); err != nil {
			return err
		}
		return subscription.ErrConcurrentUpdate
	}
	s.Version++
	return nil
}

func (r *Subscriptions) ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]subscription.Subscription, error) {
	return r.list(ctx, `WHERE business_id = $1 ORDER BY created_at, id`, businessID)
}

func (r *Subscriptions) ListByStatus(ctx context.Context, status subscription.Status, limit int) ([]subscription.Subscription, error) {
	return r.list(ctx, `WHERE status = $1 ORDER BY created_at, id LIMIT $2`, status, limitArg(limit))
}

func (r *Subscriptions) ListTrialsEndingBefore(ctx context.Context, t time.Time, limit int) ([]subscription.Subscription, error) {
	return r.list(ctx, `WHERE status = $1 AND trial_end <= $2 ORDER BY trial_end, id LIMIT $3`,
		subscription.StatusTrial, t, limitArg(limit))
}

func (r *Subscriptions) ListRenewalsDueBefore(ctx context.Context, t time.Time, limit int) ([]subscription.Subscription, error) {
	return r.list(ctx, `WHERE status = $1 AND next_billing_date <= $2 ORDER BY next_billing_date, id LIMIT $3`,
		subscription.StatusActive, t, limitArg(limit))
}

func (r *Subscriptions) list(ctx context.Context, where string, args ...any) ([]subscription.Subscription, error) {
	rows, err := r.db.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return collect(rows, scanSubscription)
}

// PaymentMethods implements subscription.PaymentMethodStore. The partial
// unique index on (business_id) WHERE is_default keeps one default.
type PaymentMethods struct {
	db DB
}

func NewPaymentMethods(db DB) *PaymentMethods {
	return &PaymentMethods{db: db}
}

const paymentMethodColumns = `id, business_id, provider_customer_id, provider_token, brand, last4,
	exp_month, exp_year, is_default, created_at`

func scanPaymentMethod(row pgx.Row) (*subscription.PaymentMethod, error) {
	var pm subscription.PaymentMethod
	err := row.Scan(&pm.ID, &pm.BusinessID, &pm.ProviderCustomerID, &pm.ProviderToken, &pm.Brand, &pm.Last4,
		&pm.ExpMonth, &pm.ExpYear, &pm.IsDefault, &pm.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *PaymentMethods) Default(ctx context.Context, businessID uuid.UUID) (*subscription.PaymentMethod, error) {
	pm, err := scanPaymentMethod(r.db.QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods
		WHERE business_id = $1 AND is_default`, businessID))
	return pm, notFound(err, subscription.ErrNoPaymentMethod)
}

func (r *PaymentMethods) Get(ctx context.Context, id uuid.UUID) (*subscription.PaymentMethod, error) {
	pm, err := scanPaymentMethod(r.db.QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods WHERE id = $1`, id))
	return pm, notFound(err, subscription.ErrPaymentMethodNotFound)
}

func (r *PaymentMethods) Save(ctx context.Context, pm *subscription.PaymentMethod) error {
	if pm.CreatedAt.IsZero() {
		pm.CreatedAt = time.Now().UTC()
	}
	return pg.InTx(ctx, r.db, func(tx pgx.Tx) error {
		if pm.IsDefault {
			if _, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default = FALSE
				WHERE business_id = $1 AND is_default AND id <> $2`, pm.BusinessID, pm.ID); err != nil {
				return fmt.Errorf("demote default payment method: %w", err)
			}
		}
		_, err := tx.Exec(ctx, `INSERT INTO payment_methods (`+paymentMethodColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				provider_customer_id = EXCLUDED.provider_customer_id,
				provider_token = EXCLUDED.provider_token,
				brand = EXCLUDED.brand, last4 = EXCLUDED.last4,
				exp_month = EXCLUDED.exp_month, exp_year = EXCLUDED.exp_year,
				is_default = EXCLUDED.is_default`,
			pm.ID, pm.BusinessID, pm.ProviderCustomerID, pm.ProviderToken, pm.Brand, pm.Last4,
			pm.ExpMonth, pm.ExpYear, pm.IsDefault, pm.CreatedAt)
		if err != nil {
			return fmt.Errorf("save payment method: %w", err)
		}
		return nil
	})
}

func (r *PaymentMethods) SetDefault(ctx context.Context, businessID, id uuid.UUID) error {
	return pg.InTx(ctx, r.db, func(tx pgx.Tx) error {
		var owner uuid.UUID
		err := tx.QueryRow(ctx, `SELECT business_id FROM payment_methods WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
		if err != nil {
			return notFound(err, subscription.ErrPaymentMethodNotFound)
		}
		if owner != businessID {
			return subscription.ErrPaymentMethodNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default = FALSE
			WHERE business_id = $1 AND is_default`, businessID); err != nil {
			return fmt.Errorf("demote default payment method: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default = TRUE WHERE id = $1`, id); err != nil {
			return fmt.Errorf("set default payment method: %w", err)
		}
		return nil
	})
}

// notFound maps pgx.ErrNoRows to sentinel and passes other errors through.
func notFound(err, sentinel error) error {
	if err == nil {
		return nil
	}
	if pg.IsNotFoundError(err) {
		return sentinel
	}
	return err
}
