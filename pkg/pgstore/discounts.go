package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

const codeColumns = `id, code, type, value, currency, active, valid_from, valid_until,
	max_uses, max_uses_per_user, used_count, min_purchase_amount, plan_ids,
	is_recurring, max_recurring_uses, created_at, updated_at`

// Discounts implements discount.Store. Redeem serializes on the code row
// with SELECT ... FOR UPDATE.
type Discounts struct {
	db DB
}

func NewDiscounts(db DB) *Discounts {
	return &Discounts{db: db}
}

func scanCode(row pgx.Row) (*discount.Code, error) {
	var c discount.Code
	err := row.Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.Currency, &c.Active, &c.ValidFrom, &c.ValidUntil,
		&c.MaxUses, &c.MaxUsesPerUser, &c.UsedCount, &c.MinPurchaseAmount, &c.PlanIDs,
		&c.IsRecurring, &c.MaxRecurringUses, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Discounts) CreateCode(ctx context.Context, c *discount.Code) error {
	planIDs := c.PlanIDs
	if planIDs == nil {
		planIDs = []string{}
	}
	_, err := r.db.Exec(ctx, `INSERT INTO discount_codes (`+codeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		c.ID, c.Code, c.Type, c.Value, c.Currency, c.Active, c.ValidFrom, c.ValidUntil,
		c.MaxUses, c.MaxUsesPerUser, c.UsedCount, c.MinPurchaseAmount, planIDs,
		c.IsRecurring, c.MaxRecurringUses, c.CreatedAt, c.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return discount.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("insert discount code: %w", err)
	}
	return nil
}

func (r *Discounts) GetCode(ctx context.Context, code string) (*discount.Code, error) {
	c, err := scanCode(r.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM discount_codes WHERE code = $1`, code))
	return c, notFound(err, discount.ErrCodeNotFound)
}

func (r *Discounts) CountUserRedemptions(ctx context.Context, codeID uuid.UUID, userID string) (int64, error) {
	return countUserRedemptions(ctx, r.db, codeID, userID)
}

func countUserRedemptions(ctx context.Context, q DB, codeID uuid.UUID, userID string) (int64, error) {
	var n int64
	err := q.QueryRow(ctx, `SELECT count(DISTINCT subscription_id) FROM discount_code_usages
		WHERE discount_code_id = $1 AND user_id = $2`, codeID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

// Redeem inserts u inside one transaction holding the code row lock, so two
// concurrent redemptions cannot both pass a cap only one may take.
func (r *Discounts) Redeem(ctx context.Context, u discount.Usage, enforceCaps bool) error {
	return pg.InTx(ctx, r.db, func(tx pgx.Tx) error {
		var maxUses, maxPerUser, used int64
		err := tx.QueryRow(ctx, `SELECT max_uses, max_uses_per_user, used_count
			FROM discount_codes WHERE id = $1 FOR UPDATE`, u.CodeID).Scan(&maxUses, &maxPerUser, &used)
		if err != nil {
			return notFound(err, discount.ErrCodeNotFound)
		}

		var applied bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discount_code_usages
			WHERE discount_code_id = $1 AND payment_id = $2)`, u.CodeID, u.PaymentID).Scan(&applied); err != nil {
			return fmt.Errorf("check usage: %w", err)
		}
		if applied {
			return discount.ErrAlreadyApplied
		}

		if enforceCaps {
			if maxUses > 0 && used >= maxUses {
				return discount.ErrUsageLimitReached
			}
			if maxPerUser > 0 {
				n, err := countUserRedemptions(ctx, tx, u.CodeID, u.UserID)
				if err != nil {
					return err
				}
				if n >= maxPerUser {
					return discount.ErrUserLimitReached
				}
			}
			if _, err := tx.Exec(ctx, `UPDATE discount_codes SET used_count = used_count + 1, updated_at = $2
				WHERE id = $1`, u.CodeID, u.CreatedAt); err != nil {
				return fmt.Errorf("increment usage: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `INSERT INTO discount_code_usages (id, discount_code_id, subscription_id, user_id,
				payment_id, amount_before, discount_amount, amount_after, currency, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			u.ID, u.CodeID, u.SubscriptionID, u.UserID,
			u.PaymentID, u.AmountBefore, u.DiscountAmount, u.AmountAfter, u.Currency, u.CreatedAt)
		if pg.IsDuplicateKeyError(err) {
			return discount.ErrAlreadyApplied
		}
		if err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}
		return nil
	})
}

func (r *Discounts) ListUsages(ctx context.Context, codeID uuid.UUID) ([]discount.Usage, error) {
	rows, err := r.db.Query(ctx, `SELECT id, discount_code_id, subscription_id, user_id, payment_id,
			amount_before, discount_amount, amount_after, currency, created_at
		FROM discount_code_usages WHERE discount_code_id = $1 ORDER BY created_at, id`, codeID)
	if err != nil {
		return nil, fmt.Errorf("list usages: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*discount.Usage, error) {
		var u discount.Usage
		if err := row.Scan(&u.ID, &u.CodeID, &u.SubscriptionID, &u.UserID, &u.PaymentID,
			&u.AmountBefore, &u.DiscountAmount, &u.AmountAfter, &u.Currency, &u.CreatedAt); err != nil {
			return nil, err
		}
		return &u, nil
	})
}
