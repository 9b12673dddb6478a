package discount

import (
	"context"

	"github.com/google/uuid"
)

// Store persists codes and their usage rows.
type Store interface {
	CreateCode(ctx context.Context, c *Code) error
	// GetCode looks a code up by its normalized string; ErrCodeNotFound if absent.
	GetCode(ctx context.Context, code string) (*Code, error)
	// CountUserRedemptions counts the distinct subscriptions userID redeemed codeID on.
	CountUserRedemptions(ctx context.Context, codeID uuid.UUID, userID string) (int64, error)
	// Redeem inserts u. With enforceCaps it also re-checks the global and
	// per-user caps and increments the code's used count, all under a per-code
	// serialization point, returning ErrUsageLimitReached or ErrUserLimitReached
	// without writing anything when a cap is exhausted.
	Redeem(ctx context.Context, u Usage, enforceCaps bool) error
	ListUsages(ctx context.Context, codeID uuid.UUID) ([]Usage, error)
}
