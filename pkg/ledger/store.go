package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists payment rows. Rows are never deleted.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	// Get returns ErrPaymentNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Update persists p only if the stored status still equals expected,
	// returning ErrConcurrentUpdate otherwise.
	Update(ctx context.Context, p *Payment, expected Status) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error)
	ListPendingBefore(ctx context.Context, before time.Time) ([]Payment, error)
}
