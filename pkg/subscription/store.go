package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists subscriptions. Update is a compare-and-set on Version:
// it fails with ErrConcurrentUpdate unless the stored version equals
// s.Version, and increments s.Version on success.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// GetByBusiness returns the most recently created subscription of a business.
	GetByBusiness(ctx context.Context, businessID uuid.UUID) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	ListByBusiness(ctx context.Context, businessID uuid.UUID) ([]Subscription, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Subscription, error)
	ListTrialsEndingBefore(ctx context.Context, t time.Time, limit int) ([]Subscription, error)
	ListRenewalsDueBefore(ctx context.Context, t time.Time, limit int) ([]Subscription, error)
}

// PaymentMethod is a tokenized card kept with the provider. Raw card data is
// never stored; Last4, Brand and expiry are for display.
type PaymentMethod struct {
	ID                 uuid.UUID `json:"id"`
	BusinessID         uuid.UUID `json:"business_id"`
	ProviderCustomerID string    `json:"-"`
	ProviderToken      string    `json:"-"`
	Brand              string    `json:"brand"`
	Last4              string    `json:"last4"`
	ExpMonth           int       `json:"exp_month"`
	ExpYear            int       `json:"exp_year"`
	IsDefault          bool      `json:"is_default"`
	CreatedAt          time.Time `json:"created_at"`
}

// PaymentMethodStore keeps exactly one default method per business.
type PaymentMethodStore interface {
	// Default returns ErrNoPaymentMethod when the business has none.
	Default(ctx context.Context, businessID uuid.UUID) (*PaymentMethod, error)
	Get(ctx context.Context, id uuid.UUID) (*PaymentMethod, error)
	// Save stores pm; a default pm demotes the previous default.
	Save(ctx context.Context, pm *PaymentMethod) error
	SetDefault(ctx context.Context, businessID, id uuid.UUID) error
}
