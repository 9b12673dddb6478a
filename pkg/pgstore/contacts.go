package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/notify"
)

// Contacts implements notify.Directory over billing_contacts.
type Contacts struct {
	db DB
}

func NewContacts(db DB) *Contacts {
	return &Contacts{db: db}
}

func (r *Contacts) Owner(ctx context.Context, businessID uuid.UUID) (notify.Recipient, error) {
	var rcp notify.Recipient
	err := r.db.QueryRow(ctx, `SELECT owner_name, email, business_name FROM billing_contacts
		WHERE business_id = $1`, businessID).Scan(&rcp.Name, &rcp.Email, &rcp.BusinessName)
	if err != nil {
		return notify.Recipient{}, notFound(err, notify.ErrRecipientNotFound)
	}
	return rcp, nil
}

// Save upserts the owner contact of businessID.
func (r *Contacts) Save(ctx context.Context, businessID uuid.UUID, ownerUserID string, rcp notify.Recipient) error {
	_, err := r.db.Exec(ctx, `INSERT INTO billing_contacts (business_id, business_name, owner_user_id, owner_name, email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (business_id) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			owner_user_id = EXCLUDED.owner_user_id,
			owner_name = EXCLUDED.owner_name,
			email = EXCLUDED.email`,
		businessID, rcp.BusinessName, ownerUserID, rcp.Name, rcp.Email)
	if err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	return nil
}
