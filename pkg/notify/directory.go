package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[uuid.UUID]Recipient
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{owners: make(map[uuid.UUID]Recipient)}
}

// Set stores the owner of businessID.
func (d *MemoryDirectory) Set(businessID uuid.UUID, r Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[businessID] = r
}

// Owner implements Directory.
func (d *MemoryDirectory) Owner(_ context.Context, businessID uuid.UUID) (Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.owners[businessID]
	if !ok {
		return Recipient{}, ErrRecipientNotFound
	}
	return r, nil
}

// Save stores the owner of businessID. ownerUserID is not kept in memory.
func (d *MemoryDirectory) Save(_ context.Context, businessID uuid.UUID, _ string, r Recipient) error {
	d.Set(businessID, r)
	return nil
}
