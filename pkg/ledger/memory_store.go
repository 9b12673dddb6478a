package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]Payment
	order    []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[uuid.UUID]Payment)}
}

func (s *MemoryStore) Create(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = clonePayment(*p)
	s.order = append(s.order, p.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := clonePayment(p)
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, p *Payment, expected Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.payments[p.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	if cur.Status != expected {
		return ErrConcurrentUpdate
	}
	s.payments[p.ID] = clonePayment(*p)
	return nil
}

func (s *MemoryStore) ListBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	return s.filter(func(p Payment) bool { return p.SubscriptionID == subscriptionID }), nil
}

func (s *MemoryStore) ListPendingBefore(_ context.Context, before time.Time) ([]Payment, error) {
	return s.filter(func(p Payment) bool {
		return p.Status == StatusPending && p.CreatedAt.Before(before)
	}), nil
}

func (s *MemoryStore) filter(keep func(Payment) bool) []Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Payment
	for _, id := range s.order {
		if p := s.payments[id]; keep(p) {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

func clonePayment(p Payment) Payment {
	if p.RefundedAmount != nil {
		v := *p.RefundedAmount
		p.RefundedAmount = &v
	}
	return p
}
