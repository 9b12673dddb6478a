package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[uuid.UUID]*Subscription
	order []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	m.subs[s.ID] = s.Clone()
	m.order = append(m.order, s.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetByBusiness(_ context.Context, businessID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if s := m.subs[m.order[i]]; s.BusinessID == businessID {
			return s.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) Update(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subs[s.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if cur.Version != s.Version {
		return ErrConcurrentUpdate
	}
	s.Version++
	m.subs[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) ListByBusiness(_ context.Context, businessID uuid.UUID) ([]Subscription, error) {
	return m.filter(0, func(s *Subscription) bool { return s.BusinessID == businessID }), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Subscription, error) {
	return m.filter(limit, func(s *Subscription) bool { return s.Status == status }), nil
}

func (m *MemoryStore) ListTrialsEndingBefore(_ context.Context, t time.Time, limit int) ([]Subscription, error) {
	return m.filter(limit, func(s *Subscription) bool {
		return s.Status == StatusTrial && s.TrialEnd != nil && !s.TrialEnd.After(t)
	}), nil
}

func (m *MemoryStore) ListRenewalsDueBefore(_ context.Context, t time.Time, limit int) ([]Subscription, error) {
	return m.filter(limit, func(s *Subscription) bool {
		return s.Status == StatusActive && s.NextBillingDate != nil && !s.NextBillingDate.After(t)
	}), nil
}

// filter returns matches in creation order; limit <= 0 means all.
func (m *MemoryStore) filter(limit int, keep func(*Subscription) bool) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	for _, id := range m.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		if s := m.subs[id]; keep(s) {
			out = append(out, *s.Clone())
		}
	}
	return out
}

// MemoryPaymentMethods is an in-process PaymentMethodStore.
type MemoryPaymentMethods struct {
	mu      sync.RWMutex
	methods map[uuid.UUID]PaymentMethod
}

func NewMemoryPaymentMethods() *MemoryPaymentMethods {
	return &MemoryPaymentMethods{methods: make(map[uuid.UUID]PaymentMethod)}
}

func (m *MemoryPaymentMethods) Default(_ context.Context, businessID uuid.UUID) (*PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pm := range m.methods {
		if pm.BusinessID == businessID && pm.IsDefault {
			return &pm, nil
		}
	}
	return nil, ErrNoPaymentMethod
}

func (m *MemoryPaymentMethods) Get(_ context.Context, id uuid.UUID) (*PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.methods[id]
	if !ok {
		return nil, ErrPaymentMethodNotFound
	}
	return &pm, nil
}

func (m *MemoryPaymentMethods) Save(_ context.Context, pm *PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pm.IsDefault {
		m.demoteLocked(pm.BusinessID)
	}
	m.methods[pm.ID] = *pm
	return nil
}

func (m *MemoryPaymentMethods) SetDefault(_ context.Context, businessID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.methods[id]
	if !ok || pm.BusinessID != businessID {
		return ErrPaymentMethodNotFound
	}
	m.demoteLocked(businessID)
	pm.IsDefault = true
	m.methods[id] = pm
	return nil
}

func (m *MemoryPaymentMethods) demoteLocked(businessID uuid.UUID) {
	for id, pm := range m.methods {
		if pm.BusinessID == businessID && pm.IsDefault {
			pm.IsDefault = false
			m.methods[id] = pm
		}
	}
}
