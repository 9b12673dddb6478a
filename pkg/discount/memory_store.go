package discount

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. A single mutex is the per-code
// serialization point for Redeem.
type MemoryStore struct {
	mu     sync.Mutex
	codes  map[string]*Code
	usages []Usage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]*Code)}
}

func (s *MemoryStore) CreateCode(_ context.Context, c *Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[c.Code]; ok {
		return ErrDuplicateCode
	}
	cp := *c
	s.codes[c.Code] = &cp
	return nil
}

func (s *MemoryStore) GetCode(_ context.Context, code string) (*Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CountUserRedemptions(_ context.Context, codeID uuid.UUID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countUserLocked(codeID, userID), nil
}

func (s *MemoryStore) countUserLocked(codeID uuid.UUID, userID string) int64 {
	subs := make(map[uuid.UUID]struct{})
	for _, u := range s.usages {
		if u.CodeID == codeID && u.UserID == userID {
			subs[u.SubscriptionID] = struct{}{}
		}
	}
	return int64(len(subs))
}

func (s *MemoryStore) Redeem(_ context.Context, u Usage, enforceCaps bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var code *Code
	for _, c := range s.codes {
		if c.ID == u.CodeID {
			code = c
			break
		}
	}
	if code == nil {
		return ErrCodeNotFound
	}
	for _, existing := range s.usages {
		if existing.CodeID == u.CodeID && existing.PaymentID == u.PaymentID {
			return ErrAlreadyApplied
		}
	}

	if enforceCaps {
		if code.MaxUses > 0 && code.UsedCount >= code.MaxUses {
			return ErrUsageLimitReached
		}
		if code.MaxUsesPerUser > 0 && s.countUserLocked(code.ID, u.UserID) >= code.MaxUsesPerUser {
			return ErrUserLimitReached
		}
		code.UsedCount++
		code.UpdatedAt = u.CreatedAt
	}
	s.usages = append(s.usages, u)
	return nil
}

func (s *MemoryStore) ListUsages(_ context.Context, codeID uuid.UUID) ([]Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Usage
	for _, u := range s.usages {
		if u.CodeID == codeID {
			out = append(out, u)
		}
	}
	return out, nil
}
