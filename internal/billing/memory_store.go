package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory payment store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[string]*Payment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]*Payment)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBySession(ctx context.Context, sessionID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.StripeSessionID == sessionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status PaymentStatus, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = now
	return nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payment
	for _, p := range m.payments {
		if p.OwnerID == ownerID {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
