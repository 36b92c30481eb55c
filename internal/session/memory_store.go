package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory session store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByLicense(ctx context.Context, licenseID string, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, sess := range m.sessions {
		if sess.LicenseID == licenseID {
			cp := *sess
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, sess := range m.sessions {
		if sess.OwnerID == ownerID && sess.Status == StatusActive {
			n++
		}
	}
	return n, nil
}
