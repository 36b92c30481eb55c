package license

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory license store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	licenses map[string]*License // by ID
	byKey    map[string]string   // key -> ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		licenses: make(map[string]*License),
		byKey:    make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, l *License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byKey[l.Key]; exists {
		return ErrDuplicateKey
	}

	cp := *l
	cp.Metadata = copyMetadata(l.Metadata)
	m.licenses[l.ID] = &cp
	m.byKey[l.Key] = l.ID
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.licenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyOf(l), nil
}

func (m *MemoryStore) GetByKey(ctx context.Context, key string) (*License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyOf(m.licenses[id]), nil
}

func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*License
	for _, l := range m.licenses {
		if filter.OwnerID != "" && l.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ApplicationID != "" && l.ApplicationID != filter.ApplicationID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		all = append(all, l)
	}

	// Newest first, ID as tiebreaker so pagination is stable.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	result := make([]*License, 0, filter.Limit)
	for _, l := range all {
		if !filter.CursorCreatedAt.IsZero() {
			if l.CreatedAt.After(filter.CursorCreatedAt) {
				continue
			}
			if l.CreatedAt.Equal(filter.CursorCreatedAt) && l.ID >= filter.CursorID {
				continue
			}
		}
		result = append(result, m.copyOf(l))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, l *License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.licenses[l.ID]
	if !ok {
		return ErrNotFound
	}

	delete(m.byKey, existing.Key)
	cp := *l
	cp.Metadata = copyMetadata(l.Metadata)
	m.licenses[l.ID] = &cp
	m.byKey[l.Key] = l.ID
	return nil
}

// Consume increments usage if and only if the license is still active and
// within its cap. The whole check-and-increment happens under the store
// lock, mirroring the conditional UPDATE the Postgres store uses.
func (m *MemoryStore) Consume(ctx context.Context, id string, amount int, now time.Time) (*License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[id]
	if !ok {
		return nil, ErrNotFound
	}
	if l.Status != StatusActive {
		return nil, ErrNotActive
	}
	if l.MaxUses > 0 && l.CurrentUses+amount > l.MaxUses {
		return nil, ErrUsageExceeded
	}

	l.CurrentUses += amount
	l.UpdatedAt = now
	return m.copyOf(l), nil
}

func (m *MemoryStore) MarkExpired(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status == StatusActive {
		l.Status = StatusExpired
		l.UpdatedAt = now
	}
	return nil
}

func (m *MemoryStore) RevokeByApplication(ctx context.Context, appID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.licenses {
		if l.ApplicationID != appID || l.Status == StatusRevoked {
			continue
		}
		l.Status = StatusRevoked
		l.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MemoryStore) CountByApplication(ctx context.Context, appID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, l := range m.licenses {
		if l.ApplicationID == appID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, l := range m.licenses {
		if l.OwnerID == ownerID && l.Status == StatusActive {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.licenses[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byKey, l.Key)
	delete(m.licenses, id)
	return nil
}

func (m *MemoryStore) copyOf(l *License) *License {
	cp := *l
	cp.Metadata = copyMetadata(l.Metadata)
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		cp.ExpiresAt = &t
	}
	return &cp
}
