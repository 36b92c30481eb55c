package apps

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory application store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	apps  map[string]*Application // by ID
	byKey map[string]string       // API key -> ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps:  make(map[string]*Application),
		byKey: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *app
	m.apps[app.ID] = &cp
	m.byKey[app.APIKey] = app.ID
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *app
	return &cp, nil
}

func (m *MemoryStore) GetByAPIKey(ctx context.Context, apiKey string) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[apiKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.apps[id]
	return &cp, nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Application
	for _, app := range m.apps {
		if app.OwnerID == ownerID {
			cp := *app
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, app *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.apps[app.ID]; !ok {
		return ErrNotFound
	}
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *MemoryStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, app := range m.apps {
		if app.OwnerID == ownerID && app.Status != StatusDeleted {
			n++
		}
	}
	return n, nil
}
