package analytics

import (
	"context"
	"sort"
	"sync"
)

// MemoryEventStore is an in-memory event store for development and tests.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (m *MemoryEventStore) Insert(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryEventStore) ListRecent(ctx context.Context, ownerID string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.OwnerID == ownerID {
			cp := *e
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
