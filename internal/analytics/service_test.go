package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter struct {
	n     int
	err   error
	calls int
}

func (c *fixedCounter) CountActive(ctx context.Context, ownerID string) (int, error) {
	c.calls++
	return c.n, c.err
}

func TestGetSummary(t *testing.T) {
	svc := NewService(
		&fixedCounter{n: 3},
		&fixedCounter{n: 12},
		&fixedCounter{n: 4},
		nil, nil,
	)

	s, err := svc.GetSummary(t.Context(), "usr_owner")
	require.NoError(t, err)
	assert.Equal(t, 3, s.ApplicationCount)
	assert.Equal(t, 12, s.ActiveLicenseCount)
	assert.Equal(t, 4, s.ActiveSessionCount)
}

func TestGetSummary_FailedCounterReadsZero(t *testing.T) {
	svc := NewService(
		&fixedCounter{n: 3},
		&fixedCounter{err: errors.New("store down")},
		&fixedCounter{n: 4},
		nil, nil,
	)

	s, err := svc.GetSummary(t.Context(), "usr_owner")
	require.NoError(t, err)
	assert.Equal(t, 3, s.ApplicationCount)
	assert.Equal(t, 0, s.ActiveLicenseCount)
	assert.Equal(t, 4, s.ActiveSessionCount)
}

func TestGetSummary_Caches(t *testing.T) {
	licenses := &fixedCounter{n: 12}
	svc := NewService(&fixedCounter{n: 3}, licenses, &fixedCounter{}, nil,
		NewMemoryCache(time.Minute))

	_, err := svc.GetSummary(t.Context(), "usr_owner")
	require.NoError(t, err)
	_, err = svc.GetSummary(t.Context(), "usr_owner")
	require.NoError(t, err)

	assert.Equal(t, 1, licenses.calls)

	// Invalidation forces a recount.
	svc.InvalidateSummary(t.Context(), "usr_owner")
	_, err = svc.GetSummary(t.Context(), "usr_owner")
	require.NoError(t, err)
	assert.Equal(t, 2, licenses.calls)
}

func TestGetSummary_CacheIsPerOwner(t *testing.T) {
	licenses := &fixedCounter{n: 12}
	svc := NewService(&fixedCounter{}, licenses, &fixedCounter{}, nil,
		NewMemoryCache(time.Minute))

	_, err := svc.GetSummary(t.Context(), "usr_a")
	require.NoError(t, err)
	_, err = svc.GetSummary(t.Context(), "usr_b")
	require.NoError(t, err)
	assert.Equal(t, 2, licenses.calls)
}

func TestMemoryCache_TTL(t *testing.T) {
	cache := NewMemoryCache(time.Minute).(*memoryCache)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return base }

	cache.Set(t.Context(), "usr_owner", &Summary{ApplicationCount: 1})

	got, ok := cache.Get(t.Context(), "usr_owner")
	require.True(t, ok)
	assert.Equal(t, 1, got.ApplicationCount)

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = cache.Get(t.Context(), "usr_owner")
	assert.False(t, ok)
}

func TestTrackEvent(t *testing.T) {
	store := NewMemoryEventStore()
	svc := NewService(nil, nil, nil, store, nil)

	e, err := svc.TrackEvent(t.Context(), "usr_owner", "app-1", "level_completed",
		map[string]interface{}{"level": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "level_completed", e.EventType)

	events, err := svc.RecentEvents(t.Context(), "usr_owner", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID, events[0].ID)
}

func TestTrackEvent_RequiresType(t *testing.T) {
	svc := NewService(nil, nil, nil, NewMemoryEventStore(), nil)

	_, err := svc.TrackEvent(t.Context(), "usr_owner", "app-1", "   ", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecentEvents_NewestFirst(t *testing.T) {
	store := NewMemoryEventStore()
	svc := NewService(nil, nil, nil, store, nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tick := base.Add(time.Duration(i) * time.Second)
		svc.SetClock(func() time.Time { return tick })
		_, err := svc.TrackEvent(t.Context(), "usr_owner", "app-1", "ping", nil)
		require.NoError(t, err)
	}

	events, err := svc.RecentEvents(t.Context(), "usr_owner", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].CreatedAt.After(events[1].CreatedAt))
}
