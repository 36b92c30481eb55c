package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubApps struct {
	owner  string
	active bool
}

func (s *stubApps) Resolve(ctx context.Context, appID string) (string, bool, error) {
	if appID != "app-1" {
		return "", false, errors.New("no such application")
	}
	return s.owner, s.active, nil
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, &stubApps{owner: "usr_owner", active: true})
	return svc, store
}

func uses(n int) *int { return &n }

func mustCreate(t *testing.T, svc *Service, req CreateRequest) *License {
	t.Helper()
	if req.ApplicationID == "" {
		req.ApplicationID = "app-1"
	}
	l, err := svc.Create(t.Context(), "usr_owner", req, 0)
	require.NoError(t, err)
	return l
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService(t)

	expiry := time.Now().Add(24 * time.Hour)
	l := mustCreate(t, svc, CreateRequest{
		UserID:    "end-user-7",
		ExpiresAt: &expiry,
		MaxUses:   uses(100),
		Metadata:  map[string]string{"seat": "42"},
	})

	assert.Equal(t, StatusActive, l.Status)
	assert.Equal(t, "usr_owner", l.OwnerID)
	assert.Equal(t, 0, l.CurrentUses)
	assert.Equal(t, "42", l.Metadata["seat"])
	assert.Contains(t, l.Key, "lic_")
	assert.Contains(t, l.ID, "li_")
}

func TestCreate_WrongOwner(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(t.Context(), "usr_other", CreateRequest{ApplicationID: "app-1"}, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreate_UnknownApp(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(t.Context(), "usr_owner", CreateRequest{ApplicationID: "app-missing"}, 0)
	assert.ErrorIs(t, err, ErrAppNotFound)
}

func TestCreate_SuspendedApp(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &stubApps{owner: "usr_owner", active: false})

	_, err := svc.Create(t.Context(), "usr_owner", CreateRequest{ApplicationID: "app-1"}, 0)
	assert.ErrorIs(t, err, ErrAppNotFound)
}

func TestCreate_PastExpiry(t *testing.T) {
	svc, _ := newTestService(t)

	past := time.Now().Add(-time.Hour)
	_, err := svc.Create(t.Context(), "usr_owner", CreateRequest{
		ApplicationID: "app-1",
		ExpiresAt:     &past,
	}, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreate_LicenseLimit(t *testing.T) {
	svc, _ := newTestService(t)

	mustCreate(t, svc, CreateRequest{})
	mustCreate(t, svc, CreateRequest{})

	_, err := svc.Create(t.Context(), "usr_owner", CreateRequest{ApplicationID: "app-1"}, 2)
	assert.ErrorIs(t, err, ErrLicenseLimit)

	// Unlimited (0) keeps going.
	_, err = svc.Create(t.Context(), "usr_owner", CreateRequest{ApplicationID: "app-1"}, 0)
	assert.NoError(t, err)
}

func TestCreate_NegativeMaxUses(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(t.Context(), "usr_owner", CreateRequest{
		ApplicationID: "app-1",
		MaxUses:       uses(-1),
	}, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreate_IssueDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetIssueDefaults(50, 72*time.Hour)

	// Unset fields take the configured defaults.
	l := mustCreate(t, svc, CreateRequest{})
	assert.Equal(t, 50, l.MaxUses)
	require.NotNil(t, l.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), *l.ExpiresAt, time.Minute)

	// An explicit zero still means unlimited, and an explicit expiry wins.
	expiry := time.Now().Add(time.Hour)
	l = mustCreate(t, svc, CreateRequest{MaxUses: uses(0), ExpiresAt: &expiry})
	assert.Equal(t, 0, l.MaxUses)
	assert.True(t, l.ExpiresAt.Equal(expiry))
}

func TestCheckAndConsume(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{MaxUses: uses(3)})

	res, err := svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, res.CurrentUses)
	assert.Equal(t, 2, res.Remaining)

	res, err = svc.CheckAndConsume(t.Context(), "app-1", l.Key, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.CurrentUses)
	assert.Equal(t, 0, res.Remaining)

	_, err = svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	assert.ErrorIs(t, err, ErrUsageExceeded)
}

func TestCheckAndConsume_UnlimitedUses(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{MaxUses: uses(0)})

	for i := 0; i < 50; i++ {
		res, err := svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
		require.NoError(t, err)
		assert.Equal(t, -1, res.Remaining)
	}
}

func TestCheckAndConsume_UnknownKey(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CheckAndConsume(t.Context(), "app-1", "lic_deadbeefdeadbeefdeadbeefdeadbeef", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckAndConsume_WrongApplication(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &stubApps{owner: "usr_owner", active: true})
	l, err := svc.Create(t.Context(), "usr_owner", CreateRequest{ApplicationID: "app-1"}, 0)
	require.NoError(t, err)

	// Key exists but belongs to app-1; checking it against another app
	// must read as not found, not as a status error.
	l.ApplicationID = "app-2"
	require.NoError(t, store.Update(t.Context(), l))

	_, err = svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckAndConsume_Expired(t *testing.T) {
	svc, store := newTestService(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	expiry := base.Add(time.Hour)
	l := mustCreate(t, svc, CreateRequest{ExpiresAt: &expiry, MaxUses: uses(10)})

	// Before expiry: fine.
	_, err := svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	require.NoError(t, err)

	// Advance past expiry.
	svc.SetClock(func() time.Time { return base.Add(2 * time.Hour) })

	_, err = svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	assert.ErrorIs(t, err, ErrExpired)

	// The expiry was persisted.
	stored, err := store.GetByID(t.Context(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestCheckAndConsume_ExpiredBeatsSuspended(t *testing.T) {
	svc, store := newTestService(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	expiry := base.Add(time.Hour)
	l := mustCreate(t, svc, CreateRequest{ExpiresAt: &expiry})

	// Suspended and expired at once: suspension wins because expiry only
	// overrides active licenses.
	l.Status = StatusSuspended
	require.NoError(t, store.Update(t.Context(), l))
	svc.SetClock(func() time.Time { return base.Add(2 * time.Hour) })

	_, err := svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCheckAndConsume_Suspended(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	_, err := svc.Suspend(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)

	_, err = svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCheckAndConsume_Revoked(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	_, err := svc.Revoke(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)

	_, err = svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCheckAndConsume_DefaultsAmountToOne(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{MaxUses: uses(5)})

	res, err := svc.CheckAndConsume(t.Context(), "app-1", l.Key, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentUses)
}

func TestCheckAndConsume_Concurrent_NeverOvershoots(t *testing.T) {
	svc, store := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{MaxUses: uses(10)})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CheckAndConsume(context.Background(), "app-1", l.Key, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	stored, err := store.GetByID(t.Context(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.CurrentUses)
}

func TestGet_ReconcilesExpiry(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	expiry := base.Add(time.Hour)
	l := mustCreate(t, svc, CreateRequest{ExpiresAt: &expiry})

	svc.SetClock(func() time.Time { return base.Add(2 * time.Hour) })

	got, err := svc.Get(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestGet_WrongOwner(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	_, err := svc.Get(t.Context(), "usr_other", l.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		svc.SetClock(func() time.Time { return tick })
		mustCreate(t, svc, CreateRequest{})
	}

	items, err := svc.List(t.Context(), "usr_owner", ListFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Newest first.
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	// Cursor picks up where the page left off.
	last := items[2]
	rest, err := svc.List(t.Context(), "usr_owner", ListFilter{
		Limit:           10,
		CursorCreatedAt: last.CreatedAt,
		CursorID:        last.ID,
	})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestList_StatusFilter(t *testing.T) {
	svc, _ := newTestService(t)

	a := mustCreate(t, svc, CreateRequest{})
	mustCreate(t, svc, CreateRequest{})
	_, err := svc.Revoke(t.Context(), "usr_owner", a.ID)
	require.NoError(t, err)

	revoked, err := svc.List(t.Context(), "usr_owner", ListFilter{Status: StatusRevoked, Limit: 10})
	require.NoError(t, err)
	require.Len(t, revoked, 1)
	assert.Equal(t, a.ID, revoked[0].ID)
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{MaxUses: uses(10)})

	newMax := 20
	updated, err := svc.Update(t.Context(), "usr_owner", l.ID, UpdateRequest{MaxUses: &newMax})
	require.NoError(t, err)
	assert.Equal(t, 20, updated.MaxUses)
}

func TestUpdate_MaxUsesBelowConsumed(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{MaxUses: uses(10)})

	for i := 0; i < 5; i++ {
		_, err := svc.CheckAndConsume(t.Context(), "app-1", l.Key, 1)
		require.NoError(t, err)
	}

	tooLow := 3
	_, err := svc.Update(t.Context(), "usr_owner", l.ID, UpdateRequest{MaxUses: &tooLow})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdate_RevokedIsImmutable(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	_, err := svc.Revoke(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)

	active := StatusActive
	_, err = svc.Update(t.Context(), "usr_owner", l.ID, UpdateRequest{Status: &active})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdate_ExtendingExpiryReinstates(t *testing.T) {
	svc, _ := newTestService(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return base })

	expiry := base.Add(time.Hour)
	l := mustCreate(t, svc, CreateRequest{ExpiresAt: &expiry})

	svc.SetClock(func() time.Time { return base.Add(2 * time.Hour) })

	// Trigger the lazy expiry transition.
	got, err := svc.Get(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)

	newExpiry := base.Add(48 * time.Hour)
	updated, err := svc.Update(t.Context(), "usr_owner", l.ID, UpdateRequest{ExpiresAt: &newExpiry})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, updated.Status)
}

func TestRevoke_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	first, err := svc.Revoke(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, first.Status)

	second, err := svc.Revoke(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, second.Status)
}

func TestSuspendActivate(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	suspended, err := svc.Suspend(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, suspended.Status)

	// Cannot suspend twice... but it's idempotent, so same state comes back.
	again, err := svc.Suspend(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, again.Status)

	reactivated, err := svc.Activate(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, reactivated.Status)
}

func TestActivate_RevokedFails(t *testing.T) {
	svc, _ := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	_, err := svc.Revoke(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)

	_, err = svc.Activate(t.Context(), "usr_owner", l.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRevokeByApplication(t *testing.T) {
	svc, store := newTestService(t)

	a := mustCreate(t, svc, CreateRequest{})
	b := mustCreate(t, svc, CreateRequest{})
	_, err := svc.Revoke(t.Context(), "usr_owner", b.ID)
	require.NoError(t, err)

	n, err := svc.RevokeByApplication(t.Context(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n) // b was already revoked

	stored, err := store.GetByID(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, stored.Status)
}

func TestDelete(t *testing.T) {
	svc, store := newTestService(t)
	l := mustCreate(t, svc, CreateRequest{})

	require.NoError(t, svc.Delete(t.Context(), "usr_owner", l.ID))

	_, err := store.GetByID(t.Context(), l.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByKey(t.Context(), l.Key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountActive(t *testing.T) {
	svc, _ := newTestService(t)

	mustCreate(t, svc, CreateRequest{})
	l := mustCreate(t, svc, CreateRequest{})
	_, err := svc.Suspend(t.Context(), "usr_owner", l.ID)
	require.NoError(t, err)

	n, err := svc.CountActive(t.Context(), "usr_owner")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
