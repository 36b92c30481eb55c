//go:build integration

package license

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keymint/keymint/internal/testutil"
)

func setupPostgres(t *testing.T) (*PostgresStore, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), db, cleanup
}

// seedApplication inserts the application row the licenses FK needs.
func seedApplication(t *testing.T, db *sql.DB, appID, ownerID string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO applications (id, owner_id, name, api_key, status, created_at, updated_at)
		VALUES ($1, $2, 'Test App', $3, 'active', $4, $4)`,
		appID, ownerID, "app_"+appID, now)
	require.NoError(t, err)
}

func seedLicense(t *testing.T, store *PostgresStore, key, appID, ownerID string, maxUses int) *License {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	l := &License{
		ID:            "li_" + key,
		Key:           key,
		ApplicationID: appID,
		OwnerID:       ownerID,
		MaxUses:       maxUses,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.Create(context.Background(), l))
	return l
}

func TestPostgres_CreateAndGetByKey(t *testing.T) {
	store, db, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	seedApplication(t, db, "app-pg-1", "owner-1")
	created := seedLicense(t, store, "lic_pg_roundtrip", "app-pg-1", "owner-1", 5)

	got, err := store.GetByKey(ctx, "lic_pg_roundtrip")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, 5, got.MaxUses)
	assert.Nil(t, got.ExpiresAt)
}

func TestPostgres_DuplicateKey(t *testing.T) {
	store, db, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	seedApplication(t, db, "app-pg-2", "owner-1")
	seedLicense(t, store, "lic_pg_dup", "app-pg-2", "owner-1", 0)

	dup := &License{
		ID:            "li_other",
		Key:           "lic_pg_dup",
		ApplicationID: "app-pg-2",
		OwnerID:       "owner-1",
		Status:        StatusActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := store.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestPostgres_ConsumeGuards(t *testing.T) {
	store, db, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	seedApplication(t, db, "app-pg-3", "owner-1")
	l := seedLicense(t, store, "lic_pg_consume", "app-pg-3", "owner-1", 2)

	now := time.Now().UTC()

	got, err := store.Consume(ctx, l.ID, 1, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses)

	got, err = store.Consume(ctx, l.ID, 1, now)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentUses)

	// Cap reached
	_, err = store.Consume(ctx, l.ID, 1, now)
	assert.True(t, errors.Is(err, ErrUsageExceeded))

	// Revoked licenses report not-active, not usage
	l.Status = StatusRevoked
	l.UpdatedAt = now
	require.NoError(t, store.Update(ctx, l))
	_, err = store.Consume(ctx, l.ID, 1, now)
	assert.True(t, errors.Is(err, ErrNotActive))
}

func TestPostgres_ListCursorPagination(t *testing.T) {
	store, db, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	seedApplication(t, db, "app-pg-4", "owner-page")
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		l := &License{
			ID:            "li_page_" + string(rune('a'+i)),
			Key:           "lic_pg_page_" + string(rune('a'+i)),
			ApplicationID: "app-pg-4",
			OwnerID:       "owner-page",
			Status:        StatusActive,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Create(ctx, l))
	}

	// Newest first, limit 3
	first, err := store.List(ctx, ListFilter{OwnerID: "owner-page", Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "li_page_e", first[0].ID)

	// Continue from the last row of the first page
	last := first[2]
	second, err := store.List(ctx, ListFilter{
		OwnerID:         "owner-page",
		Limit:           3,
		CursorCreatedAt: last.CreatedAt,
		CursorID:        last.ID,
	})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "li_page_b", second[0].ID)
	assert.Equal(t, "li_page_a", second[1].ID)
}

func TestPostgres_RevokeByApplication(t *testing.T) {
	store, db, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	seedApplication(t, db, "app-pg-5", "owner-1")
	seedLicense(t, store, "lic_pg_rva_1", "app-pg-5", "owner-1", 0)
	seedLicense(t, store, "lic_pg_rva_2", "app-pg-5", "owner-1", 0)
	revoked := seedLicense(t, store, "lic_pg_rva_3", "app-pg-5", "owner-1", 0)
	revoked.Status = StatusRevoked
	require.NoError(t, store.Update(ctx, revoked))

	n, err := store.RevokeByApplication(ctx, "app-pg-5", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "already-revoked licenses are not counted")

	count, err := store.CountActiveByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
