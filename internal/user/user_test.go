package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := &User{
		ID:        "usr_1",
		Email:     "vendor@example.com",
		Name:      "Acme Corp",
		Role:      RoleUser,
		Tier:      TierFree,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// Create
	err := store.Create(ctx, u)
	require.NoError(t, err)

	// Get by ID
	got, err := store.GetByID(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
	assert.Equal(t, TierFree, got.Tier)

	// Get by email
	got, err = store.GetByEmail(ctx, "vendor@example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", got.ID)

	// Update
	got.Name = "Acme Inc"
	err = store.Update(ctx, got)
	require.NoError(t, err)

	got2, _ := store.GetByID(ctx, "usr_1")
	assert.Equal(t, "Acme Inc", got2.Name)

	// Delete
	err = store.Delete(ctx, "usr_1")
	require.NoError(t, err)
	_, err = store.GetByID(ctx, "usr_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetByID(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Update(ctx, &User{ID: "nonexistent"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Delete(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Create(ctx, &User{ID: "usr_1", Email: "dup@example.com"})
	err := store.Create(ctx, &User{ID: "usr_2", Email: "dup@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestMemoryStore_StripeCustomerLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_ = store.Create(ctx, &User{ID: "usr_1", Email: "a@example.com", StripeCustomerID: "cus_123"})
	_ = store.Create(ctx, &User{ID: "usr_2", Email: "b@example.com"})

	got, err := store.GetByStripeCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", got.ID)

	// Empty customer ID never matches the un-linked user
	_, err = store.GetByStripeCustomer(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceRegister(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	u, err := svc.Register(ctx, "  Vendor@Example.COM ", "Vendor")
	require.NoError(t, err)
	assert.Contains(t, u.ID, "usr_")
	assert.Equal(t, "vendor@example.com", u.Email, "email should be normalized")
	assert.Equal(t, RoleUser, u.Role)
	assert.Equal(t, TierFree, u.Tier, "new accounts start on the free tier")

	// Duplicate registration (any casing) is rejected
	_, err = svc.Register(ctx, "vendor@example.com", "Other")
	assert.ErrorIs(t, err, ErrEmailTaken)

	// Garbage email is rejected
	_, err = svc.Register(ctx, "not-an-email", "Vendor")
	assert.Error(t, err)
}

func TestServiceSetRoleAndTier(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	u, err := svc.Register(ctx, "vendor@example.com", "Vendor")
	require.NoError(t, err)

	promoted, err := svc.SetRole(ctx, u.ID, RoleAdmin)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin())

	upgraded, err := svc.SetTier(ctx, u.ID, TierPro)
	require.NoError(t, err)
	assert.Equal(t, TierPro, upgraded.Tier)

	_, err = svc.SetRole(ctx, u.ID, Role("superuser"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = svc.SetTier(ctx, u.ID, Tier("platinum"))
	assert.ErrorIs(t, err, ErrInvalidTier)

	_, err = svc.SetTier(ctx, "usr_missing", TierPro)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceLinkStripeCustomer(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	u, err := svc.Register(ctx, "vendor@example.com", "Vendor")
	require.NoError(t, err)

	err = svc.LinkStripeCustomer(ctx, u.ID, "cus_456")
	require.NoError(t, err)

	got, err := svc.GetByStripeCustomer(ctx, "cus_456")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestServicePlanLimits(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	u, err := svc.Register(ctx, "vendor@example.com", "Vendor")
	require.NoError(t, err)

	limits, err := svc.PlanLimits(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, limits.MaxApplications)
	assert.Equal(t, 100, limits.MaxLicensesPerApp)
}

func TestPlanFor(t *testing.T) {
	p := PlanFor(TierEnterprise)
	assert.Equal(t, 0, p.MaxApplications) // unlimited
	assert.Equal(t, 0, p.MaxLicensesPerApp)
	assert.Equal(t, 199, p.MonthlyPriceUSD)

	// Unknown tier falls back to free
	p = PlanFor(Tier("unknown"))
	assert.Equal(t, 3, p.MaxApplications)
}

func TestValidTierAndRole(t *testing.T) {
	assert.True(t, ValidTier(TierFree))
	assert.True(t, ValidTier(TierPro))
	assert.True(t, ValidTier(TierEnterprise))
	assert.False(t, ValidTier(Tier("platinum")))

	assert.True(t, ValidRole(RoleAdmin))
	assert.True(t, ValidRole(RoleUser))
	assert.False(t, ValidRole(Role("root")))
}
