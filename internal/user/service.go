package user

import (
	"context"
	"fmt"
	"time"

	"github.com/keymint/keymint/internal/validation"
)

// Service implements account management business logic.
type Service struct {
	store Store
}

// NewService creates a new user service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a new account on the free tier.
func (s *Service) Register(ctx context.Context, email, name string) (*User, error) {
	email = normalizeEmail(email)
	if !validation.IsValidEmail(email) {
		return nil, fmt.Errorf("invalid email address: %s", email)
	}

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	}

	now := time.Now()
	u := &User{
		ID:        generateUserID(),
		Email:     email,
		Name:      validation.SanitizeString(name, 255),
		Role:      RoleUser,
		Tier:      TierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// GetByEmail returns a user by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.GetByEmail(ctx, normalizeEmail(email))
}

// GetByStripeCustomer returns the user linked to a Stripe customer.
func (s *Service) GetByStripeCustomer(ctx context.Context, customerID string) (*User, error) {
	return s.store.GetByStripeCustomer(ctx, customerID)
}

// UpdateProfile updates the caller-editable fields.
func (s *Service) UpdateProfile(ctx context.Context, id, name string) (*User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	u.Name = validation.SanitizeString(name, 255)
	u.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return u, nil
}

// SetRole changes an account's role. Admin-only.
func (s *Service) SetRole(ctx context.Context, id string, role Role) (*User, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}

	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	u.Role = role
	u.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	return u, nil
}

// SetTier changes an account's pricing tier. Admin-only, and also called by
// billing when a Stripe subscription changes.
func (s *Service) SetTier(ctx context.Context, id string, tier Tier) (*User, error) {
	if !ValidTier(tier) {
		return nil, ErrInvalidTier
	}

	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	u.Tier = tier
	u.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to update tier: %w", err)
	}
	return u, nil
}

// LinkStripeCustomer records the Stripe customer ID for a user.
func (s *Service) LinkStripeCustomer(ctx context.Context, id, customerID string) error {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	u.StripeCustomerID = customerID
	u.UpdatedAt = time.Now()
	return s.store.Update(ctx, u)
}

// Delete removes an account.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// List returns up to limit users. Admin-only.
func (s *Service) List(ctx context.Context, limit int) ([]*User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.List(ctx, limit)
}

// PlanLimits returns the plan configuration for a user's tier.
func (s *Service) PlanLimits(ctx context.Context, id string) (PlanConfig, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return PlanConfig{}, err
	}
	return PlanFor(u.Tier), nil
}
