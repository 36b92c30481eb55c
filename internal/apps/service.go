package apps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/metrics"
	"github.com/keymint/keymint/internal/security"
	"github.com/keymint/keymint/internal/validation"
)

const maxNameLength = 120

// Service implements application business logic.
type Service struct {
	store    Store
	licenses LicenseRevoker
	emitter  EventEmitter
	cache    CacheInvalidator
	now      func() time.Time
}

// NewService creates a new application service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetLicenseRevoker wires cascade revocation on delete.
func (s *Service) SetLicenseRevoker(r LicenseRevoker) { s.licenses = r }

// SetEmitter wires lifecycle event emission. Optional.
func (s *Service) SetEmitter(e EventEmitter) { s.emitter = e }

// SetCache wires analytics cache invalidation. Optional.
func (s *Service) SetCache(c CacheInvalidator) { s.cache = c }

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateRequest carries the fields of a new application.
type CreateRequest struct {
	Name        string
	Description string
	WebhookURL  string
}

// Create registers a new application for the owner. limit caps applications
// per owner; 0 means unlimited.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest, limit int) (*Application, error) {
	req.Name = validation.SanitizeString(req.Name, maxNameLength)
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.WebhookURL != "" {
		if err := security.ValidateEndpointURL(req.WebhookURL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	if limit > 0 {
		count, err := s.store.CountByOwner(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count >= limit {
			return nil, ErrAppLimit
		}
	}

	now := s.now()
	app := &Application{
		ID:          generateAppID(),
		OwnerID:     ownerID,
		Name:        req.Name,
		Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
		APIKey:      generateAPIKey(),
		WebhookURL:  req.WebhookURL,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	metrics.ActiveApplications.Inc()
	if s.emitter != nil {
		s.emitter.EmitAppCreated(ownerID, app.ID, app.Name)
	}
	s.invalidate(ctx, ownerID)
	return app, nil
}

// Get returns an application by ID, scoped to ownerID.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*Application, error) {
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return app, nil
}

// List returns the owner's applications, deleted ones excluded.
func (s *Service) List(ctx context.Context, ownerID string) ([]*Application, error) {
	all, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	apps := make([]*Application, 0, len(all))
	for _, a := range all {
		if a.Status != StatusDeleted {
			apps = append(apps, a)
		}
	}
	return apps, nil
}

// UpdateRequest carries a partial application update. Nil fields are left
// unchanged. The API key is immutable and cannot appear here.
type UpdateRequest struct {
	Name        *string
	Description *string
	WebhookURL  *string
}

// Update applies a partial update to a non-deleted application.
func (s *Service) Update(ctx context.Context, ownerID, id string, req UpdateRequest) (*Application, error) {
	app, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if app.Status == StatusDeleted {
		return nil, ErrNotFound
	}

	if req.Name != nil {
		name := validation.SanitizeString(*req.Name, maxNameLength)
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrValidation)
		}
		app.Name = name
	}
	if req.Description != nil {
		app.Description = validation.SanitizeString(*req.Description, validation.MaxStringLength)
	}
	if req.WebhookURL != nil {
		if *req.WebhookURL != "" {
			if err := security.ValidateEndpointURL(*req.WebhookURL); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
		app.WebhookURL = *req.WebhookURL
	}

	app.UpdatedAt = s.now()
	if err := s.store.Update(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to update application: %w", err)
	}
	return app, nil
}

// Suspend pauses an application: license checks against it fail until it is
// reactivated.
func (s *Service) Suspend(ctx context.Context, ownerID, id string) (*Application, error) {
	app, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	switch app.Status {
	case StatusSuspended:
		return app, nil // idempotent
	case StatusDeleted:
		return nil, ErrNotFound
	}

	app.Status = StatusSuspended
	app.UpdatedAt = s.now()
	if err := s.store.Update(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to update application: %w", err)
	}

	metrics.ActiveApplications.Dec()
	if s.emitter != nil {
		s.emitter.EmitAppSuspended(ownerID, app.ID)
	}
	s.invalidate(ctx, ownerID)
	return app, nil
}

// Activate resumes a suspended application.
func (s *Service) Activate(ctx context.Context, ownerID, id string) (*Application, error) {
	app, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	switch app.Status {
	case StatusActive:
		return app, nil // idempotent
	case StatusDeleted:
		return nil, ErrNotFound
	}

	app.Status = StatusActive
	app.UpdatedAt = s.now()
	if err := s.store.Update(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to update application: %w", err)
	}

	metrics.ActiveApplications.Inc()
	s.invalidate(ctx, ownerID)
	return app, nil
}

// Delete marks the application deleted and revokes every license issued
// under it. Terminal and idempotent. Returns the number of licenses revoked.
func (s *Service) Delete(ctx context.Context, ownerID, id string) (int, error) {
	app, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return 0, err
	}
	if app.Status == StatusDeleted {
		return 0, nil
	}

	wasActive := app.Status == StatusActive
	app.Status = StatusDeleted
	app.UpdatedAt = s.now()
	if err := s.store.Update(ctx, app); err != nil {
		return 0, fmt.Errorf("failed to update application: %w", err)
	}

	revoked := 0
	if s.licenses != nil {
		revoked, err = s.licenses.RevokeByApplication(ctx, app.ID)
		if err != nil {
			// The application is already gone from the owner's point of
			// view; log and keep going rather than resurrect it.
			logging.L(ctx).Error("failed to revoke licenses for deleted application",
				"app_id", app.ID, "error", err)
		}
	}

	if wasActive {
		metrics.ActiveApplications.Dec()
	}
	if s.emitter != nil {
		s.emitter.EmitAppDeleted(ownerID, app.ID, revoked)
	}
	s.invalidate(ctx, ownerID)
	return revoked, nil
}

// ResolveByAPIKey looks up an application by its API key for the SDK auth
// middleware. Suspended and deleted applications are treated as missing.
func (s *Service) ResolveByAPIKey(ctx context.Context, apiKey string) (*Application, error) {
	app, err := s.store.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !app.Active() {
		return nil, ErrNotFound
	}
	return app, nil
}

// Resolve reports the owner and liveness of an application. Satisfies the
// license service's application directory.
func (s *Service) Resolve(ctx context.Context, appID string) (string, bool, error) {
	app, err := s.store.GetByID(ctx, appID)
	if err != nil {
		return "", false, err
	}
	if app.Status == StatusDeleted {
		return "", false, ErrNotFound
	}
	return app.OwnerID, app.Active(), nil
}

// CountActive returns the owner's non-deleted application count. Used by
// analytics.
func (s *Service) CountActive(ctx context.Context, ownerID string) (int, error) {
	return s.store.CountByOwner(ctx, ownerID)
}

func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if s.cache != nil {
		s.cache.InvalidateSummary(ctx, ownerID)
	}
}
