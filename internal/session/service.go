package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/validation"
)

// LicenseResolver looks up licenses for session starts. Implemented by the
// license service.
type LicenseResolver interface {
	GetByKey(ctx context.Context, key string) (*license.License, error)
	Get(ctx context.Context, ownerID, id string) (*license.License, error)
}

// Service implements session tracking.
type Service struct {
	store    Store
	licenses LicenseResolver
	emitter  EventEmitter
	cache    CacheInvalidator
	now      func() time.Time
}

// NewService creates a new session service.
func NewService(store Store, licenses LicenseResolver) *Service {
	return &Service{store: store, licenses: licenses, now: time.Now}
}

// SetEmitter wires lifecycle event emission. Optional.
func (s *Service) SetEmitter(e EventEmitter) { s.emitter = e }

// SetCache wires analytics cache invalidation. Optional.
func (s *Service) SetCache(c CacheInvalidator) { s.cache = c }

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// StartRequest carries the fields of a new session.
type StartRequest struct {
	LicenseKey     string
	UserIdentifier string
	IPAddress      string
	UserAgent      string
}

// Start opens a session for the license key, scoped to appID. The license
// must be checkable (active, unexpired, right application) but no usage is
// consumed.
func (s *Service) Start(ctx context.Context, appID string, req StartRequest) (*Session, error) {
	req.LicenseKey = validation.NormalizeKey(req.LicenseKey)
	if !validation.IsValidLicenseKey(req.LicenseKey) {
		return nil, fmt.Errorf("%w: malformed license key", ErrValidation)
	}

	l, err := s.licenses.GetByKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, err
	}
	if l.ApplicationID != appID {
		return nil, license.ErrNotFound
	}
	if l.EffectiveStatus(s.now()) != license.StatusActive {
		return nil, license.ErrNotActive
	}

	sess := &Session{
		ID:             generateSessionID(),
		LicenseID:      l.ID,
		ApplicationID:  l.ApplicationID,
		OwnerID:        l.OwnerID,
		UserIdentifier: validation.SanitizeString(req.UserIdentifier, 256),
		IPAddress:      req.IPAddress,
		UserAgent:      validation.SanitizeString(req.UserAgent, 512),
		Status:         StatusActive,
		StartedAt:      s.now(),
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.emitter != nil {
		s.emitter.EmitSessionStarted(sess.OwnerID, sess.ID, sess.LicenseID)
	}
	s.invalidate(ctx, sess.OwnerID)
	return sess, nil
}

// End closes a session. Scoped to the application that started it: the
// session's license must belong to appID.
func (s *Service) End(ctx context.Context, appID, sessionID string) (*Session, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ApplicationID != appID {
		return nil, ErrNotFound
	}

	if sess.Status == StatusEnded {
		return nil, ErrEnded
	}

	now := s.now()
	sess.Status = StatusEnded
	sess.EndedAt = &now
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	if s.emitter != nil {
		s.emitter.EmitSessionEnded(sess.OwnerID, sess.ID, sess.LicenseID)
	}
	s.invalidate(ctx, sess.OwnerID)
	return sess, nil
}

// ListByLicense returns recent sessions for a license, newest first.
// Dashboard path: the caller must own the license.
func (s *Service) ListByLicense(ctx context.Context, ownerID, licenseID string, limit int) ([]*Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	if _, err := s.licenses.Get(ctx, ownerID, licenseID); err != nil {
		if errors.Is(err, license.ErrUnauthorized) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	return s.store.ListByLicense(ctx, licenseID, limit)
}

// CountActive returns the owner's active session count. Used by analytics.
func (s *Service) CountActive(ctx context.Context, ownerID string) (int, error) {
	return s.store.CountActiveByOwner(ctx, ownerID)
}

func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if s.cache != nil {
		s.cache.InvalidateSummary(ctx, ownerID)
	}
}
