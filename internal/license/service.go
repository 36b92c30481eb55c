package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/metrics"
	"github.com/keymint/keymint/internal/syncutil"
	"github.com/keymint/keymint/internal/traces"
)

// maxReadRetries bounds retries of transient store failures on the read
// path. Writes are never retried: a failed write may have committed, and
// blind replay could double-consume.
const maxReadRetries = 2

// maxKeyGenAttempts bounds retries on license key collision. With 128 bits
// of entropy a collision means something is badly wrong, but the store
// reports it cleanly so we retry a couple of times before giving up.
const maxKeyGenAttempts = 3

// Service implements license business logic.
type Service struct {
	store   Store
	apps    AppDirectory
	locks   *syncutil.ContextShardedMutex
	emitter EventEmitter
	cache   CacheInvalidator

	// now is injectable for deterministic expiry tests.
	now func() time.Time

	// maxLicensesPerApp caps licenses per application; 0 = unlimited.
	// Resolved per owner by the caller (plan tiers), set per request via
	// CreateWithLimit, or globally via SetDefaultLimit.
	defaultLimit int

	// Issuance defaults applied when a create request leaves the field
	// unset. Zero values mean unlimited uses and no expiry.
	defaultMaxUses  int
	defaultDuration time.Duration
}

// NewService creates a new license service.
func NewService(store Store, apps AppDirectory) *Service {
	return &Service{
		store: store,
		apps:  apps,
		locks: syncutil.NewContextShardedMutex(),
		now:   time.Now,
	}
}

// SetEmitter wires lifecycle event emission. Optional.
func (s *Service) SetEmitter(e EventEmitter) { s.emitter = e }

// SetCache wires analytics cache invalidation. Optional.
func (s *Service) SetCache(c CacheInvalidator) { s.cache = c }

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetDefaultLimit sets the fallback per-application license cap.
func (s *Service) SetDefaultLimit(n int) { s.defaultLimit = n }

// SetIssueDefaults sets the usage cap and lifetime applied to licenses
// created without an explicit maxUses or expiresAt.
func (s *Service) SetIssueDefaults(maxUses int, duration time.Duration) {
	s.defaultMaxUses = maxUses
	s.defaultDuration = duration
}

// Create issues a new license under an application owned by ownerID.
// limit overrides the per-application cap for this call; pass 0 to use the
// service default (and 0 default means unlimited).
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest, limit int) (*License, error) {
	appOwner, _, err := s.resolveApp(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if appOwner != ownerID {
		return nil, ErrUnauthorized
	}

	// Nil means "use the issuance default"; an explicit 0 stays unlimited.
	maxUses := s.defaultMaxUses
	if req.MaxUses != nil {
		if *req.MaxUses < 0 {
			return nil, fmt.Errorf("%w: maxUses must not be negative", ErrValidation)
		}
		maxUses = *req.MaxUses
	}

	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiresAt must be in the future", ErrValidation)
	}
	if req.ExpiresAt == nil && s.defaultDuration > 0 {
		exp := now.Add(s.defaultDuration)
		req.ExpiresAt = &exp
	}

	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit > 0 {
		count, err := s.store.CountByApplication(ctx, req.ApplicationID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count >= limit {
			return nil, ErrLicenseLimit
		}
	}

	l := &License{
		ID:            generateLicenseID(),
		ApplicationID: req.ApplicationID,
		OwnerID:       ownerID,
		UserID:        req.UserID,
		ExpiresAt:     req.ExpiresAt,
		MaxUses:       maxUses,
		CurrentUses:   0,
		Status:        StatusActive,
		Metadata:      copyMetadata(req.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Retry on the astronomically unlikely key collision.
	for attempt := 0; ; attempt++ {
		l.Key = generateLicenseKey()
		err := s.store.Create(ctx, l)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateKey) && attempt < maxKeyGenAttempts-1 {
			continue
		}
		return nil, fmt.Errorf("failed to create license: %w", err)
	}

	metrics.LicensesCreatedTotal.Inc()
	metrics.LicensesTotal.WithLabelValues("created").Inc()
	if s.emitter != nil {
		s.emitter.EmitLicenseCreated(ownerID, l.ID, l.ApplicationID)
	}
	s.invalidate(ctx, ownerID)

	return l, nil
}

// Get returns a license by ID, scoped to ownerID. The stored status is
// corrected if the license has expired since the last write.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*License, error) {
	l, err := s.getWithRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return s.reconcileExpiry(ctx, l), nil
}

// GetByKey returns a license by its key. Used by the SDK check path and the
// MCP tools; not owner-scoped since the key itself is the credential.
func (s *Service) GetByKey(ctx context.Context, key string) (*License, error) {
	var l *License
	err := s.withReadRetry(ctx, func() error {
		var err error
		l, err = s.store.GetByKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.reconcileExpiry(ctx, l), nil
}

// List returns a page of licenses for the owner, optionally narrowed by
// application and status. Limit is clamped to [1,100].
func (s *Service) List(ctx context.Context, ownerID string, filter ListFilter) ([]*License, error) {
	filter.OwnerID = ownerID
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	// +1 over the page cap so handlers can fetch limit+1 for has_more.
	if filter.Limit > 101 {
		filter.Limit = 101
	}

	var items []*License
	err := s.withReadRetry(ctx, func() error {
		var err error
		items, err = s.store.List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i, l := range items {
		if l.EffectiveStatus(now) != l.Status {
			items[i] = s.reconcileExpiry(ctx, l)
		}
	}
	return items, nil
}

// Update applies a partial update. Transitions out of revoked are rejected,
// as is any cap below the already-consumed count.
func (s *Service) Update(ctx context.Context, ownerID, id string, req UpdateRequest) (*License, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err := s.getWithRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}

	if l.IsTerminal() && req.Status != nil && *req.Status != StatusRevoked {
		return nil, fmt.Errorf("%w: revoked licenses cannot change status", ErrValidation)
	}

	if req.MaxUses != nil {
		if *req.MaxUses < 0 {
			return nil, fmt.Errorf("%w: maxUses must not be negative", ErrValidation)
		}
		if *req.MaxUses > 0 && l.CurrentUses > *req.MaxUses {
			return nil, fmt.Errorf("%w: maxUses below current usage (%d)", ErrValidation, l.CurrentUses)
		}
		l.MaxUses = *req.MaxUses
	}

	if req.ClearExpiry {
		l.ExpiresAt = nil
	} else if req.ExpiresAt != nil {
		l.ExpiresAt = req.ExpiresAt
	}

	if req.UserID != nil {
		l.UserID = *req.UserID
	}

	if req.Metadata != nil {
		l.Metadata = copyMetadata(*req.Metadata)
	}

	if req.Status != nil {
		if !ValidStatus(*req.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *req.Status)
		}
		l.Status = *req.Status
	} else if l.Status == StatusExpired && l.ExpiresAt != nil && l.ExpiresAt.After(s.now()) {
		// Extending the expiry of an expired license reinstates it.
		l.Status = StatusActive
	}

	l.UpdatedAt = s.now()
	if err := s.store.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to update license: %w", err)
	}

	metrics.LicensesTotal.WithLabelValues("updated").Inc()
	s.invalidate(ctx, ownerID)
	return l, nil
}

// Revoke irreversibly revokes a license. Idempotent: revoking a revoked
// license returns it unchanged.
func (s *Service) Revoke(ctx context.Context, ownerID, id string) (*License, error) {
	return s.transition(ctx, ownerID, id, StatusRevoked)
}

// Suspend pauses an active license.
func (s *Service) Suspend(ctx context.Context, ownerID, id string) (*License, error) {
	return s.transition(ctx, ownerID, id, StatusSuspended)
}

// Activate resumes a suspended license.
func (s *Service) Activate(ctx context.Context, ownerID, id string) (*License, error) {
	return s.transition(ctx, ownerID, id, StatusActive)
}

func (s *Service) transition(ctx context.Context, ownerID, id string, target Status) (*License, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	l, err := s.getWithRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}

	if l.Status == target {
		return l, nil // idempotent
	}

	if l.IsTerminal() {
		return nil, fmt.Errorf("%w: license is revoked", ErrValidation)
	}

	switch target {
	case StatusSuspended:
		if l.EffectiveStatus(s.now()) != StatusActive {
			return nil, fmt.Errorf("%w: only active licenses can be suspended", ErrValidation)
		}
	case StatusActive:
		if l.Status != StatusSuspended {
			return nil, fmt.Errorf("%w: only suspended licenses can be activated", ErrValidation)
		}
	case StatusRevoked:
		// any non-terminal state may be revoked
	default:
		return nil, fmt.Errorf("%w: unsupported transition to %q", ErrValidation, target)
	}

	l.Status = target
	l.UpdatedAt = s.now()
	if err := s.store.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to update license: %w", err)
	}

	switch target {
	case StatusRevoked:
		metrics.LicensesRevokedTotal.Inc()
		metrics.LicensesTotal.WithLabelValues("revoked").Inc()
		if s.emitter != nil {
			s.emitter.EmitLicenseRevoked(ownerID, l.ID, l.ApplicationID)
		}
	case StatusSuspended:
		metrics.LicensesTotal.WithLabelValues("suspended").Inc()
		if s.emitter != nil {
			s.emitter.EmitLicenseSuspended(ownerID, l.ID, l.ApplicationID)
		}
	case StatusActive:
		metrics.LicensesTotal.WithLabelValues("activated").Inc()
		if s.emitter != nil {
			s.emitter.EmitLicenseActivated(ownerID, l.ID, l.ApplicationID)
		}
	}

	s.invalidate(ctx, ownerID)
	return l, nil
}

// Delete removes a license entirely.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	l, err := s.getWithRetry(ctx, id)
	if err != nil {
		return err
	}
	if l.OwnerID != ownerID {
		return ErrUnauthorized
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}

	metrics.LicensesTotal.WithLabelValues("deleted").Inc()
	s.invalidate(ctx, ownerID)
	return nil
}

// CheckAndConsume validates the license key for the given application and,
// if valid, atomically consumes amount uses. Checks run in a fixed order:
// expiry first, then status, then the usage cap. Serialized per license key
// so concurrent checks never overshoot MaxUses.
func (s *Service) CheckAndConsume(ctx context.Context, appID, key string, amount int) (*CheckResult, error) {
	ctx, span := traces.StartSpan(ctx, "license.check_and_consume", traces.AppID(appID))
	defer span.End()

	timer := time.Now()
	defer func() {
		metrics.LicenseCheckDuration.Observe(time.Since(timer).Seconds())
	}()

	if amount <= 0 {
		amount = 1
	}

	if _, _, err := s.resolveApp(ctx, appID); err != nil {
		s.recordOutcome(span, ErrAppNotFound)
		return nil, ErrAppNotFound
	}

	unlock, err := s.locks.LockContext(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var l *License
	err = s.withReadRetry(ctx, func() error {
		var err error
		l, err = s.store.GetByKey(ctx, key)
		return err
	})
	if err != nil {
		s.recordOutcome(span, err)
		return nil, err
	}

	span.SetAttributes(traces.LicenseID(l.ID))

	if l.ApplicationID != appID {
		// A valid key presented to the wrong application reads as not
		// found: don't leak that the key exists elsewhere.
		s.recordOutcome(span, ErrNotFound)
		return nil, ErrNotFound
	}

	now := s.now()

	// 1. Expiry
	if l.EffectiveStatus(now) == StatusExpired {
		s.reconcileExpiry(ctx, l)
		s.recordOutcome(span, ErrExpired)
		return nil, ErrExpired
	}

	// 2. Status
	if l.Status != StatusActive {
		s.recordOutcome(span, ErrNotActive)
		return nil, ErrNotActive
	}

	// 3. Usage cap
	if l.MaxUses > 0 && l.CurrentUses+amount > l.MaxUses {
		s.recordOutcome(span, ErrUsageExceeded)
		return nil, ErrUsageExceeded
	}

	updated, err := s.store.Consume(ctx, l.ID, amount, now)
	if err != nil {
		s.recordOutcome(span, err)
		if errors.Is(err, ErrNotActive) || errors.Is(err, ErrUsageExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	metrics.LicenseChecksTotal.WithLabelValues("valid").Inc()
	span.SetAttributes(traces.UsageCount(updated.CurrentUses), traces.Outcome("valid"))
	if s.emitter != nil {
		s.emitter.EmitLicenseConsumed(updated.OwnerID, updated.ID, updated.ApplicationID, updated.CurrentUses)
	}
	s.invalidate(ctx, updated.OwnerID)

	return &CheckResult{
		Valid:       true,
		LicenseID:   updated.ID,
		CurrentUses: updated.CurrentUses,
		Remaining:   updated.Remaining(),
		ExpiresAt:   updated.ExpiresAt,
	}, nil
}

// RevokeByApplication revokes every license of an application. Called by the
// apps service on application delete.
func (s *Service) RevokeByApplication(ctx context.Context, appID string) (int, error) {
	n, err := s.store.RevokeByApplication(ctx, appID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke licenses: %w", err)
	}
	if n > 0 {
		metrics.LicensesRevokedTotal.Add(float64(n))
	}
	return n, nil
}

// CountByApplication returns the number of licenses issued under an
// application. The caller is responsible for ownership checks.
func (s *Service) CountByApplication(ctx context.Context, appID string) (int, error) {
	var n int
	err := s.withReadRetry(ctx, func() error {
		var err error
		n, err = s.store.CountByApplication(ctx, appID)
		return err
	})
	return n, err
}

// CountActive returns the owner's active license count. Used by analytics.
func (s *Service) CountActive(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.withReadRetry(ctx, func() error {
		var err error
		n, err = s.store.CountActiveByOwner(ctx, ownerID)
		return err
	})
	return n, err
}

// --- helpers ---

func (s *Service) resolveApp(ctx context.Context, appID string) (string, bool, error) {
	ownerID, active, err := s.apps.Resolve(ctx, appID)
	if err != nil {
		return "", false, ErrAppNotFound
	}
	if !active {
		return "", false, ErrAppNotFound
	}
	return ownerID, active, nil
}

func (s *Service) getWithRetry(ctx context.Context, id string) (*License, error) {
	var l *License
	err := s.withReadRetry(ctx, func() error {
		var err error
		l, err = s.store.GetByID(ctx, id)
		return err
	})
	return l, err
}

// withReadRetry retries transient store failures on read paths. Sentinel
// errors (not found, etc.) pass through untouched.
func (s *Service) withReadRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxReadRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// reconcileExpiry corrects the stored status of an expired license. Best
// effort: the corrected license is returned even if the write fails.
func (s *Service) reconcileExpiry(ctx context.Context, l *License) *License {
	now := s.now()
	if l.EffectiveStatus(now) != StatusExpired || l.Status == StatusExpired {
		return l
	}

	l.Status = StatusExpired
	l.UpdatedAt = now
	if err := s.store.MarkExpired(ctx, l.ID, now); err != nil {
		logging.L(ctx).Warn("failed to persist expiry transition",
			"license_id", l.ID, "error", err)
		return l
	}

	metrics.LicensesExpiredTotal.Inc()
	if s.emitter != nil {
		s.emitter.EmitLicenseExpired(l.OwnerID, l.ID, l.ApplicationID)
	}
	return l
}

func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if s.cache != nil {
		s.cache.InvalidateSummary(ctx, ownerID)
	}
}

// recordOutcome tags the span and check counter with the failure reason.
func (s *Service) recordOutcome(span trace.Span, err error) {
	outcome := "error"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrAppNotFound):
		outcome = "app_not_found"
	case errors.Is(err, ErrExpired):
		outcome = "expired"
	case errors.Is(err, ErrNotActive):
		outcome = "not_active"
	case errors.Is(err, ErrUsageExceeded):
		outcome = "usage_exceeded"
	case errors.Is(err, ErrStoreUnavailable):
		outcome = "store_unavailable"
	}
	metrics.LicenseChecksTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(traces.Outcome(outcome))
	span.SetStatus(codes.Error, outcome)
}
