// Package license implements software license keys and their lifecycle.
//
// Lifecycle:
//  1. Vendor creates a license under one of their applications
//  2. The vendor's software calls check-and-consume with the license key
//  3. Each successful check increments the usage count, capped at MaxUses
//  4. Expiry is clock-driven: a license past ExpiresAt is expired no matter
//     what status is stored, and the stored status is corrected on read
//  5. Revocation is terminal; suspension is reversible
package license

import (
	"context"
	"errors"
	"time"

	"github.com/keymint/keymint/internal/idgen"
)

// Errors
var (
	ErrNotFound         = errors.New("license not found")
	ErrAppNotFound      = errors.New("application not found")
	ErrExpired          = errors.New("license has expired")
	ErrNotActive        = errors.New("license is not active")
	ErrUsageExceeded    = errors.New("license usage limit exceeded")
	ErrValidation       = errors.New("invalid license data")
	ErrStoreUnavailable = errors.New("license store unavailable")
	ErrUnauthorized     = errors.New("not authorized for this license")
	ErrDuplicateKey     = errors.New("license key already exists")
	ErrLicenseLimit     = errors.New("license limit reached for this application")
)

// Status represents the lifecycle state of a license.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// ValidStatus returns true for recognised status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusExpired, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// License is a software license key.
type License struct {
	ID            string            `json:"id"`
	Key           string            `json:"key"`
	ApplicationID string            `json:"applicationId"`
	OwnerID       string            `json:"ownerId"`
	UserID        string            `json:"userId,omitempty"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	MaxUses       int               `json:"maxUses"` // 0 = unlimited
	CurrentUses   int               `json:"currentUses"`
	Status        Status            `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// EffectiveStatus returns the status as of now: a stored-active license past
// its expiry date reports expired even before the row is corrected.
func (l *License) EffectiveStatus(now time.Time) Status {
	if l.Status == StatusActive && l.ExpiresAt != nil && !now.Before(*l.ExpiresAt) {
		return StatusExpired
	}
	return l.Status
}

// IsTerminal returns true for states a license cannot leave on its own:
// revoked is permanent, expired requires an admin extending the expiry.
func (l *License) IsTerminal() bool {
	return l.Status == StatusRevoked
}

// Remaining returns the number of uses left, or -1 for unlimited licenses.
func (l *License) Remaining() int {
	if l.MaxUses == 0 {
		return -1
	}
	return l.MaxUses - l.CurrentUses
}

// ListFilter narrows a license listing.
type ListFilter struct {
	OwnerID       string
	ApplicationID string
	Status        Status
	// CursorCreatedAt/CursorID resume listing after the given position
	// (created_at DESC, id DESC ordering).
	CursorCreatedAt time.Time
	CursorID        string
	Limit           int
}

// Store persists licenses.
//
// Consume must be atomic with respect to concurrent consumes of the same
// license: the increment only happens if the license is still active and
// under its usage cap at commit time.
type Store interface {
	Create(ctx context.Context, l *License) error
	GetByID(ctx context.Context, id string) (*License, error)
	GetByKey(ctx context.Context, key string) (*License, error)
	List(ctx context.Context, filter ListFilter) ([]*License, error)
	Update(ctx context.Context, l *License) error
	// Consume atomically increments usage by amount, guarded by status and
	// cap. Returns ErrNotActive or ErrUsageExceeded when the guard fails.
	Consume(ctx context.Context, id string, amount int, now time.Time) (*License, error)
	// MarkExpired flips a stored-active license to expired. Best effort:
	// callers treat failure as non-fatal since EffectiveStatus already
	// reports the truth.
	MarkExpired(ctx context.Context, id string, now time.Time) error
	// RevokeByApplication revokes every non-terminal license of an
	// application and returns how many were revoked.
	RevokeByApplication(ctx context.Context, appID string, now time.Time) (int, error)
	CountByApplication(ctx context.Context, appID string) (int, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
	Delete(ctx context.Context, id string) error
}

// AppDirectory resolves applications without importing the apps package.
type AppDirectory interface {
	// Resolve returns the owner of the application. active is false for
	// suspended or deleted applications.
	Resolve(ctx context.Context, appID string) (ownerID string, active bool, err error)
}

// EventEmitter receives license lifecycle events. Implementations must not
// block; the webhook emitter and realtime hub both satisfy this.
type EventEmitter interface {
	EmitLicenseCreated(ownerID, licenseID, appID string)
	EmitLicenseConsumed(ownerID, licenseID, appID string, currentUses int)
	EmitLicenseRevoked(ownerID, licenseID, appID string)
	EmitLicenseSuspended(ownerID, licenseID, appID string)
	EmitLicenseActivated(ownerID, licenseID, appID string)
	EmitLicenseExpired(ownerID, licenseID, appID string)
}

// CacheInvalidator drops cached analytics summaries after mutations.
type CacheInvalidator interface {
	InvalidateSummary(ctx context.Context, ownerID string)
}

// CreateRequest is the input for Service.Create. A nil MaxUses takes the
// service issuance default; an explicit 0 means unlimited.
type CreateRequest struct {
	ApplicationID string            `json:"applicationId" binding:"required"`
	UserID        string            `json:"userId"`
	ExpiresAt     *time.Time        `json:"expiresAt"`
	MaxUses       *int              `json:"maxUses"`
	Metadata      map[string]string `json:"metadata"`
}

// UpdateRequest is the input for Service.Update. Nil fields are left alone.
type UpdateRequest struct {
	UserID      *string            `json:"userId"`
	ExpiresAt   *time.Time         `json:"expiresAt"`
	ClearExpiry bool               `json:"clearExpiry"`
	MaxUses     *int               `json:"maxUses"`
	Status      *Status            `json:"status"`
	Metadata    *map[string]string `json:"metadata"`
}

// CheckResult is returned by a successful check-and-consume.
type CheckResult struct {
	Valid       bool       `json:"valid"`
	LicenseID   string     `json:"licenseId"`
	CurrentUses int        `json:"currentUses"`
	Remaining   int        `json:"remaining"` // -1 = unlimited
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// generateLicenseKey returns "lic_" + 32 hex chars (16 random bytes).
func generateLicenseKey() string {
	return "lic_" + idgen.Hex(16)
}

func generateLicenseID() string {
	return idgen.WithPrefix("li_")
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
