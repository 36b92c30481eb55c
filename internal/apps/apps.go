// Package apps manages the applications that licenses are issued under.
// Each application carries an immutable API key that SDK clients present
// when validating license keys.
package apps

import (
	"context"
	"errors"
	"time"

	"github.com/keymint/keymint/internal/idgen"
)

var (
	ErrNotFound         = errors.New("application not found")
	ErrUnauthorized     = errors.New("not authorized for this application")
	ErrValidation       = errors.New("validation failed")
	ErrAppLimit         = errors.New("application limit reached for plan")
	ErrStoreUnavailable = errors.New("application store unavailable")
)

// Status is an application's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Application groups licenses under a single product or deployment.
type Application struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	APIKey      string    `json:"apiKey"`
	WebhookURL  string    `json:"webhookUrl,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Active reports whether the application accepts license checks.
func (a *Application) Active() bool {
	return a.Status == StatusActive
}

// Store persists applications.
type Store interface {
	Create(ctx context.Context, app *Application) error
	GetByID(ctx context.Context, id string) (*Application, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Application, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Application, error)
	Update(ctx context.Context, app *Application) error
	// CountByOwner counts non-deleted applications.
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}

// LicenseRevoker revokes all licenses of an application. Implemented by the
// license service; the indirection keeps the packages from importing each
// other.
type LicenseRevoker interface {
	RevokeByApplication(ctx context.Context, appID string) (int, error)
}

// EventEmitter mirrors the application events the webhook emitter publishes.
type EventEmitter interface {
	EmitAppCreated(ownerID, appID, name string)
	EmitAppSuspended(ownerID, appID string)
	EmitAppDeleted(ownerID, appID string, revokedLicenses int)
}

// CacheInvalidator drops the owner's cached analytics summary.
type CacheInvalidator interface {
	InvalidateSummary(ctx context.Context, ownerID string)
}

func generateAppID() string {
	return idgen.WithPrefix("app_")
}

// generateAPIKey returns the credential SDK clients present on the check
// endpoint. Generated once at creation and never rotated.
func generateAPIKey() string {
	return "app_" + idgen.Hex(12)
}
