// Package analytics aggregates dashboard counts and records product events.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Summary is the dashboard headline view for one owner.
type Summary struct {
	ApplicationCount   int `json:"applicationCount"`
	ActiveLicenseCount int `json:"activeLicenseCount"`
	ActiveSessionCount int `json:"activeSessionCount"`
}

// Event is a product event tracked by an application.
type Event struct {
	ID            string                 `json:"id"`
	ApplicationID string                 `json:"applicationId"`
	OwnerID       string                 `json:"-"`
	EventType     string                 `json:"eventType"`
	Data          map[string]interface{} `json:"data,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// EventStore persists tracked events.
type EventStore interface {
	Insert(ctx context.Context, e *Event) error
	ListRecent(ctx context.Context, ownerID string, limit int) ([]*Event, error)
}

// Counter reports a per-owner count. Each domain service contributes one.
type Counter interface {
	CountActive(ctx context.Context, ownerID string) (int, error)
}

func generateEventID() string {
	return uuid.NewString()
}
