// Package session records SDK client sessions against licenses. Sessions
// are observational: they feed the dashboard and analytics but never count
// toward a license's usage cap.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/keymint/keymint/internal/idgen"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrEnded        = errors.New("session already ended")
	ErrUnauthorized = errors.New("not authorized for this session")
	ErrValidation   = errors.New("validation failed")
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is one SDK client run against a license.
type Session struct {
	ID             string     `json:"id"`
	LicenseID      string     `json:"licenseId"`
	ApplicationID  string     `json:"applicationId"`
	OwnerID        string     `json:"-"`
	UserIdentifier string     `json:"userIdentifier,omitempty"`
	IPAddress      string     `json:"ipAddress,omitempty"`
	UserAgent      string     `json:"userAgent,omitempty"`
	Status         Status     `json:"status"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

// Duration returns the session length, using now for still-active sessions.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, sess *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, sess *Session) error
	ListByLicense(ctx context.Context, licenseID string, limit int) ([]*Session, error)
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
}

// EventEmitter mirrors the session events the webhook emitter publishes.
type EventEmitter interface {
	EmitSessionStarted(ownerID, sessionID, licenseID string)
	EmitSessionEnded(ownerID, sessionID, licenseID string)
}

// CacheInvalidator drops the owner's cached analytics summary.
type CacheInvalidator interface {
	InvalidateSummary(ctx context.Context, ownerID string)
}

func generateSessionID() string {
	return idgen.WithPrefix("sess_")
}
