package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/validation"
)

const maxEventTypeLength = 64

// Service aggregates per-owner counts and records tracked events.
type Service struct {
	apps     Counter
	licenses Counter
	sessions Counter
	events   EventStore
	cache    SummaryCache
	now      func() time.Time
}

// NewService creates a new analytics service. cache may be nil to disable
// caching; events may be nil to disable event tracking.
func NewService(apps, licenses, sessions Counter, events EventStore, cache SummaryCache) *Service {
	return &Service{
		apps:     apps,
		licenses: licenses,
		sessions: sessions,
		events:   events,
		cache:    cache,
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// GetSummary returns the owner's dashboard counts. A counter that fails is
// reported as zero rather than failing the whole summary.
func (s *Service) GetSummary(ctx context.Context, ownerID string) (*Summary, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, ownerID); ok {
			recordLookup(true)
			return cached, nil
		}
		recordLookup(false)
	}

	summary := &Summary{
		ApplicationCount:   s.count(ctx, s.apps, ownerID, "applications"),
		ActiveLicenseCount: s.count(ctx, s.licenses, ownerID, "licenses"),
		ActiveSessionCount: s.count(ctx, s.sessions, ownerID, "sessions"),
	}

	if s.cache != nil {
		s.cache.Set(ctx, ownerID, summary)
	}
	return summary, nil
}

func (s *Service) count(ctx context.Context, c Counter, ownerID, what string) int {
	if c == nil {
		return 0
	}
	n, err := c.CountActive(ctx, ownerID)
	if err != nil {
		logging.L(ctx).Warn("summary count failed", "counter", what, "error", err)
		return 0
	}
	return n
}

// InvalidateSummary drops the owner's cached summary. Satisfies the cache
// invalidator interfaces of the domain services.
func (s *Service) InvalidateSummary(ctx context.Context, ownerID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, ownerID)
	}
}

// TrackEvent records a product event for an application.
func (s *Service) TrackEvent(ctx context.Context, ownerID, applicationID, eventType string, data map[string]interface{}) (*Event, error) {
	if s.events == nil {
		return nil, fmt.Errorf("%w: event tracking disabled", ErrValidation)
	}

	eventType = strings.TrimSpace(validation.SanitizeString(eventType, maxEventTypeLength))
	if eventType == "" {
		return nil, fmt.Errorf("%w: eventType is required", ErrValidation)
	}

	e := &Event{
		ID:            generateEventID(),
		ApplicationID: applicationID,
		OwnerID:       ownerID,
		EventType:     eventType,
		Data:          data,
		CreatedAt:     s.now(),
	}
	if err := s.events.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	return e, nil
}

// RecentEvents returns the owner's latest tracked events, newest first.
func (s *Service) RecentEvents(ctx context.Context, ownerID string, limit int) ([]*Event, error) {
	if s.events == nil {
		return []*Event{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.events.ListRecent(ctx, ownerID, limit)
}
