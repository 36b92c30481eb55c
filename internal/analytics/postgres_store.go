package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresEventStore persists tracked events in PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgreSQL event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Insert(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analytics_events (id, application_id, owner_id, event_type, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ApplicationID, e.OwnerID, e.EventType, data, e.CreatedAt,
	)
	return err
}

func (s *PostgresEventStore) ListRecent(ctx context.Context, ownerID string, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, owner_id, event_type, data, created_at
		FROM analytics_events
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Event
	for rows.Next() {
		e := &Event{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.OwnerID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
