package billing

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists payments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, owner_id, stripe_session_id, tier, amount_cents,
	currency, status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OwnerID, p.StripeSessionID, p.Tier, p.AmountCents,
		p.Currency, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetBySession(ctx context.Context, sessionID string) (*Payment, error) {
	p := &Payment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE stripe_session_id = $1`,
		sessionID,
	).Scan(
		&p.ID, &p.OwnerID, &p.StripeSessionID, &p.Tier, &p.AmountCents,
		&p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status PaymentStatus, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payments SET status=$2, updated_at=$3 WHERE id = $1`,
		id, status, now,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Payment
	for rows.Next() {
		p := &Payment{}
		if err := rows.Scan(
			&p.ID, &p.OwnerID, &p.StripeSessionID, &p.Tier, &p.AmountCents,
			&p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
