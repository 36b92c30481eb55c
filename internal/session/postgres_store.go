package session

import (
	"context"
	"database/sql"
)

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, license_id, application_id, owner_id,
	user_identifier, ip_address, user_agent, status, started_at, ended_at`

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.LicenseID, sess.ApplicationID, sess.OwnerID,
		sess.UserIdentifier, sess.IPAddress, sess.UserAgent,
		sess.Status, sess.StartedAt, sess.EndedAt,
	)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *PostgresStore) Update(ctx context.Context, sess *Session) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status=$2, ended_at=$3 WHERE id = $1`,
		sess.ID, sess.Status, sess.EndedAt,
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

func (s *PostgresStore) ListByLicense(ctx context.Context, licenseID string, limit int) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE license_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, licenseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE owner_id = $1 AND status = 'active'`, ownerID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.LicenseID, &sess.ApplicationID, &sess.OwnerID,
		&sess.UserIdentifier, &sess.IPAddress, &sess.UserAgent,
		&sess.Status, &sess.StartedAt, &ended,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}
