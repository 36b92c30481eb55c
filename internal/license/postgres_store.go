package license

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists licenses in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL license store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const licenseColumns = `id, key, application_id, owner_id, user_id, expires_at,
	max_uses, current_uses, status, metadata, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, l *License) error {
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.Key, l.ApplicationID, l.OwnerID, nullString(l.UserID),
		l.ExpiresAt, l.MaxUses, l.CurrentUses, l.Status, meta,
		l.CreatedAt, l.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateKey
	}
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*License, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id)
	return s.scanLicense(row)
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*License, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key)
	return s.scanLicense(row)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*License, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, val interface{}) {
		args = append(args, val)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	add("owner_id = ?", filter.OwnerID)
	if filter.ApplicationID != "" {
		add("application_id = ?", filter.ApplicationID)
	}
	if filter.Status != "" {
		add("status = ?", filter.Status)
	}
	if !filter.CursorCreatedAt.IsZero() {
		args = append(args, filter.CursorCreatedAt, filter.CursorID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	args = append(args, filter.Limit)
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE ` +
		strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*License
	for rows.Next() {
		l, err := s.scanLicense(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, l *License) error {
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET user_id=$2, expires_at=$3, max_uses=$4,
			current_uses=$5, status=$6, metadata=$7, updated_at=$8
		WHERE id = $1`,
		l.ID, nullString(l.UserID), l.ExpiresAt, l.MaxUses,
		l.CurrentUses, l.Status, meta, l.UpdatedAt,
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

// Consume atomically increments usage with a conditional UPDATE. The WHERE
// clause re-checks status and the cap so concurrent consumers on other
// instances cannot push current_uses past max_uses.
func (s *PostgresStore) Consume(ctx context.Context, id string, amount int, now time.Time) (*License, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE licenses
		SET current_uses = current_uses + $2, updated_at = $3
		WHERE id = $1
			AND status = 'active'
			AND (max_uses = 0 OR current_uses + $2 <= max_uses)
		RETURNING `+licenseColumns, id, amount, now)

	l, err := s.scanLicense(row)
	if err == nil {
		return l, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	// The conditional UPDATE matched nothing. Re-read to report why.
	existing, gerr := s.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if existing.Status != StatusActive {
		return nil, ErrNotActive
	}
	return nil, ErrUsageExceeded
}

func (s *PostgresStore) MarkExpired(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'active'`, id, now)
	return err
}

func (s *PostgresStore) RevokeByApplication(ctx context.Context, appID string, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = 'revoked', updated_at = $2
		WHERE application_id = $1 AND status != 'revoked'`, appID, now)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) CountByApplication(ctx context.Context, appID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM licenses WHERE application_id = $1`, appID).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM licenses
		WHERE owner_id = $1 AND status = 'active'`, ownerID).Scan(&n)
	return n, err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanLicense(row scanner) (*License, error) {
	l := &License{}
	var (
		userID  sql.NullString
		expires sql.NullTime
		meta    []byte
	)
	err := row.Scan(
		&l.ID, &l.Key, &l.ApplicationID, &l.OwnerID, &userID, &expires,
		&l.MaxUses, &l.CurrentUses, &l.Status, &meta, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.UserID = userID.String
	if expires.Valid {
		t := expires.Time
		l.ExpiresAt = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
