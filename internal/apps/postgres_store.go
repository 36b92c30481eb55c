package apps

import (
	"context"
	"database/sql"
)

// PostgresStore persists applications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL application store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const appColumns = `id, owner_id, name, description, api_key, webhook_url,
	status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, app *Application) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (`+appColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		app.ID, app.OwnerID, app.Name, app.Description, app.APIKey,
		app.WebhookURL, app.Status, app.CreatedAt, app.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+appColumns+` FROM applications WHERE id = $1`, id)
	return scanApp(row)
}

func (s *PostgresStore) GetByAPIKey(ctx context.Context, apiKey string) (*Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+appColumns+` FROM applications WHERE api_key = $1`, apiKey)
	return scanApp(row)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appColumns+` FROM applications
		WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Application
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, app *Application) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE applications SET name=$2, description=$3, webhook_url=$4,
			status=$5, updated_at=$6
		WHERE id = $1`,
		app.ID, app.Name, app.Description, app.WebhookURL,
		app.Status, app.UpdatedAt,
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

func (s *PostgresStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applications
		WHERE owner_id = $1 AND status != 'deleted'`, ownerID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanApp(row scanner) (*Application, error) {
	app := &Application{}
	err := row.Scan(
		&app.ID, &app.OwnerID, &app.Name, &app.Description, &app.APIKey,
		&app.WebhookURL, &app.Status, &app.CreatedAt, &app.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return app, nil
}
