package user

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, name, role, tier, stripe_customer_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, tier, stripe_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.Name, u.Role, u.Tier, nullString(u.StripeCustomerID), u.CreatedAt, u.UpdatedAt)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (p *PostgresStore) GetByStripeCustomer(ctx context.Context, customerID string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID))
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET name=$2, role=$3, tier=$4, stripe_customer_id=$5, updated_at=$6
		WHERE id = $1
	`, u.ID, u.Name, u.Role, u.Tier, nullString(u.StripeCustomerID), u.UpdatedAt)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		u := &User{}
		var name, stripeID sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &name, &u.Role, &u.Tier, &stripeID,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Name = name.String
		u.StripeCustomerID = stripeID.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresStore) scanOne(row *sql.Row) (*User, error) {
	u := &User{}
	var name, stripeID sql.NullString
	err := row.Scan(&u.ID, &u.Email, &name, &u.Role, &u.Tier, &stripeID,
		&u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.StripeCustomerID = stripeID.String
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
