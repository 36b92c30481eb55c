// Package billing integrates Stripe Checkout for plan upgrades and keeps a
// local payment history.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/keymint/keymint/internal/idgen"
	"github.com/keymint/keymint/internal/user"
)

var (
	ErrNotFound      = errors.New("payment not found")
	ErrValidation    = errors.New("validation failed")
	ErrStripeFailure = errors.New("stripe request failed")
)

// PaymentStatus is a payment's lifecycle state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one checkout attempt and its outcome.
type Payment struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"ownerId"`
	StripeSessionID string        `json:"-"`
	Tier            user.Tier     `json:"tier"`
	AmountCents     int64         `json:"amountCents"`
	Currency        string        `json:"currency"`
	Status          PaymentStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Store persists payments.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	GetBySession(ctx context.Context, sessionID string) (*Payment, error)
	SetStatus(ctx context.Context, id string, status PaymentStatus, now time.Time) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Payment, error)
}

// UserDirectory is the slice of the user service billing needs.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*user.User, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*user.User, error)
	SetTier(ctx context.Context, id string, tier user.Tier) (*user.User, error)
	LinkStripeCustomer(ctx context.Context, id, customerID string) error
}

func generatePaymentID() string {
	return idgen.WithPrefix("pay_")
}
