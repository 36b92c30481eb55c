package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/user"
)

// Config holds the Stripe credentials and per-tier price IDs.
type Config struct {
	SecretKey         string
	WebhookSecret     string
	PriceIDPro        string
	PriceIDEnterprise string
	SuccessURL        string
	CancelURL         string
}

// Service implements plan upgrades through Stripe Checkout.
type Service struct {
	store Store
	users UserDirectory
	cfg   Config
	now   func() time.Time

	// newCheckout is swappable so tests don't hit Stripe.
	newCheckout func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewService creates a new billing service and sets the global Stripe key.
func NewService(store Store, users UserDirectory, cfg Config) *Service {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	return &Service{
		store:       store,
		users:       users,
		cfg:         cfg,
		now:         time.Now,
		newCheckout: session.New,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Checkout is the handoff to Stripe's hosted payment page.
type Checkout struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckout starts a Stripe Checkout session upgrading the owner to
// tier. Only paid tiers are valid targets.
func (s *Service) CreateCheckout(ctx context.Context, ownerID string, tier user.Tier) (*Checkout, error) {
	priceID, err := s.priceFor(tier)
	if err != nil {
		return nil, err
	}

	u, err := s.users.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if u.Tier == tier {
		return nil, fmt.Errorf("%w: already on the %s plan", ErrValidation, tier)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(ownerID),
		CustomerEmail:     stripe.String(u.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}

	sess, err := s.newCheckout(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStripeFailure, err)
	}

	plan := user.PlanFor(tier)
	p := &Payment{
		ID:              generatePaymentID(),
		OwnerID:         ownerID,
		StripeSessionID: sess.ID,
		Tier:            tier,
		AmountCents:     int64(plan.MonthlyPriceUSD) * 100,
		Currency:        "usd",
		Status:          PaymentPending,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// HandleWebhook verifies and applies a Stripe webhook event.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.applyEvent(ctx, event)
}

func (s *Service) applyEvent(ctx context.Context, event stripe.Event) error {
	log := logging.L(ctx)

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return s.completeCheckout(ctx, &sess)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if sub.Customer == nil {
			return nil
		}
		u, err := s.users.GetByStripeCustomer(ctx, sub.Customer.ID)
		if err != nil {
			log.Warn("subscription deleted for unknown customer", "customer", sub.Customer.ID)
			return nil
		}
		if _, err := s.users.SetTier(ctx, u.ID, user.TierFree); err != nil {
			return fmt.Errorf("failed to downgrade user: %w", err)
		}
		log.Info("subscription ended, user downgraded", "user_id", u.ID)
		return nil

	default:
		// Unhandled event types acknowledge cleanly so Stripe stops
		// retrying them.
		return nil
	}
}

func (s *Service) completeCheckout(ctx context.Context, sess *stripe.CheckoutSession) error {
	p, err := s.store.GetBySession(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logging.L(ctx).Warn("checkout completed for unknown session", "session", sess.ID)
			return nil
		}
		return err
	}
	if p.Status == PaymentCompleted {
		return nil // webhook redelivery
	}

	if _, err := s.users.SetTier(ctx, p.OwnerID, p.Tier); err != nil {
		return fmt.Errorf("failed to upgrade user: %w", err)
	}
	if sess.Customer != nil {
		if err := s.users.LinkStripeCustomer(ctx, p.OwnerID, sess.Customer.ID); err != nil {
			logging.L(ctx).Warn("failed to link stripe customer", "user_id", p.OwnerID, "error", err)
		}
	}

	if err := s.store.SetStatus(ctx, p.ID, PaymentCompleted, s.now()); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	logging.L(ctx).Info("plan upgraded", "user_id", p.OwnerID, "tier", p.Tier)
	return nil
}

// History returns the owner's payments, newest first.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]*Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByOwner(ctx, ownerID, limit)
}

func (s *Service) priceFor(tier user.Tier) (string, error) {
	var priceID string
	switch tier {
	case user.TierPro:
		priceID = s.cfg.PriceIDPro
	case user.TierEnterprise:
		priceID = s.cfg.PriceIDEnterprise
	default:
		return "", fmt.Errorf("%w: %q is not an upgradeable tier", ErrValidation, tier)
	}
	if priceID == "" {
		return "", fmt.Errorf("%w: no price configured for tier %s", ErrValidation, tier)
	}
	return priceID, nil
}
