package billing

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/auth"
	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/user"
)

// Handler provides HTTP endpoints for billing.
type Handler struct {
	service *Service
}

// NewHandler creates a new billing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up billing routes. Mount behind auth middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/checkout", h.CreateCheckout)
	r.GET("/billing/history", h.History)
}

// RegisterWebhookRoutes sets up the Stripe webhook endpoint. Unauthenticated;
// the Stripe-Signature header is the credential.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/billing/webhook", h.Webhook)
}

type checkoutRequest struct {
	Tier user.Tier `json:"tier" binding:"required"`
}

// CreateCheckout handles POST /v1/billing/checkout
func (h *Handler) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	checkout, err := h.service.CreateCheckout(c.Request.Context(), auth.GetAuthenticatedOwner(c), req.Tier)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"checkout": checkout})
}

// History handles GET /v1/billing/history
func (h *Handler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	payments, err := h.service.History(c.Request.Context(), auth.GetAuthenticatedOwner(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if payments == nil {
		payments = []*Payment{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// Webhook handles POST /v1/billing/webhook
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err = h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
			return
		}
		// Non-2xx makes Stripe retry, which is what we want for
		// transient failures.
		logging.L(c.Request.Context()).Error("stripe webhook failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, user.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrStripeFailure):
		status = http.StatusBadGateway
		code = "stripe_failure"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
