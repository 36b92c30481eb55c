package license

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/auth"
	"github.com/keymint/keymint/internal/pagination"
	"github.com/keymint/keymint/internal/validation"
)

// ContextKeyAppID is the gin context key under which the application auth
// middleware stores the resolved application ID for the check endpoint.
const ContextKeyAppID = "appID"

// PlanLimiter resolves the per-application license cap for an owner.
// Implemented by the user service; 0 means unlimited.
type PlanLimiter interface {
	LicenseLimitFor(ctx context.Context, ownerID string) int
}

// Handler provides HTTP endpoints for license management and validation.
type Handler struct {
	service *Service
	limits  PlanLimiter
}

// NewHandler creates a new license handler. limits may be nil.
func NewHandler(service *Service, limits PlanLimiter) *Handler {
	return &Handler{service: service, limits: limits}
}

// RegisterRoutes sets up dashboard license routes. Mount behind auth
// middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/licenses", h.Create)
	r.GET("/licenses", h.List)
	r.GET("/licenses/:id", h.Get)
	r.PATCH("/licenses/:id", h.Update)
	r.DELETE("/licenses/:id", h.Delete)
	r.POST("/licenses/:id/revoke", h.Revoke)
	r.POST("/licenses/:id/suspend", h.Suspend)
	r.POST("/licenses/:id/activate", h.Activate)
}

// RegisterCheckRoutes sets up the SDK validation endpoint. Mount behind the
// application API key middleware, which puts the app ID in the context.
func (h *Handler) RegisterCheckRoutes(r *gin.RouterGroup) {
	r.POST("/check", h.Check)
}

type createRequest struct {
	ApplicationID string            `json:"applicationId" binding:"required"`
	UserID        string            `json:"userId"`
	ExpiresAt     *time.Time        `json:"expiresAt"`
	MaxUses       *int              `json:"maxUses"`
	Metadata      map[string]string `json:"metadata"`
}

// Create handles POST /v1/licenses
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ownerID := auth.GetAuthenticatedOwner(c)
	limit := 0
	if h.limits != nil {
		limit = h.limits.LicenseLimitFor(c.Request.Context(), ownerID)
	}

	l, err := h.service.Create(c.Request.Context(), ownerID, CreateRequest{
		ApplicationID: req.ApplicationID,
		UserID:        req.UserID,
		ExpiresAt:     req.ExpiresAt,
		MaxUses:       req.MaxUses,
		Metadata:      req.Metadata,
	}, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"license": l})
}

// List handles GET /v1/licenses
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be between 1 and 100",
			})
			return
		}
		limit = n
	}

	filter := ListFilter{
		ApplicationID: c.Query("applicationId"),
		Status:        Status(c.Query("status")),
		Limit:         limit + 1,
	}
	if filter.Status != "" && !ValidStatus(filter.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown status filter",
		})
		return
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid pagination cursor",
		})
		return
	}
	if cursor != nil {
		filter.CursorCreatedAt = cursor.CreatedAt
		filter.CursorID = cursor.ID
	}

	ownerID := auth.GetAuthenticatedOwner(c)
	items, err := h.service.List(c.Request.Context(), ownerID, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	page, next, hasMore := pagination.ComputePage(items, limit, func(l *License) (time.Time, string) {
		return l.CreatedAt, l.ID
	})
	if page == nil {
		page = []*License{}
	}

	c.JSON(http.StatusOK, gin.H{
		"licenses":   page,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// Get handles GET /v1/licenses/:id
func (h *Handler) Get(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": l})
}

type updateRequest struct {
	UserID      *string            `json:"userId"`
	ExpiresAt   *time.Time         `json:"expiresAt"`
	ClearExpiry bool               `json:"clearExpiry"`
	MaxUses     *int               `json:"maxUses"`
	Status      *Status            `json:"status"`
	Metadata    *map[string]string `json:"metadata"`
}

// Update handles PATCH /v1/licenses/:id
func (h *Handler) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	l, err := h.service.Update(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"), UpdateRequest{
		UserID:      req.UserID,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
		MaxUses:     req.MaxUses,
		Status:      req.Status,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": l})
}

// Delete handles DELETE /v1/licenses/:id
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Revoke handles POST /v1/licenses/:id/revoke
func (h *Handler) Revoke(c *gin.Context) {
	l, err := h.service.Revoke(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": l})
}

// Suspend handles POST /v1/licenses/:id/suspend
func (h *Handler) Suspend(c *gin.Context) {
	l, err := h.service.Suspend(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": l})
}

// Activate handles POST /v1/licenses/:id/activate
func (h *Handler) Activate(c *gin.Context) {
	l, err := h.service.Activate(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"license": l})
}

type checkRequest struct {
	Key    string `json:"key" binding:"required"`
	Amount int    `json:"amount"`
}

// Check handles POST /v1/check — the SDK license validation endpoint.
// Invalid licenses report the reason with a 4xx status; SDKs treat any
// non-200 as "not licensed".
func (h *Handler) Check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.Key = validation.NormalizeKey(req.Key)
	if !validation.IsValidLicenseKey(req.Key) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed license key",
		})
		return
	}

	appID := c.GetString(ContextKeyAppID)
	if appID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Application credentials required",
		})
		return
	}

	result, err := h.service.CheckAndConsume(c.Request.Context(), appID, req.Key, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"licenseId":   result.LicenseID,
		"currentUses": result.CurrentUses,
		"remaining":   result.Remaining,
		"expiresAt":   result.ExpiresAt,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "license_not_found"
	case errors.Is(err, ErrAppNotFound):
		status = http.StatusNotFound
		code = "application_not_found"
	case errors.Is(err, ErrExpired):
		status = http.StatusForbidden
		code = "license_expired"
	case errors.Is(err, ErrNotActive):
		status = http.StatusForbidden
		code = "license_not_active"
	case errors.Is(err, ErrUsageExceeded):
		status = http.StatusForbidden
		code = "usage_exceeded"
	case errors.Is(err, ErrLicenseLimit):
		status = http.StatusForbidden
		code = "license_limit_reached"
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrUnauthorized):
		// Don't reveal other owners' licenses; the message must match the
		// code or it gives the existence away anyway.
		status = http.StatusNotFound
		code = "license_not_found"
		err = ErrNotFound
	case errors.Is(err, ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		code = "store_unavailable"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
