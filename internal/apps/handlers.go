package apps

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/auth"
)

// PlanLimiter resolves the per-owner application cap. Implemented by the
// user service; 0 means unlimited.
type PlanLimiter interface {
	ApplicationLimitFor(ctx context.Context, ownerID string) int
}

// Handler provides HTTP endpoints for application management.
type Handler struct {
	service *Service
	limits  PlanLimiter
}

// NewHandler creates a new applications handler. limits may be nil.
func NewHandler(service *Service, limits PlanLimiter) *Handler {
	return &Handler{service: service, limits: limits}
}

// RegisterRoutes sets up application routes. Mount behind auth middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/applications", h.Create)
	r.GET("/applications", h.List)
	r.GET("/applications/:id", h.Get)
	r.PATCH("/applications/:id", h.Update)
	r.DELETE("/applications/:id", h.Delete)
	r.POST("/applications/:id/suspend", h.Suspend)
	r.POST("/applications/:id/activate", h.Activate)
}

type createRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	WebhookURL  string `json:"webhookUrl"`
}

// Create handles POST /v1/applications
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
		limit = h.limits.ApplicationLimitFor(c.Request.Context(), ownerID)
	}

	app, err := h.service.Create(c.Request.Context(), ownerID, CreateRequest{
		Name:        req.Name,
		Description: req.Description,
		WebhookURL:  req.WebhookURL,
	}, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	// The API key is only shown in full here; treat this response as the
	// one chance to copy it.
	c.JSON(http.StatusCreated, gin.H{"application": app})
}

// List handles GET /v1/applications
func (h *Handler) List(c *gin.Context) {
	apps, err := h.service.List(c.Request.Context(), auth.GetAuthenticatedOwner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if apps == nil {
		apps = []*Application{}
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps})
}

// Get handles GET /v1/applications/:id
func (h *Handler) Get(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

type updateRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	WebhookURL  *string `json:"webhookUrl"`
}

// Update handles PATCH /v1/applications/:id
func (h *Handler) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	app, err := h.service.Update(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"), UpdateRequest{
		Name:        req.Name,
		Description: req.Description,
		WebhookURL:  req.WebhookURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

// Delete handles DELETE /v1/applications/:id
func (h *Handler) Delete(c *gin.Context) {
	revoked, err := h.service.Delete(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "revokedLicenses": revoked})
}

// Suspend handles POST /v1/applications/:id/suspend
func (h *Handler) Suspend(c *gin.Context) {
	app, err := h.service.Suspend(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

// Activate handles POST /v1/applications/:id/activate
func (h *Handler) Activate(c *gin.Context) {
	app, err := h.service.Activate(c.Request.Context(), auth.GetAuthenticatedOwner(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"application": app})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "application_not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusNotFound
		code = "application_not_found" // don't reveal other owners' apps
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrAppLimit):
		status = http.StatusForbidden
		code = "application_limit_reached"
	case errors.Is(err, ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		code = "store_unavailable"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
