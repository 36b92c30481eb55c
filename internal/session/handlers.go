package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/auth"
	"github.com/keymint/keymint/internal/license"
)

// Handler provides HTTP endpoints for session tracking.
type Handler struct {
	service *Service
}

// NewHandler creates a new session handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterSDKRoutes sets up the session routes SDK clients call. Mount
// behind the application API key middleware.
func (h *Handler) RegisterSDKRoutes(r *gin.RouterGroup) {
	r.POST("/sessions/start", h.Start)
	r.POST("/sessions/:id/end", h.End)
}

// RegisterRoutes sets up dashboard session routes. Mount behind auth
// middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/licenses/:id/sessions", h.ListByLicense)
}

type startRequest struct {
	LicenseKey     string `json:"licenseKey" binding:"required"`
	UserIdentifier string `json:"userIdentifier"`
}

// Start handles POST /v1/sessions/start
func (h *Handler) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sess, err := h.service.Start(c.Request.Context(), c.GetString(license.ContextKeyAppID), StartRequest{
		LicenseKey:     req.LicenseKey,
		UserIdentifier: req.UserIdentifier,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

// End handles POST /v1/sessions/:id/end
func (h *Handler) End(c *gin.Context) {
	sess, err := h.service.End(c.Request.Context(), c.GetString(license.ContextKeyAppID), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// ListByLicense handles GET /v1/licenses/:id/sessions
func (h *Handler) ListByLicense(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	sessions, err := h.service.ListByLicense(c.Request.Context(),
		auth.GetAuthenticatedOwner(c), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, license.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrEnded):
		status = http.StatusConflict
		code = "session_ended"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, license.ErrExpired):
		status = http.StatusForbidden
		code = "license_expired"
	case errors.Is(err, license.ErrNotActive):
		status = http.StatusForbidden
		code = "license_not_active"
	case errors.Is(err, license.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		code = "store_unavailable"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
