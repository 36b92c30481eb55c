package analytics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/apps"
	"github.com/keymint/keymint/internal/auth"
	"github.com/keymint/keymint/internal/license"
)

// Handler provides HTTP endpoints for dashboard analytics.
type Handler struct {
	service *Service
}

// NewHandler creates a new analytics handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dashboard analytics routes. Mount behind auth
// middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/analytics/summary", h.Summary)
	r.GET("/analytics/events", h.RecentEvents)
}

// RegisterSDKRoutes sets up the event tracking route SDK clients call.
// Mount behind the application API key middleware.
func (h *Handler) RegisterSDKRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.TrackEvent)
}

// Summary handles GET /v1/analytics/summary
func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.service.GetSummary(c.Request.Context(), auth.GetAuthenticatedOwner(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// RecentEvents handles GET /v1/analytics/events
func (h *Handler) RecentEvents(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	events, err := h.service.RecentEvents(c.Request.Context(), auth.GetAuthenticatedOwner(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type trackRequest struct {
	EventType string                 `json:"eventType" binding:"required"`
	Data      map[string]interface{} `json:"data"`
}

// TrackEvent handles POST /v1/events
func (h *Handler) TrackEvent(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.TrackEvent(c.Request.Context(),
		c.GetString(apps.ContextKeyAppOwnerID),
		c.GetString(license.ContextKeyAppID),
		req.EventType, req.Data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": e})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_error"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
