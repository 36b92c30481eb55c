// Package dashboard provides composed JSON endpoints for the management UI.
// Each endpoint stitches together data the UI would otherwise fetch with
// several round trips.
package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/analytics"
	"github.com/keymint/keymint/internal/apps"
	"github.com/keymint/keymint/internal/auth"
	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/user"
)

// Handler provides dashboard API endpoints.
type Handler struct {
	users     *user.Service
	apps      *apps.Service
	licenses  *license.Service
	analytics *analytics.Service
}

// NewHandler creates a new dashboard handler.
func NewHandler(users *user.Service, appsSvc *apps.Service, licenses *license.Service, analyticsSvc *analytics.Service) *Handler {
	return &Handler{
		users:     users,
		apps:      appsSvc,
		licenses:  licenses,
		analytics: analyticsSvc,
	}
}

// RegisterRoutes sets up dashboard routes. Mount behind auth middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard/overview", h.Overview)
	r.GET("/dashboard/applications", h.Applications)
	r.GET("/dashboard/activity", h.Activity)
}

// Overview returns the account, its plan limits and the headline counts in
// one response.
func (h *Handler) Overview(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := auth.GetAuthenticatedOwner(c)

	u, err := h.users.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	plan := user.PlanFor(u.Tier)

	summary, err := h.analytics.GetSummary(ctx, ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":    u.ID,
			"email": u.Email,
			"name":  u.Name,
			"tier":  u.Tier,
		},
		"plan": gin.H{
			"maxApplications":   plan.MaxApplications,
			"maxLicensesPerApp": plan.MaxLicensesPerApp,
			"rateLimitRpm":      plan.RateLimitRPM,
			"monthlyPriceUsd":   plan.MonthlyPriceUSD,
		},
		"summary": summary,
	})
}

// Applications returns the owner's applications annotated with their
// license counts.
func (h *Handler) Applications(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := auth.GetAuthenticatedOwner(c)

	list, err := h.apps.List(ctx, ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, a := range list {
		count, err := h.licenses.CountByApplication(ctx, a.ID)
		if err != nil {
			count = 0
		}
		out = append(out, gin.H{
			"application":  a,
			"licenseCount": count,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"applications": out,
		"count":        len(out),
	})
}

// Activity returns the owner's recent tracked events.
func (h *Handler) Activity(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := auth.GetAuthenticatedOwner(c)

	limit := parseLimit(c, 50, 200)

	events, err := h.analytics.RecentEvents(ctx, ownerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if events == nil {
		events = []*analytics.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

func parseLimit(c *gin.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
