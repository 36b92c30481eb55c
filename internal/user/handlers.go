package user

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/auth"
)

// Handler provides HTTP endpoints for account management.
type Handler struct {
	service *Service
	auth    *auth.Manager
}

// NewHandler creates a new user handler.
func NewHandler(service *Service, authManager *auth.Manager) *Handler {
	return &Handler{service: service, auth: authManager}
}

// RegisterRoutes sets up public account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users/register", h.Register)
}

// RegisterProtectedRoutes sets up auth-required account routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.Me)
	r.PATCH("/users/me", h.UpdateProfile)
}

// RegisterAdminRoutes sets up admin-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/users", h.List)
	r.PUT("/users/:id/role", h.SetRole)
	r.PUT("/users/:id/tier", h.SetTier)
	r.DELETE("/users/:id", h.Delete)
}

// RegisterRequest is the request body for POST /v1/users/register.
type RegisterRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name"`
}

// Register handles POST /v1/users/register.
// Creates the account and issues its first API key. The raw key is returned
// once and never stored.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	u, err := h.service.Register(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		status := http.StatusInternalServerError
		code := "register_failed"
		if errors.Is(err, ErrEmailTaken) {
			status = http.StatusConflict
			code = "email_taken"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	rawKey, _, err := h.auth.GenerateKey(c.Request.Context(), u.ID, string(u.Role), "default")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_generation_failed",
			"message": "Account created but API key issuance failed",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":   u,
		"apiKey": rawKey,
	})
}

// Me handles GET /v1/users/me
func (h *Handler) Me(c *gin.Context) {
	ownerID := auth.GetAuthenticatedOwner(c)

	u, err := h.service.Get(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": u,
		"plan": PlanFor(u.Tier),
	})
}

// UpdateProfileRequest is the request body for PATCH /v1/users/me.
type UpdateProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

// UpdateProfile handles PATCH /v1/users/me
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	ownerID := auth.GetAuthenticatedOwner(c)
	u, err := h.service.UpdateProfile(c.Request.Context(), ownerID, req.Name)
	if err != nil {
		h.writeError(c, err, "update_failed")
		return
	}

	c.JSON(http.StatusOK, u)
}

// List handles GET /v1/admin/users
func (h *Handler) List(c *gin.Context) {
	users, err := h.service.List(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// SetRoleRequest is the request body for PUT /v1/admin/users/:id/role.
type SetRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// SetRole handles PUT /v1/admin/users/:id/role
func (h *Handler) SetRole(c *gin.Context) {
	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	u, err := h.service.SetRole(c.Request.Context(), c.Param("id"), Role(req.Role))
	if err != nil {
		h.writeError(c, err, "role_update_failed")
		return
	}
	c.JSON(http.StatusOK, u)
}

// SetTierRequest is the request body for PUT /v1/admin/users/:id/tier.
type SetTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// SetTier handles PUT /v1/admin/users/:id/tier
func (h *Handler) SetTier(c *gin.Context) {
	var req SetTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	u, err := h.service.SetTier(c.Request.Context(), c.Param("id"), Tier(req.Tier))
	if err != nil {
		h.writeError(c, err, "tier_update_failed")
		return
	}
	c.JSON(http.StatusOK, u)
}

// Delete handles DELETE /v1/admin/users/:id
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "delete_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidTier), errors.Is(err, ErrInvalidRole):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, ErrEmailTaken):
		status = http.StatusConflict
		code = "email_taken"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
