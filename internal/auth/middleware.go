package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyOwnerID is the key for storing the authenticated user ID
	ContextKeyOwnerID = "authOwnerID"
)

// Middleware extracts and validates API key from request
// Sets apiKey and authOwnerID in context if valid
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get API key from header
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyOwnerID, key.OwnerID)
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin middleware rejects requests that are not admin.
// A request is admin if the authenticated key carries the admin role, or if
// the X-Admin-Secret header matches the configured secret.
func RequireAdmin(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key, ok := GetAPIKey(c); ok && key.Role == "admin" {
			c.Next()
			return
		}

		secret := c.GetHeader("X-Admin-Secret")
		if adminSecret != "" && secret != "" &&
			subtle.ConstantTimeCompare([]byte(secret), []byte(adminSecret)) == 1 {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Admin access required.",
		})
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	return key.(*APIKey), true
}

// GetAuthenticatedOwner returns the authenticated user's ID
func GetAuthenticatedOwner(c *gin.Context) string {
	ownerID, exists := c.Get(ContextKeyOwnerID)
	if !exists {
		return ""
	}
	return ownerID.(string)
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}
