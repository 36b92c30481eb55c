package apps

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/validation"
)

// ContextKeyAppOwnerID is the gin context key holding the owner of the
// authenticated application.
const ContextKeyAppOwnerID = "appOwnerID"

// APIKeyMiddleware authenticates SDK requests by the X-Api-Key header and
// stores the resolved application ID in the context for the license check
// handler. Suspended applications fail closed.
func APIKeyMiddleware(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := validation.NormalizeKey(c.GetHeader("X-Api-Key"))
		if key == "" || !validation.IsValidAPIKey(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Api-Key header required",
			})
			return
		}

		app, err := service.ResolveByAPIKey(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Unknown or suspended application key",
			})
			return
		}

		c.Set(license.ContextKeyAppID, app.ID)
		c.Set(ContextKeyAppOwnerID, app.OwnerID)
		c.Next()
	}
}
