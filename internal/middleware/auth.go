package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/identity"
)

// AuthMiddleware resolves the viewer via the identity provider and stores it
// on the request context.
func AuthMiddleware(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer, err := provider.ViewerFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set("userID", viewer.UserID)
		c.Set("displayName", viewer.DisplayName)
		c.Next()
	}
}

// ViewerFromContext reads the identity stored by AuthMiddleware.
func ViewerFromContext(c *gin.Context) identity.Viewer {
	viewer := identity.Viewer{}
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(int64); ok {
			viewer.UserID = id
		}
	}
	if v, ok := c.Get("displayName"); ok {
		if name, ok := v.(string); ok {
			viewer.DisplayName = name
		}
	}
	return viewer
}
