// admin_only.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminOnly va siempre después de AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("isAdmin") {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
