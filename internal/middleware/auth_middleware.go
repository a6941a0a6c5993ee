// auth_middleware.go
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"checkout-service/internal/service"
)

// TokenValidator lo implementa service.AuthService.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*service.AuthUser, error)
}

// bearerToken extrae el token del header Authorization.
func bearerToken(c *gin.Context) (string, bool) {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if h == "" {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}

// AuthMiddleware valida el token contra el servicio de auth y deja al usuario en el contexto.
func AuthMiddleware(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		user, err := auth.ValidateToken(c.Request.Context(), token)
		switch {
		case errors.Is(err, service.ErrUserDisabled):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		case errors.Is(err, service.ErrInvalidToken):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		case err != nil:
			// el servicio de auth no respondió
			slog.Warn("no se pudo validar el token", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "auth service unavailable"})
			return
		}

		c.Set("userID", user.ID)
		c.Set("userName", user.Name)
		c.Set("userPermissions", user.Permissions)
		c.Set("isAdmin", user.IsAdmin())
		c.Next()
	}
}
