package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/promptforge/admission-gateway/internal/service"
)

// Auth attaches the caller's identity from a bearer token when one is
// present and valid. It never rejects: identity here only decides
// whether quota is tracked per user or per IP, and access control
// belongs to the upstream API.
func Auth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.Next()
			return
		}

		if userID := service.UserID(claims); userID != "" {
			c.Set("user_id", userID)
		}

		c.Next()
	}
}
