package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/config"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/utils"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// AuthMiddleware creates a middleware for JWT authentication.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}
		if !authenticate(c, cfg, authHeader) {
			return
		}
		c.Next()
	}
}

// OptionalAuth lets guests through but still validates a token when one is sent.
func OptionalAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		if !authenticate(c, cfg, authHeader) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, cfg *config.Config, authHeader string) bool {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		utils.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return false
	}

	claims, err := utils.ValidateToken(parts[1], cfg.JWTSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid token: "+err.Error())
		c.Abort()
		return false
	}

	c.Set(userIDKey, claims.UserID)
	c.Set(userRoleKey, claims.Role)
	return true
}

// RoleAuthMiddleware creates a middleware for role-based authorization.
// It should be used *after* AuthMiddleware.
func RoleAuthMiddleware(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRoleFromContext(c)
		if !ok {
			utils.InternalServerError(c, "User role not found in context. AuthMiddleware might be missing.")
			c.Abort()
			return
		}

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				c.Next()
				return
			}
		}

		utils.Forbidden(c, "You do not have permission to access this resource.")
		c.Abort()
	}
}

// GetUserIDFromContext returns the authenticated user id, if any.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get(userIDKey)
	if !exists {
		return "", false
	}
	idStr, ok := userID.(string)
	return idStr, ok
}

// GetUserRoleFromContext returns the authenticated user's role, if any.
func GetUserRoleFromContext(c *gin.Context) (models.Role, bool) {
	userRole, exists := c.Get(userRoleKey)
	if !exists {
		return "", false
	}
	role, ok := userRole.(models.Role)
	return role, ok
}

// GetPrincipal returns the caller as a booking principal; guests get the zero value.
func GetPrincipal(c *gin.Context) booking.Principal {
	userID, _ := GetUserIDFromContext(c)
	role, _ := GetUserRoleFromContext(c)
	return booking.Principal{UserID: userID, Role: role}
}
