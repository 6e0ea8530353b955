package middleware

import (
	"net/http"
	"strings"

	"parkshare/internal/domain"
	"parkshare/internal/pkg/jwt"
	"parkshare/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// JWTAuth requires a valid bearer token and stores its user id and role
// on the context.
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.AbortError(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			response.AbortError(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			response.AbortError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// CurrentActor returns the authenticated caller. Tokens without a known
// role act as renters.
func CurrentActor(c *gin.Context) domain.Actor {
	role := domain.Role(c.GetString(ctxRole))
	switch role {
	case domain.RoleRenter, domain.RoleHost, domain.RoleOps:
	default:
		role = domain.RoleRenter
	}
	return domain.Actor{ID: c.GetString(ctxUserID), Role: role}
}
