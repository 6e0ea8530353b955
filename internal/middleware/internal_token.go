package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"parkshare/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// InternalTokenAuth protects collaborator callbacks (payment signals). The
// bearer token is compared with a bcrypt hash so the plain token never sits
// in configuration.
func InternalTokenAuth(tokenHash string, log *slog.Logger) gin.HandlerFunc {
	hash := []byte(tokenHash)

	return func(c *gin.Context) {
		if len(hash) == 0 {
			logAuthFailure(c, log, http.StatusServiceUnavailable, "token_not_configured")
			response.AbortError(c, http.StatusServiceUnavailable, "INTERNAL_AUTH_DISABLED", "Internal token is not configured")
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			logAuthFailure(c, log, http.StatusUnauthorized, "missing_auth")
			response.AbortError(c, http.StatusUnauthorized, "AUTH_MISSING", "Authorization header is required")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			logAuthFailure(c, log, http.StatusUnauthorized, "invalid_auth_format")
			response.AbortError(c, http.StatusUnauthorized, "AUTH_INVALID", "Authorization header must be 'Bearer <token>'")
			return
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(parts[1])); err != nil {
			logAuthFailure(c, log, http.StatusForbidden, "invalid_token")
			response.AbortError(c, http.StatusForbidden, "AUTH_INVALID", "Invalid internal token")
			return
		}

		c.Next()
	}
}

func logAuthFailure(c *gin.Context, log *slog.Logger, status int, reason string) {
	log.Warn("internal_auth_failed",
		"status", status,
		"reason", reason,
		"path", c.Request.URL.Path,
		"client_ip", c.ClientIP(),
		"request_id", requestID(c),
	)
}
