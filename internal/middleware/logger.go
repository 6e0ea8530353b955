package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"parkshare/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request at debug level, failures at warn/error,
// and turns panics into a 500 envelope.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Error("request_panic",
					append(requestAttrs(c, start),
						"error", fmt.Sprint(recovered),
						"stack", string(debug.Stack()))...)
				response.AbortError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal Server Error")
				return
			}

			status := c.Writer.Status()
			attrs := requestAttrs(c, start)
			for _, err := range c.Errors {
				attrs = append(attrs, "error", err.Error())
			}

			switch {
			case status >= http.StatusInternalServerError || len(c.Errors) > 0:
				log.Error("request_error", attrs...)
			case status >= http.StatusBadRequest:
				log.Warn("request_rejected", attrs...)
			default:
				log.Debug("request", attrs...)
			}
		}()

		c.Next()
	}
}

func requestAttrs(c *gin.Context, start time.Time) []any {
	return []any{
		"status", c.Writer.Status(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"query", c.Request.URL.RawQuery,
		"client_ip", c.ClientIP(),
		"user_id", c.GetString(ctxUserID),
		"role", c.GetString(ctxRole),
		"request_id", requestID(c),
		"latency", time.Since(start).String(),
	}
}

func requestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = c.GetHeader("X-Request-Id")
	}
	return id
}
