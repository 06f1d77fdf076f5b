package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mediavault/internal/pkg/response"
)

// APIKeyAuth protects routes with a single shared key, sent either as
// X-API-Key or as "Authorization: Bearer <key>".
func APIKeyAuth(expected string, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "auth"))
	want := []byte(expected)

	return func(c *gin.Context) {
		if len(want) == 0 {
			logAuthFailure(c, log, http.StatusInternalServerError, "key_not_configured")
			response.Abort(c, http.StatusInternalServerError, "INTERNAL_ERROR", "API key is not configured")
			return
		}

		key, reason := presentedKey(c)
		if reason != "" {
			logAuthFailure(c, log, http.StatusUnauthorized, reason)
			response.Abort(c, http.StatusUnauthorized, "AUTH_MISSING", "API key is required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), want) != 1 {
			logAuthFailure(c, log, http.StatusUnauthorized, "invalid_key")
			response.Abort(c, http.StatusUnauthorized, "AUTH_INVALID", "Invalid API key")
			return
		}

		c.Next()
	}
}

func presentedKey(c *gin.Context) (string, string) {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key, ""
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "missing_auth"
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", "invalid_auth_format"
	}
	key := strings.TrimSpace(parts[1])
	if key == "" {
		return "", "empty_key"
	}
	return key, ""
}

func logAuthFailure(c *gin.Context, log *slog.Logger, status int, reason string) {
	log.Warn("authentication failed",
		slog.Int("status", status),
		slog.String("reason", reason),
		slog.String("path", c.Request.URL.Path),
		slog.String("client_ip", c.ClientIP()),
		slog.String("request_id", requestID(c)),
	)
}
