package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/pkiserver/internal/apperr"
)

// SessionVerifier checks admin bearer tokens
type SessionVerifier interface {
	VerifySession(token string) (time.Time, error)
}

// AdminSession middleware requires a live admin session. On success the
// operator name is stored under operatorKey.
func AdminSession(verifier SessionVerifier, operatorKey, operator string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required",
			})
			c.Abort()
			return
		}

		if _, err := verifier.VerifySession(strings.TrimSpace(token)); err != nil {
			code := "unauthorized"
			if errors.Is(err, apperr.ErrExpired) {
				code = "session_expired"
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": apperr.Message(err),
			})
			c.Abort()
			return
		}

		c.Set(operatorKey, operator)
		c.Next()
	}
}
