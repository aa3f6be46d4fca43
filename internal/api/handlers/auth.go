package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/service"
)

// AuthHandler handles admin login and logout
type AuthHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *service.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger,
	}
}

// LoginRequest represents an admin login
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
	TOTP     string `json:"totp"`
}

// Login starts an admin session
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	sess, err := h.svc.Login(c.Request.Context(), req.Password, req.TOTP, c.ClientIP())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	RespondSuccess(c, sess)
}

// Logout ends the bearer's session. Unknown tokens are ignored.
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := BearerToken(c); token != "" {
		if err := h.svc.Logout(c.Request.Context(), token, c.ClientIP()); err != nil {
			h.logger.Debug("logout with unknown token", zap.Error(err))
		}
	}

	RespondSuccess(c, gin.H{"message": "Logged out"})
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
