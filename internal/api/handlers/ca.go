package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/pkiserver/internal/service"
)

// CAHandler handles CA-related requests
type CAHandler struct {
	svc *service.Service
}

// NewCAHandler creates a new CA handler
func NewCAHandler(svc *service.Service) *CAHandler {
	return &CAHandler{
		svc: svc,
	}
}

// GetChain returns the CA chain bundle
// GET /api/ca/chain
func (h *CAHandler) GetChain(c *gin.Context) {
	c.Data(http.StatusOK, "application/x-pem-file", []byte(h.svc.GetCAChain()))
}

// GetInfo returns a summary of the issuing CA
// GET /api/ca/info
func (h *CAHandler) GetInfo(c *gin.Context) {
	RespondSuccess(c, h.svc.GetCAInfo())
}
