package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/service"
)

// CSRHandler serves the device-facing endpoints
type CSRHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewCSRHandler creates a new CSR handler
func NewCSRHandler(svc *service.Service, logger *zap.Logger) *CSRHandler {
	return &CSRHandler{
		svc:    svc,
		logger: logger,
	}
}

// SubmitRequest represents a device CSR submission
type SubmitRequest struct {
	DeviceID        string   `json:"device_id" binding:"required"`
	CSRPEM          string   `json:"csr_pem" binding:"required"`
	DeviceToken     string   `json:"device_token"`
	DeviceIP        string   `json:"device_ip"`
	ValidityDays    int      `json:"validity_days"`
	CertType        string   `json:"cert_type"`
	SuggestedSANIPs []string `json:"suggested_san_ips"`
	SuggestedSANDNS []string `json:"suggested_san_dns"`
}

// Submit accepts a CSR from a device
// POST /api/csr/submit
func (h *CSRHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	res, err := h.svc.SubmitCSR(c.Request.Context(), service.SubmitInput{
		DeviceID:     req.DeviceID,
		CSRPEM:       req.CSRPEM,
		DeviceToken:  req.DeviceToken,
		DeviceIP:     req.DeviceIP,
		CallerIP:     c.ClientIP(),
		ValidityDays: req.ValidityDays,
		CertType:     req.CertType,
		SuggestedIPs: req.SuggestedSANIPs,
		SuggestedDNS: req.SuggestedSANDNS,
	})
	if err != nil {
		if res != nil {
			// stored but not signed; the device can poll res.RequestID
			RespondServiceErrorWithDetails(c, h.logger, err, res)
			return
		}
		RespondServiceError(c, h.logger, err)
		return
	}

	RespondSuccess(c, res)
}

// Status reports the state of a request and, once approved, its certificate
// GET /api/csr/status/:id
func (h *CSRHandler) Status(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	view, err := h.svc.GetRequestStatus(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	RespondSuccess(c, view)
}
