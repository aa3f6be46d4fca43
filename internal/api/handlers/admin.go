package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/db/repository"
	"github.com/adamscao/pkiserver/internal/models"
	"github.com/adamscao/pkiserver/internal/service"
)

// OperatorKey is the gin context key holding the authenticated operator
const OperatorKey = "operator"

// AdminHandler handles administrative operations
type AdminHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(svc *service.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		logger: logger,
	}
}

func actor(c *gin.Context) service.Actor {
	return service.Actor{
		Operator: c.GetString(OperatorKey),
		IP:       c.ClientIP(),
	}
}

// Dashboard returns summary counts
// GET /api/dashboard
func (h *AdminHandler) Dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, d)
}

// GetConfig returns the active signing policy
// GET /api/config
func (h *AdminHandler) GetConfig(c *gin.Context) {
	RespondSuccess(c, h.svc.SigningConfig())
}

// ListRequests lists CSR requests. Without ?status only pending ones are
// returned.
// GET /api/requests
func (h *AdminHandler) ListRequests(c *gin.Context) {
	var (
		reqs []*models.CSRRequest
		err  error
	)
	switch status := c.Query("status"); status {
	case "":
		reqs, err = h.svc.ListPendingRequests(c.Request.Context())
	case "all":
		reqs, err = h.svc.ListRequests(c.Request.Context(), repository.RequestFilter{
			Limit:  queryInt(c, "limit", 0),
			Offset: queryInt(c, "offset", 0),
		})
	default:
		reqs, err = h.svc.ListRequests(c.Request.Context(), repository.RequestFilter{
			Status: models.RequestStatus(status),
			Limit:  queryInt(c, "limit", 0),
			Offset: queryInt(c, "offset", 0),
		})
	}
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	RespondSuccess(c, gin.H{"requests": reqs})
}

// GetRequest returns one request with its parsed CSR
// GET /api/requests/:id
func (h *AdminHandler) GetRequest(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	detail, err := h.svc.GetRequest(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, detail)
}

// ApproveRequest represents approval overrides
type ApproveRequest struct {
	ValidityDays  int      `json:"validity_days"`
	CertType      string   `json:"cert_type"`
	DeviceType    string   `json:"device_type"`
	AdditionalIPs []string `json:"additional_ips"`
	AdditionalDNS []string `json:"additional_dns"`
}

// Approve signs a pending request
// POST /api/requests/:id/approve
func (h *AdminHandler) Approve(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req ApproveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	}

	res, err := h.svc.ApproveRequest(c.Request.Context(), id, service.ApproveOverrides{
		ValidityDays:  req.ValidityDays,
		CertType:      req.CertType,
		DeviceType:    req.DeviceType,
		AdditionalIPs: req.AdditionalIPs,
		AdditionalDNS: req.AdditionalDNS,
	}, actor(c))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, res)
}

// ReasonRequest carries a reject or revoke reason
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Reject rejects a pending request
// POST /api/requests/:id/reject
func (h *AdminHandler) Reject(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Reason is required")
		return
	}

	if err := h.svc.RejectRequest(c.Request.Context(), id, req.Reason, actor(c)); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"message": "Request rejected"})
}

// ListCertificates lists issued certificates. ?kind=device|client narrows
// the list.
// GET /api/certificates
func (h *AdminHandler) ListCertificates(c *gin.Context) {
	f := repository.CertFilter{
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}
	switch c.Query("kind") {
	case "", "all":
	case "device":
		f.Kind = repository.CertKindDevice
	case "client":
		f.Kind = repository.CertKindClient
	default:
		RespondError(c, http.StatusBadRequest, "invalid_request", "kind must be device, client or all")
		return
	}

	certs, err := h.svc.ListCertificates(c.Request.Context(), f)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"certificates": certs})
}

// GetCertificate returns one certificate
// GET /api/certificates/:id
func (h *AdminHandler) GetCertificate(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	cert, err := h.svc.GetCertificate(c.Request.Context(), id)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, cert)
}

// Download exports a certificate as pem, der or pkcs12
// GET /api/certificates/:id/download?format=
func (h *AdminHandler) Download(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	export, err := h.svc.ExportCertificate(c.Request.Context(), id, c.DefaultQuery("format", service.FormatPEM))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, export)
}

// Revoke revokes a certificate
// POST /api/certificates/:id/revoke
func (h *AdminHandler) Revoke(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	}

	if err := h.svc.RevokeCertificate(c.Request.Context(), id, req.Reason, actor(c)); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"message": "Certificate revoked"})
}

// DeleteCertificate removes a revoked or expired certificate
// DELETE /api/certificates/:id
func (h *AdminHandler) DeleteCertificate(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteCertificate(c.Request.Context(), id, actor(c)); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"message": "Certificate deleted"})
}

// ListWhitelist lists whitelisted device tokens
// GET /api/whitelist
func (h *AdminHandler) ListWhitelist(c *gin.Context) {
	entries, err := h.svc.ListWhitelist(c.Request.Context())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"devices": entries})
}

// WhitelistRequest represents a whitelist addition
type WhitelistRequest struct {
	DeviceToken  string `json:"device_token"`
	DeviceName   string `json:"device_name"`
	Description  string `json:"description"`
	AutoApprove  bool   `json:"auto_approve"`
	ValidityDays int    `json:"validity_days"`
}

// AddWhitelist registers a device token
// POST /api/whitelist
func (h *AdminHandler) AddWhitelist(c *gin.Context) {
	var req WhitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	entry, err := h.svc.AddWhitelistEntry(c.Request.Context(), service.WhitelistInput{
		DeviceToken:  req.DeviceToken,
		DeviceName:   req.DeviceName,
		Description:  req.Description,
		AutoApprove:  req.AutoApprove,
		ValidityDays: req.ValidityDays,
	}, actor(c))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RemoveWhitelist deletes a whitelist entry
// DELETE /api/whitelist/:id
func (h *AdminHandler) RemoveWhitelist(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	if err := h.svc.RemoveWhitelistEntry(c.Request.Context(), id, actor(c)); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"message": "Device removed from whitelist"})
}

// ListClientCerts lists operator client certificates
// GET /api/client-certs
func (h *AdminHandler) ListClientCerts(c *gin.Context) {
	certs, err := h.svc.ListClientCertificates(c.Request.Context(), queryInt(c, "limit", 0), queryInt(c, "offset", 0))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"client_certs": certs})
}

// ClientCertRequest represents a client certificate generation request
type ClientCertRequest struct {
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	ValidityDays int    `json:"validity_days"`
	Description  string `json:"description"`
}

// GenerateClientCert creates an operator key pair and certificate
// POST /api/client-certs/generate
func (h *AdminHandler) GenerateClientCert(c *gin.Context) {
	var req ClientCertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	res, err := h.svc.GenerateClientCertificate(c.Request.Context(), service.ClientCertInput{
		Name:         req.Name,
		Email:        req.Email,
		Role:         req.Role,
		ValidityDays: req.ValidityDays,
		Description:  req.Description,
	}, actor(c))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, res)
}

// AuditLogs lists audit entries, most recent first
// GET /api/audit-logs
func (h *AdminHandler) AuditLogs(c *gin.Context) {
	logs, err := h.svc.GetAuditLogs(c.Request.Context(), repository.AuditFilter{
		Action:   c.Query("action"),
		TargetID: c.Query("target_id"),
		Limit:    queryInt(c, "limit", 100),
		Offset:   queryInt(c, "offset", 0),
	})
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"logs": logs})
}
