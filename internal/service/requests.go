package service

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/ca"
	"github.com/adamscao/pkiserver/internal/db/repository"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/models"
)

// SubmitInput is a device CSR submission
type SubmitInput struct {
	DeviceID     string
	CSRPEM       string
	DeviceToken  string
	DeviceIP     string // defaults to CallerIP
	CallerIP     string
	ValidityDays int
	CertType     string
	SuggestedIPs []string
	SuggestedDNS []string
}

// SubmitResult is returned to the submitting device
type SubmitResult struct {
	RequestID   int64                `json:"request_id"`
	Status      models.RequestStatus `json:"status"`
	Message     string               `json:"message"`
	Certificate string               `json:"certificate,omitempty"`
	CAChain     string               `json:"ca_chain,omitempty"`
	// AutoSignError is set when automatic approval was attempted and failed.
	// The request stays pending.
	AutoSignError string `json:"auto_sign_error,omitempty"`
}

// ApproveOverrides adjust how an approved request is signed. Zero values
// fall back to what the request carries.
type ApproveOverrides struct {
	ValidityDays  int
	CertType      string
	DeviceType    string
	AdditionalIPs []string
	AdditionalDNS []string
}

// ApproveResult describes the certificate issued by Approve
type ApproveResult struct {
	RequestID     int64  `json:"request_id"`
	CertificateID int64  `json:"certificate_id"`
	SerialNumber  string `json:"serial_number"`
	Certificate   string `json:"certificate"`
	CAChain       string `json:"ca_chain"`
}

// RequestDetail is a stored request plus what its CSR declares
type RequestDetail struct {
	*models.CSRRequest
	CSR *ca.CSRInfo `json:"csr_info,omitempty"`
}

// SubmitCSR records a device CSR and, when policy allows, approves it in
// the same call. If automatic approval fails the request stays pending and
// both the pending result and the signing error are returned.
func (s *Service) SubmitCSR(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	const op = "service.SubmitCSR"

	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return nil, apperr.Validation(op, "device_id is required")
	}

	info, err := ca.ParseCSR(in.CSRPEM)
	if err != nil {
		return nil, err
	}

	certType, err := models.ParseCertType(in.CertType)
	if err != nil {
		return nil, err
	}

	// SAN set: CSR SANs plus validated suggestions
	sanIPs := models.NewStringSet(info.SANIPs...)
	for _, v := range in.SuggestedIPs {
		ip := net.ParseIP(strings.TrimSpace(v))
		if ip == nil {
			return nil, apperr.Validation(op, "invalid suggested IP %q", v)
		}
		sanIPs = sanIPs.Add(ip.String())
	}
	var dnsCheck ca.SANList
	for _, name := range in.SuggestedDNS {
		if dnsCheck, err = dnsCheck.AddDNS(name); err != nil {
			return nil, err
		}
	}
	sanDNS := models.NewStringSet(info.SANDNS...).Add(dnsCheck.DNSNames()...)

	decision, err := s.validator.Evaluate(ctx, in.DeviceToken, s.policy.AutoSignEnabled, s.policy.RequireDeviceToken)
	if err != nil {
		if apperr.KindOf(err) == apperr.ErrAuthorization {
			s.logger.Warn("CSR submission refused",
				logging.DeviceID(deviceID), logging.RemoteIP(in.CallerIP), zap.Error(err))
		}
		return nil, err
	}

	validity := s.validator.AdjustValidity(in.ValidityDays)
	if decision.ValidityDays > 0 {
		validity = decision.ValidityDays
	}

	deviceIP := strings.TrimSpace(in.DeviceIP)
	if deviceIP == "" {
		deviceIP = in.CallerIP
	}

	req := &models.CSRRequest{
		DeviceID:     deviceID,
		DeviceIP:     deviceIP,
		DeviceToken:  models.Ptr(in.DeviceToken),
		CommonName:   info.CommonName,
		SANIPs:       sanIPs,
		SANDNS:       sanDNS,
		CSRPEM:       in.CSRPEM,
		Status:       models.StatusPending,
		ValidityDays: validity,
		CertType:     certType,
		CreatedAt:    s.now().UTC(),
	}

	err = s.store.WithinTx(ctx, func(tx *repository.Store) error {
		if err := tx.Requests.Create(ctx, req); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionCSRSubmit, models.TargetCSRRequest, strconv.FormatInt(req.ID, 10),
			deviceID, fmt.Sprintf("CSR submitted: CN=%s", info.CommonName), in.CallerIP)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("CSR submitted",
		logging.RequestID(req.ID),
		logging.DeviceID(deviceID),
		logging.CommonName(info.CommonName),
		logging.RemoteIP(in.CallerIP),
		zap.Bool("auto_approve", decision.AutoApprove),
		zap.String("policy", decision.Reason),
	)

	result := &SubmitResult{
		RequestID: req.ID,
		Status:    models.StatusPending,
		Message:   "CSR submitted, waiting for approval",
	}
	if !decision.AutoApprove {
		return result, nil
	}

	approved, err := s.ApproveRequest(ctx, req.ID, ApproveOverrides{}, Actor{Operator: OperatorAuto, IP: in.CallerIP})
	if err != nil {
		s.logger.Error("automatic signing failed", logging.RequestID(req.ID), zap.Error(err))
		result.Message = "CSR submitted; automatic signing failed, waiting for approval"
		result.AutoSignError = apperr.Message(err)
		return result, err
	}

	result.Status = models.StatusApproved
	result.Message = "Certificate issued automatically"
	result.Certificate = approved.Certificate
	result.CAChain = approved.CAChain
	return result, nil
}

// ApproveRequest signs a pending request. Concurrent calls for the same
// request issue at most one certificate; losers get a conflict. A signing
// failure leaves the request pending.
func (s *Service) ApproveRequest(ctx context.Context, id int64, o ApproveOverrides, actor Actor) (*ApproveResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.store.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := models.Transition(req.Status, models.StatusApproved); err != nil {
		return nil, err
	}

	validity := req.ValidityDays
	if o.ValidityDays > 0 {
		validity = s.validator.AdjustValidity(o.ValidityDays)
	}

	certType := req.CertType
	if o.CertType != "" {
		if certType, err = models.ParseCertType(o.CertType); err != nil {
			return nil, err
		}
	}

	deviceType := strings.TrimSpace(o.DeviceType)
	if deviceType == "" {
		deviceType = s.policy.DefaultDeviceType
	}

	signed, err := s.signer.SignCSR(ca.SignRequest{
		CSRPEM:       req.CSRPEM,
		ValidityDays: validity,
		CertType:     certType,
		DeviceType:   deviceType,
		ExtraIPs:     approvalIPs(req, o.AdditionalIPs),
		ExtraDNS:     req.SANDNS.Add(o.AdditionalDNS...),
	})
	if err != nil {
		s.logger.Warn("signing failed; request stays pending",
			logging.RequestID(id), logging.Operator(actor.operator(OperatorAdmin)), zap.Error(err))
		return nil, err
	}

	operator := actor.operator(OperatorAdmin)
	now := s.now().UTC()
	cert := &models.Certificate{
		RequestID:    &req.ID,
		DeviceID:     req.DeviceID,
		CommonName:   req.CommonName,
		SerialNumber: signed.SerialNumber,
		CertPEM:      signed.CertPEM,
		NotBefore:    signed.NotBefore,
		NotAfter:     signed.NotAfter,
		IssuedAt:     now,
		IssuedBy:     operator,
	}

	err = s.store.WithinTx(ctx, func(tx *repository.Store) error {
		if err := tx.Requests.MarkApproved(ctx, id, operator, now); err != nil {
			return err
		}
		if err := tx.Certs.Create(ctx, cert); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionCertIssued, models.TargetCertificate, cert.SerialNumber,
			operator, fmt.Sprintf("Approved: CN=%s, validity=%dd", req.CommonName, validity), actor.IP)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("certificate issued",
		logging.RequestID(id),
		logging.CertID(cert.ID),
		logging.Serial(cert.SerialNumber),
		logging.CommonName(req.CommonName),
		logging.Operator(operator),
		zap.Time("not_after", cert.NotAfter),
	)

	return &ApproveResult{
		RequestID:     id,
		CertificateID: cert.ID,
		SerialNumber:  cert.SerialNumber,
		Certificate:   cert.CertPEM,
		CAChain:       s.signer.Chain(),
	}, nil
}

// approvalIPs picks the IP SANs for signing: explicit overrides, else the
// request's SANs, else the device IP when it is an address.
func approvalIPs(req *models.CSRRequest, overrides []string) []string {
	if len(overrides) > 0 {
		return overrides
	}
	if len(req.SANIPs) > 0 {
		return req.SANIPs
	}
	if net.ParseIP(req.DeviceIP) != nil {
		return []string{req.DeviceIP}
	}
	return nil
}

// RejectRequest rejects a pending request with reason
func (s *Service) RejectRequest(ctx context.Context, id int64, reason string, actor Actor) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Validation("service.RejectRequest", "reason is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	operator := actor.operator(OperatorAdmin)
	err := s.store.WithinTx(ctx, func(tx *repository.Store) error {
		if err := tx.Requests.MarkRejected(ctx, id, operator, reason, s.now().UTC()); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionCSRRejected, models.TargetCSRRequest, strconv.FormatInt(id, 10),
			operator, "Rejected: "+reason, actor.IP)
	})
	if err != nil {
		return err
	}

	s.logger.Info("request rejected", logging.RequestID(id), logging.Operator(operator))
	return nil
}

// GetRequestStatus is what a polling device sees
func (s *Service) GetRequestStatus(ctx context.Context, id int64) (*models.RequestStatusView, error) {
	req, err := s.store.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &models.RequestStatusView{RequestID: id, Status: req.Status}
	switch req.Status {
	case models.StatusApproved:
		cert, err := s.store.Certs.GetByRequestID(ctx, id)
		if err != nil && apperr.KindOf(err) != apperr.ErrNotFound {
			return nil, err
		}
		// the certificate row may have been deleted after revocation
		if cert != nil {
			view.Certificate = cert.CertPEM
			view.CAChain = s.signer.Chain()
		}
	case models.StatusRejected:
		view.RejectReason = models.Deref(req.RejectReason)
	}

	return view, nil
}

// GetRequest returns a request with its parsed CSR
func (s *Service) GetRequest(ctx context.Context, id int64) (*RequestDetail, error) {
	req, err := s.store.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &RequestDetail{CSRRequest: req}
	if info, err := ca.ParseCSR(req.CSRPEM); err == nil {
		detail.CSR = info
	}
	return detail, nil
}

// ListPendingRequests lists pending requests, most recent first
func (s *Service) ListPendingRequests(ctx context.Context) ([]*models.CSRRequest, error) {
	return s.store.Requests.ListPending(ctx)
}

// ListRequests lists requests with an optional status filter
func (s *Service) ListRequests(ctx context.Context, f repository.RequestFilter) ([]*models.CSRRequest, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("service.ListRequests", "unknown status %q", f.Status)
	}
	return s.store.Requests.List(ctx, f)
}
