// Package service is the lifecycle orchestrator: it composes the CA engine,
// whitelist policy, store, audit log and session authenticator into the
// operations exposed over HTTP and the admin CLI.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/auth"
	"github.com/adamscao/pkiserver/internal/ca"
	"github.com/adamscao/pkiserver/internal/config"
	"github.com/adamscao/pkiserver/internal/db/repository"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/models"
	"github.com/adamscao/pkiserver/internal/policy"
)

// Operator names recorded when no admin identity applies
const (
	OperatorAdmin = "admin"
	OperatorAuto  = "auto"
)

// Signer is the CA engine as seen by the service
type Signer interface {
	SignCSR(req ca.SignRequest) (*ca.SignedCertificate, error)
	GenerateClientCertificate(req ca.ClientCertRequest) (*ca.ClientBundle, error)
	EncodePKCS12(certPEM, keyPEM string) (archive, password string, err error)
	Info() ca.Info
	Chain() string
}

// Actor identifies who triggered an operation, for the audit trail
type Actor struct {
	Operator string
	IP       string
}

func (a Actor) operator(fallback string) string {
	if a.Operator == "" {
		return fallback
	}
	return a.Operator
}

// Service implements every PKI operation
type Service struct {
	signer    Signer
	store     *repository.Store
	validator *policy.Validator
	authn     *auth.Authenticator
	policy    config.PolicyConfig
	logger    *zap.Logger
	locks     *keyedMutex
	now       func() time.Time
}

// New creates the service. All dependencies are owned by the caller.
func New(cfg config.PolicyConfig, signer Signer, store *repository.Store, authn *auth.Authenticator, logger *zap.Logger) *Service {
	return &Service{
		signer:    signer,
		store:     store,
		validator: policy.NewValidator(cfg, store.Whitelist),
		authn:     authn,
		policy:    cfg,
		logger:    logger.With(logging.Component("service")),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// SigningConfig is the active signing policy
type SigningConfig struct {
	DefaultValidityDays int    `json:"default_validity_days"`
	MaxValidityDays     int    `json:"max_validity_days"`
	AutoSignEnabled     bool   `json:"auto_sign_enabled"`
	RequireDeviceToken  bool   `json:"require_device_token"`
	DefaultDeviceType   string `json:"default_device_type"`
}

// SigningConfig returns the active signing policy
func (s *Service) SigningConfig() SigningConfig {
	return SigningConfig{
		DefaultValidityDays: s.policy.DefaultValidityDays,
		MaxValidityDays:     s.policy.MaxValidityDays,
		AutoSignEnabled:     s.policy.AutoSignEnabled,
		RequireDeviceToken:  s.policy.RequireDeviceToken,
		DefaultDeviceType:   s.policy.DefaultDeviceType,
	}
}

// GetCAInfo returns a summary of the issuing CA
func (s *Service) GetCAInfo() ca.Info {
	return s.signer.Info()
}

// GetCAChain returns the chain bundle handed to devices
func (s *Service) GetCAChain() string {
	return s.signer.Chain()
}

// Dashboard holds counts derived at read time
type Dashboard struct {
	PendingRequests     int `json:"pending_requests"`
	TotalCertificates   int `json:"total_certificates"`
	ValidCertificates   int `json:"valid_certificates"`
	ExpiringSoon        int `json:"expiring_soon"`
	ExpiredCertificates int `json:"expired_certificates"`
	RevokedCertificates int `json:"revoked_certificates"`
	WhitelistDevices    int `json:"whitelist_devices"`
	CADaysUntilExpiry   int `json:"ca_days_until_expiry"`
}

// Dashboard summarizes requests, certificates and the CA
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	counts, err := s.store.Requests.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	window := time.Duration(s.policy.ExpiringWindowDays) * 24 * time.Hour
	stats, err := s.store.Certs.Stats(ctx, s.now(), window)
	if err != nil {
		return nil, err
	}
	devices, err := s.store.Whitelist.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		PendingRequests:     counts[models.StatusPending],
		TotalCertificates:   stats.Total,
		ValidCertificates:   stats.Valid,
		ExpiringSoon:        stats.ExpiringSoon,
		ExpiredCertificates: stats.Expired,
		RevokedCertificates: stats.Revoked,
		WhitelistDevices:    devices,
		CADaysUntilExpiry:   s.signer.Info().DaysUntilExpiry,
	}, nil
}

// GetAuditLogs lists audit entries, most recent first
func (s *Service) GetAuditLogs(ctx context.Context, f repository.AuditFilter) ([]*models.AuditLog, error) {
	return s.store.Audit.List(ctx, f)
}

// record appends an audit entry through repo, which may be bound to a
// transaction.
func record(ctx context.Context, repo *repository.AuditRepository, action, targetType, targetID, operator, details, ip string) error {
	return repo.Append(ctx, &models.AuditLog{
		Action:     action,
		TargetType: models.Ptr(targetType),
		TargetID:   models.Ptr(targetID),
		Operator:   models.Ptr(operator),
		Details:    models.Ptr(details),
		IPAddress:  models.Ptr(ip),
	})
}
