package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/ca"
	"github.com/adamscao/pkiserver/internal/db/repository"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/models"
)

// DefaultClientRole is the subject OU of client certificates when no role is given
const DefaultClientRole = "operator"

// Export formats
const (
	FormatPEM    = "pem"
	FormatDER    = "der"
	FormatPKCS12 = "pkcs12"
)

// ClientCertInput describes an operator client certificate to generate
type ClientCertInput struct {
	Name         string
	Email        string
	Role         string
	ValidityDays int
	Description  string
}

// ClientCertResult carries the generated material. The PKCS#12 password is
// returned once and never stored.
type ClientCertResult struct {
	CertificateID  int64  `json:"certificate_id"`
	SerialNumber   string `json:"serial_number"`
	CommonName     string `json:"common_name"`
	Certificate    string `json:"certificate"`
	PrivateKey     string `json:"private_key"`
	CAChain        string `json:"ca_chain"`
	PKCS12         string `json:"pkcs12"`
	PKCS12Password string `json:"pkcs12_password"`
}

// Export is a certificate rendered in a download format
type Export struct {
	Format      string `json:"format"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	// Data is PEM text, or base64 for binary formats
	Data     string `json:"data"`
	Password string `json:"password,omitempty"`
}

// ListCertificates lists certificates with derived validity fields
func (s *Service) ListCertificates(ctx context.Context, f repository.CertFilter) ([]models.CertificateView, error) {
	return s.listCertificates(ctx, f)
}

// ListClientCertificates lists server-generated operator certificates
func (s *Service) ListClientCertificates(ctx context.Context, limit, offset int) ([]models.CertificateView, error) {
	return s.listCertificates(ctx, repository.CertFilter{Kind: repository.CertKindClient, Limit: limit, Offset: offset})
}

func (s *Service) listCertificates(ctx context.Context, f repository.CertFilter) ([]models.CertificateView, error) {
	certs, err := s.store.Certs.List(ctx, f)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]models.CertificateView, 0, len(certs))
	for _, c := range certs {
		views = append(views, models.NewCertificateView(c, now))
	}
	return views, nil
}

// GetCertificate returns one certificate
func (s *Service) GetCertificate(ctx context.Context, id int64) (*models.CertificateView, error) {
	cert, err := s.store.Certs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.NewCertificateView(cert, s.now())
	return &view, nil
}

// RevokeCertificate marks a certificate revoked. Revoking twice is a conflict.
func (s *Service) RevokeCertificate(ctx context.Context, id int64, reason string, actor Actor) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}

	operator := actor.operator(OperatorAdmin)
	var serial string
	err := s.store.WithinTx(ctx, func(tx *repository.Store) error {
		cert, err := tx.Certs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		serial = cert.SerialNumber
		if err := tx.Certs.Revoke(ctx, id, reason, s.now()); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionCertRevoked, models.TargetCertificate, serial,
			operator, fmt.Sprintf("Revoked: CN=%s, reason=%s", cert.CommonName, reason), actor.IP)
	})
	if err != nil {
		return err
	}

	s.logger.Info("certificate revoked", logging.CertID(id), logging.Serial(serial), logging.Operator(operator))
	return nil
}

// DeleteCertificate removes a revoked or expired certificate record
func (s *Service) DeleteCertificate(ctx context.Context, id int64, actor Actor) error {
	operator := actor.operator(OperatorAdmin)
	var serial string
	err := s.store.WithinTx(ctx, func(tx *repository.Store) error {
		cert, err := tx.Certs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		serial = cert.SerialNumber
		if err := tx.Certs.Delete(ctx, id, s.now()); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionCertDeleted, models.TargetCertificate, serial,
			operator, fmt.Sprintf("Deleted: CN=%s", cert.CommonName), actor.IP)
	})
	if err != nil {
		return err
	}

	s.logger.Info("certificate deleted", logging.CertID(id), logging.Serial(serial), logging.Operator(operator))
	return nil
}

// GenerateClientCertificate creates a key pair and client certificate for an
// operator and stores both.
func (s *Service) GenerateClientCertificate(ctx context.Context, in ClientCertInput, actor Actor) (*ClientCertResult, error) {
	const op = "service.GenerateClientCertificate"

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = DefaultClientRole
	}
	email := strings.TrimSpace(in.Email)
	commonName := name
	if email != "" {
		commonName = fmt.Sprintf("%s <%s>", name, email)
	}

	bundle, err := s.signer.GenerateClientCertificate(ca.ClientCertRequest{
		CommonName:   commonName,
		ValidityDays: s.validator.AdjustValidity(in.ValidityDays),
		Email:        email,
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	operator := actor.operator(OperatorAdmin)
	cert := &models.Certificate{
		DeviceID:      models.ClientDevicePrefix + name,
		CommonName:    commonName,
		SerialNumber:  bundle.SerialNumber,
		CertPEM:       bundle.CertPEM,
		PrivateKeyPEM: models.Ptr(bundle.KeyPEM),
		NotBefore:     bundle.NotBefore,
		NotAfter:      bundle.NotAfter,
		IssuedAt:      s.now().UTC(),
		IssuedBy:      operator,
	}

	details := fmt.Sprintf("Client certificate: CN=%s, role=%s", commonName, role)
	if d := strings.TrimSpace(in.Description); d != "" {
		details += ", " + d
	}

	err = s.store.WithinTx(ctx, func(tx *repository.Store) error {
		if err := tx.Certs.Create(ctx, cert); err != nil {
			return err
		}
		return record(ctx, tx.Audit, models.ActionClientCertIssued, models.TargetCertificate, cert.SerialNumber,
			operator, details, actor.IP)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("client certificate issued",
		logging.CertID(cert.ID),
		logging.Serial(cert.SerialNumber),
		logging.CommonName(commonName),
		logging.Operator(operator),
	)

	return &ClientCertResult{
		CertificateID:  cert.ID,
		SerialNumber:   cert.SerialNumber,
		CommonName:     commonName,
		Certificate:    bundle.CertPEM,
		PrivateKey:     bundle.KeyPEM,
		CAChain:        s.signer.Chain(),
		PKCS12:         bundle.PKCS12Base64,
		PKCS12Password: bundle.PKCS12Password,
	}, nil
}

// ExportCertificate renders a certificate as pem, der or pkcs12. PKCS#12 is
// only possible when the private key is stored.
func (s *Service) ExportCertificate(ctx context.Context, id int64, format string) (*Export, error) {
	const op = "service.ExportCertificate"

	cert, err := s.store.Certs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	base := exportBasename(cert)

	switch strings.ToLower(format) {
	case "", FormatPEM:
		return s.exportPEM(cert, base), nil

	case FormatDER:
		der, err := ca.CertificateDER(cert.CertPEM)
		if err != nil {
			s.logger.Warn("stored certificate is not valid PEM; exporting as PEM",
				logging.CertID(id), zap.Error(err))
			return s.exportPEM(cert, base), nil
		}
		return &Export{
			Format:      FormatDER,
			Filename:    base + ".der",
			ContentType: "application/x-x509-ca-cert",
			Data:        base64.StdEncoding.EncodeToString(der),
		}, nil

	case FormatPKCS12:
		if !cert.HasPrivateKey() {
			return nil, apperr.Validation(op, "certificate %d has no stored private key; PKCS#12 export is unavailable", id)
		}
		archive, password, err := s.signer.EncodePKCS12(cert.CertPEM, *cert.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		return &Export{
			Format:      FormatPKCS12,
			Filename:    base + ".p12",
			ContentType: "application/x-pkcs12",
			Data:        archive,
			Password:    password,
		}, nil

	default:
		return nil, apperr.Validation(op, "unsupported export format %q (want pem, der or pkcs12)", format)
	}
}

func (s *Service) exportPEM(cert *models.Certificate, base string) *Export {
	data := cert.CertPEM
	if !strings.HasSuffix(data, "\n") {
		data += "\n"
	}
	return &Export{
		Format:      FormatPEM,
		Filename:    base + ".crt",
		ContentType: "application/x-pem-file",
		Data:        data + s.signer.Chain(),
	}
}

// exportBasename derives a filesystem-safe name from the common name
func exportBasename(cert *models.Certificate) string {
	var b strings.Builder
	for _, r := range cert.CommonName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "certificate-" + strconv.FormatInt(cert.ID, 10)
	}
	return b.String()
}
