package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adamscao/pkiserver/internal/apperr"
	"github.com/adamscao/pkiserver/internal/models"
)

const certColumns = `
	id, request_id, device_id, common_name, serial_number, cert_pem,
	private_key_pem, not_before, not_after, issued_at, issued_by,
	revoked_at, revoke_reason`

// CertRepository handles issued certificate data access
type CertRepository struct {
	db DBTX
}

// NewCertRepository creates a new certificate repository
func NewCertRepository(db DBTX) *CertRepository {
	return &CertRepository{db: db}
}

// CertKind selects device or client certificates in List
type CertKind int

const (
	CertKindAll CertKind = iota
	CertKindDevice
	CertKindClient
)

// CertFilter narrows List
type CertFilter struct {
	Kind   CertKind
	Limit  int
	Offset int
}

// CertStats are certificate counts derived at read time
type CertStats struct {
	Total        int `db:"total" json:"total"`
	Valid        int `db:"valid" json:"valid"`
	Expired      int `db:"expired" json:"expired"`
	Revoked      int `db:"revoked" json:"revoked"`
	ExpiringSoon int `db:"expiring_soon" json:"expiring_soon"`
}

// Create inserts a certificate record
func (r *CertRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.IssuedAt.IsZero() {
		cert.IssuedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO certificates (
			request_id, device_id, common_name, serial_number, cert_pem,
			private_key_pem, not_before, not_after, issued_at, issued_by
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query),
		cert.RequestID,
		cert.DeviceID,
		cert.CommonName,
		cert.SerialNumber,
		cert.CertPEM,
		cert.PrivateKeyPEM,
		cert.NotBefore.UTC(),
		cert.NotAfter.UTC(),
		cert.IssuedAt.UTC(),
		cert.IssuedBy,
	).Scan(&cert.ID)
	if isUniqueViolation(err) {
		return apperr.Conflict("repository.CreateCertificate", "certificate already recorded (serial %s)", cert.SerialNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to create certificate record: %w", err)
	}

	return nil
}

// GetByID retrieves a certificate by ID
func (r *CertRepository) GetByID(ctx context.Context, id int64) (*models.Certificate, error) {
	return r.getOne(ctx, "id = ?", id, fmt.Sprintf("certificate %d not found", id))
}

// GetByRequestID retrieves the certificate issued for a request
func (r *CertRepository) GetByRequestID(ctx context.Context, requestID int64) (*models.Certificate, error) {
	return r.getOne(ctx, "request_id = ?", requestID, fmt.Sprintf("no certificate for request %d", requestID))
}

// GetBySerial retrieves a certificate by its hex serial number
func (r *CertRepository) GetBySerial(ctx context.Context, serial string) (*models.Certificate, error) {
	return r.getOne(ctx, "serial_number = ?", serial, fmt.Sprintf("certificate with serial %s not found", serial))
}

func (r *CertRepository) getOne(ctx context.Context, where string, arg any, notFound string) (*models.Certificate, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE ` + where

	cert := &models.Certificate{}
	err := sqlxGet(ctx, r.db, cert, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("repository.GetCertificate", "%s", notFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}

	return cert, nil
}

// List lists certificates, most recently issued first
func (r *CertRepository) List(ctx context.Context, f CertFilter) ([]*models.Certificate, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE 1=1`
	args := []any{}

	switch f.Kind {
	case CertKindDevice:
		query += " AND device_id NOT LIKE ?"
		args = append(args, models.ClientDevicePrefix+"%")
	case CertKindClient:
		query += " AND device_id LIKE ?"
		args = append(args, models.ClientDevicePrefix+"%")
	}

	query += " ORDER BY issued_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	var certs []*models.Certificate
	if err := sqlxSelect(ctx, r.db, &certs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	return certs, nil
}

// Revoke marks a certificate revoked. A certificate is revoked at most once.
func (r *CertRepository) Revoke(ctx context.Context, id int64, reason string, at time.Time) error {
	query := `
		UPDATE certificates
		SET revoked_at = ?, revoke_reason = ?
		WHERE id = ? AND revoked_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), at.UTC(), models.Ptr(reason), id)
	if err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return apperr.Conflict("repository.RevokeCertificate", "certificate %d is already revoked", id)
}

// Delete removes a certificate record that is revoked or expired at now
func (r *CertRepository) Delete(ctx context.Context, id int64, now time.Time) error {
	query := `
		DELETE FROM certificates
		WHERE id = ? AND (revoked_at IS NOT NULL OR not_after < ?)
	`

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), id, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete certificate: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return apperr.Conflict("repository.DeleteCertificate", "certificate %d is still valid; revoke it first", id)
}

// Stats counts certificates by state at now. ExpiringSoon counts valid
// certificates whose notAfter falls within window.
func (r *CertRepository) Stats(ctx context.Context, now time.Time, window time.Duration) (CertStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN revoked_at IS NULL AND not_after >= ? THEN 1 ELSE 0 END), 0) AS valid,
			COALESCE(SUM(CASE WHEN revoked_at IS NULL AND not_after < ? THEN 1 ELSE 0 END), 0) AS expired,
			COALESCE(SUM(CASE WHEN revoked_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS revoked,
			COALESCE(SUM(CASE WHEN revoked_at IS NULL AND not_after >= ? AND not_after < ? THEN 1 ELSE 0 END), 0) AS expiring_soon
		FROM certificates
	`

	now = now.UTC()
	var stats CertStats
	if err := sqlxGet(ctx, r.db, &stats, query, now, now, now, now.Add(window)); err != nil {
		return CertStats{}, fmt.Errorf("failed to count certificates: %w", err)
	}

	return stats, nil
}
