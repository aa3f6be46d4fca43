package models

import (
	"strings"
	"time"
)

// ClientDevicePrefix marks certificates generated server-side for operators
const ClientDevicePrefix = "client:"

// Certificate represents an issued certificate record
type Certificate struct {
	ID            int64      `db:"id" json:"id"`
	RequestID     *int64     `db:"request_id" json:"request_id,omitempty"`
	DeviceID      string     `db:"device_id" json:"device_id"`
	CommonName    string     `db:"common_name" json:"common_name"`
	SerialNumber  string     `db:"serial_number" json:"serial_number"`
	CertPEM       string     `db:"cert_pem" json:"cert_pem"`
	PrivateKeyPEM *string    `db:"private_key_pem" json:"-"` // Never expose stored keys
	NotBefore     time.Time  `db:"not_before" json:"not_before"`
	NotAfter      time.Time  `db:"not_after" json:"not_after"`
	IssuedAt      time.Time  `db:"issued_at" json:"issued_at"`
	IssuedBy      string     `db:"issued_by" json:"issued_by"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokeReason  *string    `db:"revoke_reason" json:"revoke_reason,omitempty"`
}

// Revoked reports whether the certificate has been revoked
func (c *Certificate) Revoked() bool {
	return c.RevokedAt != nil
}

// Expired reports whether notAfter has passed at now
func (c *Certificate) Expired(now time.Time) bool {
	return c.NotAfter.Before(now)
}

// Deletable reports whether the record may be removed
func (c *Certificate) Deletable(now time.Time) bool {
	return c.Revoked() || c.Expired(now)
}

// HasPrivateKey reports whether a server-generated key is stored
func (c *Certificate) HasPrivateKey() bool {
	return c.PrivateKeyPEM != nil && *c.PrivateKeyPEM != ""
}

// IsClient reports whether the record is an operator client certificate
func (c *Certificate) IsClient() bool {
	return strings.HasPrefix(c.DeviceID, ClientDevicePrefix)
}

// CertificateView adds read-time derived fields to a certificate
type CertificateView struct {
	*Certificate
	Name            string `json:"name,omitempty"`
	HasPrivateKey   bool   `json:"has_private_key"`
	IsValid         bool   `json:"is_valid"`
	DaysUntilExpiry int    `json:"days_until_expiry"`
}

// NewCertificateView derives validity fields against now
func NewCertificateView(c *Certificate, now time.Time) CertificateView {
	view := CertificateView{
		Certificate:     c,
		HasPrivateKey:   c.HasPrivateKey(),
		IsValid:         !c.Revoked() && c.NotAfter.After(now),
		DaysUntilExpiry: int(c.NotAfter.Sub(now).Hours() / 24),
	}
	if c.IsClient() {
		view.Name = strings.TrimPrefix(c.DeviceID, ClientDevicePrefix)
	}
	return view
}
