package models

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID         int64     `db:"id" json:"id"`
	Action     string    `db:"action" json:"action"`
	TargetType *string   `db:"target_type" json:"target_type,omitempty"`
	TargetID   *string   `db:"target_id" json:"target_id,omitempty"`
	Operator   *string   `db:"operator" json:"operator,omitempty"`
	Details    *string   `db:"details" json:"details,omitempty"`
	IPAddress  *string   `db:"ip_address" json:"ip_address,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Audit action constants
const (
	ActionLogin            = "LOGIN"
	ActionLogout           = "LOGOUT"
	ActionAuthFailed       = "AUTH_FAILED"
	ActionCSRSubmit        = "CSR_SUBMIT"
	ActionCertIssued       = "CERT_ISSUED"
	ActionCSRRejected      = "CSR_REJECTED"
	ActionCertRevoked      = "CERT_REVOKED"
	ActionCertDeleted      = "CERT_DELETED"
	ActionClientCertIssued = "CLIENT_CERT_ISSUED"
	ActionWhitelistAdd     = "WHITELIST_ADD"
	ActionWhitelistRemove  = "WHITELIST_REMOVE"
)

// Audit target types
const (
	TargetAdmin       = "admin"
	TargetCSRRequest  = "csr_request"
	TargetCertificate = "certificate"
	TargetDevice      = "device"
)

// Ptr returns a pointer to s, or nil when s is empty
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
