package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// CSRRequest represents a certificate signing request submitted by a device
type CSRRequest struct {
	ID           int64         `db:"id" json:"id"`
	DeviceID     string        `db:"device_id" json:"device_id"`
	DeviceIP     string        `db:"device_ip" json:"device_ip,omitempty"`
	DeviceToken  *string       `db:"device_token" json:"-"` // Never expose device tokens
	CommonName   string        `db:"common_name" json:"common_name"`
	SANIPs       StringSet     `db:"san_ips" json:"san_ips"`
	SANDNS       StringSet     `db:"san_dns" json:"san_dns"`
	CSRPEM       string        `db:"csr_pem" json:"csr_pem"`
	Status       RequestStatus `db:"status" json:"status"`
	ValidityDays int           `db:"validity_days" json:"validity_days"`
	CertType     CertType      `db:"cert_type" json:"cert_type"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy  *string       `db:"processed_by" json:"processed_by,omitempty"`
	RejectReason *string       `db:"reject_reason" json:"reject_reason,omitempty"`
}

// StringSet is an ordered, de-duplicated list persisted as comma-joined text
type StringSet []string

// NewStringSet builds a set from values, keeping first occurrences in order
func NewStringSet(values ...string) StringSet {
	var set StringSet
	return set.Add(values...)
}

// Add appends values not already present and returns the extended set
func (s StringSet) Add(values ...string) StringSet {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || s.Contains(v) {
			continue
		}
		s = append(s, v)
	}
	return s
}

// Contains reports whether v is in the set
func (s StringSet) Contains(v string) bool {
	for _, existing := range s {
		if existing == v {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer
func (s StringSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return strings.Join(s, ","), nil
}

// Scan implements sql.Scanner
func (s *StringSet) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSet", src)
	}
	*s = NewStringSet(strings.Split(raw, ",")...)
	return nil
}

// RequestStatusView is what a polling device sees
type RequestStatusView struct {
	RequestID    int64         `json:"request_id"`
	Status       RequestStatus `json:"status"`
	Certificate  string        `json:"certificate,omitempty"`
	CAChain      string        `json:"ca_chain,omitempty"`
	RejectReason string        `json:"reject_reason,omitempty"`
}
