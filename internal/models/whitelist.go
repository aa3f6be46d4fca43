package models

import "time"

// WhitelistEntry represents a pre-registered device token
type WhitelistEntry struct {
	ID           int64      `db:"id" json:"id"`
	DeviceToken  string     `db:"device_token" json:"device_token"`
	DeviceName   *string    `db:"device_name" json:"device_name,omitempty"`
	Description  *string    `db:"description" json:"description,omitempty"`
	AutoApprove  bool       `db:"auto_approve" json:"auto_approve"`
	ValidityDays int        `db:"validity_days" json:"validity_days"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt   *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}
