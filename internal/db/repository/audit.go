package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/adamscao/pkiserver/internal/models"
)

// AuditRepository handles audit log data access. Entries are never updated
// or deleted.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilter narrows List
type AuditFilter struct {
	Action   string
	TargetID string
	Limit    int
	Offset   int
}

// Append records an audit entry
func (r *AuditRepository) Append(ctx context.Context, log *models.AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (action, target_type, target_id, operator, details, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query),
		log.Action,
		log.TargetType,
		log.TargetID,
		log.Operator,
		log.Details,
		log.IPAddress,
		log.CreatedAt,
	).Scan(&log.ID)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// List lists audit logs with optional filters, most recent first
func (r *AuditRepository) List(ctx context.Context, f AuditFilter) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, target_type, target_id, operator, details, ip_address, created_at
		FROM audit_logs
		WHERE 1=1
	`
	args := []any{}

	if f.Action != "" {
		query += " AND action = ?"
		args = append(args, f.Action)
	}

	if f.TargetID != "" {
		query += " AND target_id = ?"
		args = append(args, f.TargetID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	var logs []*models.AuditLog
	if err := sqlxSelect(ctx, r.db, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	return logs, nil
}
