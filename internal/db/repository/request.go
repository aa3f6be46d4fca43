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

const requestColumns = `
	id, device_id, device_ip, device_token, common_name, san_ips, san_dns,
	csr_pem, status, validity_days, cert_type, created_at,
	processed_at, processed_by, reject_reason`

// RequestRepository handles CSR request data access
type RequestRepository struct {
	db DBTX
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db DBTX) *RequestRepository {
	return &RequestRepository{db: db}
}

// RequestFilter narrows List
type RequestFilter struct {
	Status models.RequestStatus // empty for all
	Limit  int
	Offset int
}

// Create inserts a new request. Status defaults to pending.
func (r *RequestRepository) Create(ctx context.Context, req *models.CSRRequest) error {
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	if req.CertType == "" {
		req.CertType = models.CertTypeServer
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO csr_requests (
			device_id, device_ip, device_token, common_name, san_ips, san_dns,
			csr_pem, status, validity_days, cert_type, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query),
		req.DeviceID,
		req.DeviceIP,
		req.DeviceToken,
		req.CommonName,
		req.SANIPs,
		req.SANDNS,
		req.CSRPEM,
		req.Status,
		req.ValidityDays,
		req.CertType,
		req.CreatedAt,
	).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*models.CSRRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM csr_requests WHERE id = ?`

	req := &models.CSRRequest{}
	err := sqlxGet(ctx, r.db, req, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("repository.GetRequest", "request %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	return req, nil
}

// List lists requests, most recent first
func (r *RequestRepository) List(ctx context.Context, f RequestFilter) ([]*models.CSRRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM csr_requests WHERE 1=1`
	args := []any{}

	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(f.Limit), f.Offset)

	var reqs []*models.CSRRequest
	if err := sqlxSelect(ctx, r.db, &reqs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}

	return reqs, nil
}

// ListPending lists every pending request, most recent first
func (r *RequestRepository) ListPending(ctx context.Context) ([]*models.CSRRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM csr_requests WHERE status = ? ORDER BY created_at DESC, id DESC`

	var reqs []*models.CSRRequest
	if err := sqlxSelect(ctx, r.db, &reqs, query, models.StatusPending); err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}

	return reqs, nil
}

// CountByStatus returns the number of requests in each status
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[models.RequestStatus]int, error) {
	var rows []struct {
		Status models.RequestStatus `db:"status"`
		Count  int                  `db:"n"`
	}
	query := `SELECT status, COUNT(*) AS n FROM csr_requests GROUP BY status`
	if err := sqlxSelect(ctx, r.db, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	counts := make(map[models.RequestStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// MarkApproved moves a pending request to approved
func (r *RequestRepository) MarkApproved(ctx context.Context, id int64, operator string, at time.Time) error {
	return r.transition(ctx, id, models.StatusApproved, operator, nil, at)
}

// MarkRejected moves a pending request to rejected
func (r *RequestRepository) MarkRejected(ctx context.Context, id int64, operator, reason string, at time.Time) error {
	return r.transition(ctx, id, models.StatusRejected, operator, models.Ptr(reason), at)
}

// transition applies pending -> to only if the row is still pending, so
// concurrent callers cannot both succeed.
func (r *RequestRepository) transition(ctx context.Context, id int64, to models.RequestStatus, operator string, reason *string, at time.Time) error {
	query := `
		UPDATE csr_requests
		SET status = ?, processed_at = ?, processed_by = ?, reject_reason = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		to, at.UTC(), operator, reason, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := models.Transition(current.Status, to); err != nil {
		return err
	}
	return apperr.Conflict("repository.Transition", "request %d changed concurrently", id)
}
