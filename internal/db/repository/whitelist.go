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

const whitelistColumns = `
	id, device_token, device_name, description, auto_approve,
	validity_days, created_at, last_used_at`

// WhitelistRepository handles device whitelist data access
type WhitelistRepository struct {
	db DBTX
}

// NewWhitelistRepository creates a new whitelist repository
func NewWhitelistRepository(db DBTX) *WhitelistRepository {
	return &WhitelistRepository{db: db}
}

// Create adds a whitelist entry. Tokens are unique.
func (r *WhitelistRepository) Create(ctx context.Context, entry *models.WhitelistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO device_whitelist (
			device_token, device_name, description, auto_approve, validity_days, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	err := r.db.QueryRowxContext(ctx, r.db.Rebind(query),
		entry.DeviceToken,
		entry.DeviceName,
		entry.Description,
		entry.AutoApprove,
		entry.ValidityDays,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if isUniqueViolation(err) {
		return apperr.Conflict("repository.CreateWhitelistEntry", "device token is already whitelisted")
	}
	if err != nil {
		return fmt.Errorf("failed to create whitelist entry: %w", err)
	}

	return nil
}

// GetByToken retrieves an entry by device token
func (r *WhitelistRepository) GetByToken(ctx context.Context, token string) (*models.WhitelistEntry, error) {
	return r.getOne(ctx, "device_token = ?", token, "device token not whitelisted")
}

// GetByID retrieves an entry by ID
func (r *WhitelistRepository) GetByID(ctx context.Context, id int64) (*models.WhitelistEntry, error) {
	return r.getOne(ctx, "id = ?", id, fmt.Sprintf("whitelist entry %d not found", id))
}

func (r *WhitelistRepository) getOne(ctx context.Context, where string, arg any, notFound string) (*models.WhitelistEntry, error) {
	query := `SELECT ` + whitelistColumns + ` FROM device_whitelist WHERE ` + where

	entry := &models.WhitelistEntry{}
	err := sqlxGet(ctx, r.db, entry, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("repository.GetWhitelistEntry", "%s", notFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get whitelist entry: %w", err)
	}

	return entry, nil
}

// List lists all entries, newest first
func (r *WhitelistRepository) List(ctx context.Context) ([]*models.WhitelistEntry, error) {
	query := `SELECT ` + whitelistColumns + ` FROM device_whitelist ORDER BY created_at DESC, id DESC`

	var entries []*models.WhitelistEntry
	if err := sqlxSelect(ctx, r.db, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}

	return entries, nil
}

// Count returns the number of entries
func (r *WhitelistRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlxGet(ctx, r.db, &n, `SELECT COUNT(*) FROM device_whitelist`); err != nil {
		return 0, fmt.Errorf("failed to count whitelist: %w", err)
	}
	return n, nil
}

// TouchLastUsed updates the last_used_at timestamp
func (r *WhitelistRepository) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE device_whitelist SET last_used_at = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), at.UTC(), id); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}

	return nil
}

// Delete removes an entry by ID
func (r *WhitelistRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM device_whitelist WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete whitelist entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("repository.DeleteWhitelistEntry", "whitelist entry %d not found", id)
	}

	return nil
}
