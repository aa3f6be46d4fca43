package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx
type DBTX interface {
	sqlx.ExtContext
}

// defaultLimit applies to list queries called with limit <= 0
const defaultLimit = 100

// Store groups the repositories over one connection or transaction
type Store struct {
	db *sqlx.DB

	Requests  *RequestRepository
	Certs     *CertRepository
	Whitelist *WhitelistRepository
	Audit     *AuditRepository
}

// NewStore creates a store over db
func NewStore(db *sqlx.DB) *Store {
	return bind(db, db)
}

func bind(db *sqlx.DB, q DBTX) *Store {
	return &Store{
		db:        db,
		Requests:  NewRequestRepository(q),
		Certs:     NewCertRepository(q),
		Whitelist: NewWhitelistRepository(q),
		Audit:     NewAuditRepository(q),
	}
}

// WithinTx runs fn against a store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise. The
// store passed to fn must not be used after fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(bind(s.db, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure from
// either supported driver.
func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
