package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// schemaVersion is the version written by initializeSchema
const schemaVersion = 1

// RunMigrations creates the schema on first start and checks the version
// afterwards.
func RunMigrations(ctx context.Context, db *DB) error {
	exists, err := tableExists(ctx, db, "schema_version")
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !exists {
		// First time initialization
		if err := initializeSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	var currentVersion int
	err = db.GetContext(ctx, &currentVersion, `SELECT MAX(version) FROM schema_version`)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Currently only version 1 exists
	if currentVersion < 1 || currentVersion > schemaVersion {
		return fmt.Errorf("invalid schema version: %d", currentVersion)
	}

	return nil
}

func tableExists(ctx context.Context, db *DB, name string) (bool, error) {
	var query string
	switch db.DriverName() {
	case DriverPostgres:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}

	var count int
	if err := db.GetContext(ctx, &count, db.Rebind(query), name); err != nil {
		return false, err
	}
	return count > 0, nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(ctx context.Context, db *DB) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dialect := dialectFor(db.DriverName())
	for _, stmt := range schema {
		if err := execSQL(ctx, tx, dialect.Replace(stmt)); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), schemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(ctx context.Context, tx *sqlx.Tx, query string) error {
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to execute %q: %w", firstLine(query), err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// dialectFor returns the placeholder substitutions for driver
func dialectFor(driver string) *strings.Replacer {
	if driver == DriverPostgres {
		return strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
			"{{bool}}", "BOOLEAN",
			"{{false}}", "FALSE",
			"{{bigint}}", "BIGINT",
		)
	}
	return strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "DATETIME",
		"{{bool}}", "INTEGER",
		"{{false}}", "0",
		"{{bigint}}", "INTEGER",
	)
}

// Schema definitions, in creation order
var schema = []string{
	`
CREATE TABLE schema_version (
    version     INTEGER NOT NULL,
    applied_at  {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,

	`
CREATE TABLE csr_requests (
    id              {{id}},
    device_id       TEXT NOT NULL,
    device_ip       TEXT NOT NULL DEFAULT '',
    device_token    TEXT,
    common_name     TEXT NOT NULL,
    san_ips         TEXT,
    san_dns         TEXT,
    csr_pem         TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending'
                    CHECK (status IN ('pending', 'approved', 'rejected', 'expired')),
    validity_days   INTEGER NOT NULL,
    cert_type       TEXT NOT NULL DEFAULT 'server'
                    CHECK (cert_type IN ('server', 'client', 'both')),
    created_at      {{ts}} NOT NULL,
    processed_at    {{ts}},
    processed_by    TEXT,
    reject_reason   TEXT
)`,
	`CREATE INDEX idx_requests_status ON csr_requests(status)`,
	`CREATE INDEX idx_requests_device_id ON csr_requests(device_id)`,
	`CREATE INDEX idx_requests_created_at ON csr_requests(created_at)`,

	`
CREATE TABLE certificates (
    id               {{id}},
    request_id       {{bigint}} REFERENCES csr_requests(id) ON DELETE SET NULL,
    device_id        TEXT NOT NULL,
    common_name      TEXT NOT NULL,
    serial_number    TEXT NOT NULL UNIQUE,
    cert_pem         TEXT NOT NULL,
    private_key_pem  TEXT,
    not_before       {{ts}} NOT NULL,
    not_after        {{ts}} NOT NULL,
    issued_at        {{ts}} NOT NULL,
    issued_by        TEXT NOT NULL,
    revoked_at       {{ts}},
    revoke_reason    TEXT
)`,
	// at most one certificate per request
	`CREATE UNIQUE INDEX idx_certs_request_id ON certificates(request_id)`,
	`CREATE INDEX idx_certs_device_id ON certificates(device_id)`,
	`CREATE INDEX idx_certs_not_after ON certificates(not_after)`,

	`
CREATE TABLE device_whitelist (
    id              {{id}},
    device_token    TEXT NOT NULL UNIQUE,
    device_name     TEXT,
    description     TEXT,
    auto_approve    {{bool}} NOT NULL DEFAULT {{false}},
    validity_days   INTEGER NOT NULL,
    created_at      {{ts}} NOT NULL,
    last_used_at    {{ts}}
)`,

	`
CREATE TABLE audit_logs (
    id           {{id}},
    action       TEXT NOT NULL,
    target_type  TEXT,
    target_id    TEXT,
    operator     TEXT,
    details      TEXT,
    ip_address   TEXT,
    created_at   {{ts}} NOT NULL
)`,
	`CREATE INDEX idx_audit_created_at ON audit_logs(created_at)`,
	`CREATE INDEX idx_audit_action ON audit_logs(action)`,
}
