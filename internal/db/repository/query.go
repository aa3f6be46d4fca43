package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// sqlxGet rebinds query for the connection's driver and scans one row
func sqlxGet(ctx context.Context, db DBTX, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, db, dest, db.Rebind(query), args...)
}

// sqlxSelect rebinds query for the connection's driver and scans all rows
func sqlxSelect(ctx context.Context, db DBTX, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, db, dest, db.Rebind(query), args...)
}
