package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the database schema to the given database. Each statement
// in schema.sql is idempotent, so it is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
