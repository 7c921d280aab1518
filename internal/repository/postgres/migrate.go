package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"carrental-backend/internal/logger"
)

//go:embed schema.sql
var schema string

// Migrate creates the tables the repositories need. It is safe to run on
// every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	logger.Info("Applying database schema")
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
