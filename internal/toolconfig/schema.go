package toolconfig

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nupi-ai/tool/internal/constants"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tool_config (
		tool TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		sensitive INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tool, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_config_tool ON tool_config(tool)`,
}

func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(constants.ConfigStoreBusyTimeout.Milliseconds())),
	}

	if !readOnly {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("toolconfig: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("toolconfig: begin schema transaction: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("toolconfig: apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("toolconfig: commit schema: %w", err)
	}
	return nil
}
