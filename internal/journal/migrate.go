package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step, applied exactly once and tracked in the
// schema_version table.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "deliveries table",
		SQL: `
		CREATE TABLE IF NOT EXISTS deliveries (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id   TEXT NOT NULL,
			kind         TEXT NOT NULL,
			media_id     TEXT DEFAULT '',
			reply_token  TEXT DEFAULT '',
			fragments    INTEGER DEFAULT 0,
			status_code  INTEGER DEFAULT 0,
			delivered    INTEGER DEFAULT 0,
			error        TEXT DEFAULT '',
			created_at   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_time ON deliveries(created_at);
		`,
	},
	{
		Version:     2,
		Description: "classification label and latency",
		SQL: `
		ALTER TABLE deliveries ADD COLUMN label TEXT DEFAULT '';
		ALTER TABLE deliveries ADD COLUMN latency_ms INTEGER DEFAULT 0;
		`,
	},
}

// runMigrations applies pending migrations, each inside its own transaction.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying journal migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
