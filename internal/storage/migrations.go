package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      []string
}

// migrations holds all database migrations in order. The statements are
// portable between SQLite and PostgreSQL; timestamps are unix nanoseconds.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				domain_id TEXT NOT NULL,
				subject_id TEXT NOT NULL,
				category TEXT NOT NULL,
				severity TEXT NOT NULL,
				message TEXT NOT NULL,
				score DOUBLE PRECISION NOT NULL DEFAULT 0,
				context_json TEXT,
				packet_id TEXT NOT NULL DEFAULT '',
				created_at BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chains (
				alert_id TEXT PRIMARY KEY REFERENCES alerts(id) ON DELETE CASCADE,
				domain_id TEXT NOT NULL,
				subject_id TEXT NOT NULL,
				state TEXT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
				domain_id TEXT NOT NULL,
				contact_id TEXT NOT NULL,
				channel TEXT NOT NULL,
				attempt INTEGER NOT NULL,
				outcome TEXT NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				attempted_at BIGINT NOT NULL,
				resolved_at BIGINT NOT NULL DEFAULT 0,
				UNIQUE (alert_id, contact_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_domain_created ON alerts(domain_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts(subject_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chains_domain ON chains(domain_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chains_state ON chains(state)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_alert ON notifications(alert_id, attempt)`,
		},
	},
}

// runMigrations applies all pending migrations.
func runMigrations(ctx context.Context, db *sql.DB, d dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		for _, stmt := range m.Up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			d.rebind("INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Name, time.Now().UnixNano(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
