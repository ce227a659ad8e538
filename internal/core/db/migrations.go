package db

import (
	"database/sql"
	"fmt"
)

// runMigrations applies database migrations for existing databases
func (db *DB) runMigrations() error {
	// Migration 1: tool columns on events (added after the first release)
	if err := db.migration001AddEventToolColumns(); err != nil {
		return fmt.Errorf("migration 001: %w", err)
	}

	// Migration 2: provider on session_metrics
	if err := db.migration002AddMetricsProvider(); err != nil {
		return fmt.Errorf("migration 002: %w", err)
	}

	return nil
}

// migration001AddEventToolColumns adds tool_name, tool_call_id and is_error to events
func (db *DB) migration001AddEventToolColumns() error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"tool_name", "ALTER TABLE events ADD COLUMN tool_name TEXT"},
		{"tool_call_id", "ALTER TABLE events ADD COLUMN tool_call_id TEXT"},
		{"is_error", "ALTER TABLE events ADD COLUMN is_error BOOLEAN NOT NULL DEFAULT 0"},
	}
	for _, c := range columns {
		if err := db.ensureColumn("events", c.name, c.ddl); err != nil {
			return err
		}
	}
	return nil
}

// migration002AddMetricsProvider adds provider to session_metrics
func (db *DB) migration002AddMetricsProvider() error {
	return db.ensureColumn("session_metrics", "provider", "ALTER TABLE session_metrics ADD COLUMN provider TEXT")
}

// ensureColumn runs ddl when table exists but lacks column
func (db *DB) ensureColumn(table, column, ddl string) error {
	// Check if table exists
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name=?
	`, table).Scan(&tableName)
	if err == sql.ErrNoRows {
		// Table doesn't exist yet, will be created by initSchema
		return nil
	}
	if err != nil {
		return err
	}

	var hasColumn bool
	err = db.conn.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info(?)
		WHERE name=?
	`, table, column).Scan(&hasColumn)
	if err != nil {
		return err
	}
	if hasColumn {
		return nil
	}

	if _, err := db.conn.Exec(ddl); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}
