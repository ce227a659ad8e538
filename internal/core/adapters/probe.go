package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// openForeign opens another tool's SQLite database without ever writing to it
func openForeign(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrArtifactGone)
		}
		return nil, err
	}
	conn, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// probeTable returns the column set of table, or nil when the table does not exist
func probeTable(ctx context.Context, conn *sql.DB, table string) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols map[string]bool
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if cols == nil {
			cols = map[string]bool{}
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// selectList renders wanted columns, substituting NULL for any the table lacks
func selectList(have map[string]bool, wanted []string) string {
	exprs := make([]string, len(wanted))
	for i, col := range wanted {
		if have[col] {
			exprs[i] = col
		} else {
			exprs[i] = "NULL AS " + col
		}
	}
	return strings.Join(exprs, ", ")
}

// Probe computes the change marker of a Crush database: file mtime (the
// newer of the db and its WAL), max(updated_at) and the session count. It
// never scans message rows.
func Probe(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, ErrArtifactGone)
		}
		return "", err
	}
	mtime := info.ModTime()
	if wal, err := os.Stat(path + "-wal"); err == nil && wal.ModTime().After(mtime) {
		mtime = wal.ModTime()
	}

	conn, err := openForeign(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	cols, err := probeTable(ctx, conn, "sessions")
	if err != nil {
		return "", err
	}
	if cols == nil {
		return "", &SchemaDriftError{Table: "sessions", Required: true}
	}

	updated := "0"
	if cols["updated_at"] {
		updated = "COALESCE(MAX(updated_at), 0)"
	}
	var maxUpdated, count int64
	query := `SELECT ` + updated + `, COUNT(*) FROM sessions`
	if err := conn.QueryRowContext(ctx, query).Scan(&maxUpdated, &count); err != nil {
		return "", fmt.Errorf("failed to probe sessions: %w", err)
	}
	return fmt.Sprintf("%d:%d:%d", mtime.UnixNano(), maxUpdated, count), nil
}
