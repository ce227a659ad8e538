package db

import "time"

// ImportRun is one recorded IngestOne invocation
type ImportRun struct {
	Source           string
	StartedAt        time.Time
	Duration         time.Duration
	ArtifactsTotal   int
	ArtifactsSkipped int
	EventsImported   int
	Failed           int
	Status           string // success, partial, failed
	ErrorMessage     string
}

// RecordImport appends a run to the import log
func (db *DB) RecordImport(run ImportRun) error {
	_, err := db.Exec(`
		INSERT INTO import_log (source, started_at, duration_ms, artifacts_total, artifacts_skipped, events_imported, failed, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Source, FormatTime(run.StartedAt), run.Duration.Milliseconds(), run.ArtifactsTotal, run.ArtifactsSkipped,
		run.EventsImported, run.Failed, run.Status, nullString(run.ErrorMessage))
	return err
}

// LastImports returns the most recent run per source
func (db *DB) LastImports() ([]ImportRun, error) {
	rows, err := db.Query(`
		SELECT l.source, l.started_at, l.duration_ms, l.artifacts_total, l.artifacts_skipped,
			l.events_imported, l.failed, COALESCE(l.status, ''), COALESCE(l.error_message, '')
		FROM import_log l
		WHERE l.id = (SELECT MAX(id) FROM import_log WHERE source = l.source)
		ORDER BY l.source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		var r ImportRun
		var startedAt string
		var durationMs int64
		if err := rows.Scan(&r.Source, &startedAt, &durationMs, &r.ArtifactsTotal, &r.ArtifactsSkipped,
			&r.EventsImported, &r.Failed, &r.Status, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.StartedAt = ParseTime(startedAt)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
