package db

import (
	"database/sql"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// Checkpoint is the stored change marker and resume cursor of an artifact
type Checkpoint struct {
	Source    models.Source
	Artifact  string
	Marker    string
	Offset    int64
	Line      int
	UpdatedAt time.Time
}

// GetCheckpoint returns the checkpoint for an artifact, or nil if it was never ingested
func (db *DB) GetCheckpoint(source models.Source, artifact string) (*Checkpoint, error) {
	cp := Checkpoint{Source: source, Artifact: artifact}
	var updatedAt string
	err := db.QueryRow(`
		SELECT marker, cursor_offset, cursor_line, updated_at
		FROM ingest_checkpoints
		WHERE source = ? AND artifact = ?
	`, string(source), artifact).Scan(&cp.Marker, &cp.Offset, &cp.Line, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp.UpdatedAt = ParseTime(updatedAt)
	return &cp, nil
}

// ListCheckpoints returns all checkpoints for a source
func (db *DB) ListCheckpoints(source models.Source) ([]Checkpoint, error) {
	rows, err := db.Query(`
		SELECT artifact, marker, cursor_offset, cursor_line, updated_at
		FROM ingest_checkpoints
		WHERE source = ?
		ORDER BY artifact
	`, string(source))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		cp := Checkpoint{Source: source}
		var updatedAt string
		if err := rows.Scan(&cp.Artifact, &cp.Marker, &cp.Offset, &cp.Line, &updatedAt); err != nil {
			return nil, err
		}
		cp.UpdatedAt = ParseTime(updatedAt)
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func upsertCheckpoint(tx *sql.Tx, cp *Checkpoint, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO ingest_checkpoints (source, artifact, marker, cursor_offset, cursor_line, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, artifact) DO UPDATE SET
			marker = excluded.marker,
			cursor_offset = excluded.cursor_offset,
			cursor_line = excluded.cursor_line,
			updated_at = excluded.updated_at
	`, string(cp.Source), cp.Artifact, cp.Marker, cp.Offset, cp.Line, FormatTime(now))
	return err
}
