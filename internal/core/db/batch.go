package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// SessionWrite is one session and the events parsed for it
type SessionWrite struct {
	Session models.Session
	Events  []models.Event
}

// Batch is everything one artifact parse produced. The checkpoint, when set,
// is advanced in the same transaction as the writes.
type Batch struct {
	Sessions   []SessionWrite
	Checkpoint *Checkpoint
}

// BatchResult reports what a committed batch changed
type BatchResult struct {
	EventsWritten int
	SessionIDs    []string
}

// WriteBatch upserts sessions and events, recomputes metrics for touched
// sessions and advances the checkpoint, all in one transaction. On error
// nothing is committed.
func (db *DB) WriteBatch(ctx context.Context, b Batch) (*BatchResult, error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return nil, writeErr("begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result := &BatchResult{}
	for i := range b.Sessions {
		sw := &b.Sessions[i]

		id, err := upsertSession(tx, &sw.Session)
		if err != nil {
			return nil, writeErr("session "+sw.Session.ExternalID, err)
		}
		sw.Session.ID = id

		written, err := upsertEvents(tx, &sw.Session, sw.Events)
		if err != nil {
			return nil, writeErr("events "+sw.Session.ExternalID, err)
		}
		result.EventsWritten += written
		result.SessionIDs = append(result.SessionIDs, id)

		if err := touchSession(tx, id); err != nil {
			return nil, writeErr("touch "+id, err)
		}

		if written > 0 || !hasMetrics(ctx, tx, id) {
			stored, err := loadSessionTx(tx, id)
			if err != nil {
				return nil, writeErr("reload "+id, err)
			}
			if err := recomputeMetrics(tx, stored, now); err != nil {
				return nil, writeErr("metrics "+id, err)
			}
		}
	}

	if b.Checkpoint != nil {
		if err := upsertCheckpoint(tx, b.Checkpoint, now); err != nil {
			return nil, writeErr("checkpoint", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, writeErr("commit", err)
	}
	return result, nil
}

func hasMetrics(ctx context.Context, tx *sql.Tx, sessionID string) bool {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_metrics WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return false
	}
	return n > 0
}
