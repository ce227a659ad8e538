package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/neilberkman/agentrider/internal/core/models"
)

const upsertEventSQL = `
	INSERT INTO events (
		session_id, fingerprint, kind, role, content, timestamp, seq,
		native_id, tool_name, tool_call_id, is_error, raw_payload
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, json(?))
	ON CONFLICT(fingerprint) DO UPDATE SET
		kind = excluded.kind,
		role = excluded.role,
		content = excluded.content,
		timestamp = excluded.timestamp,
		seq = excluded.seq,
		tool_name = excluded.tool_name,
		tool_call_id = excluded.tool_call_id,
		is_error = excluded.is_error,
		raw_payload = excluded.raw_payload
	WHERE events.kind IS NOT excluded.kind
	   OR events.role IS NOT excluded.role
	   OR events.content IS NOT excluded.content
	   OR events.timestamp IS NOT excluded.timestamp
	   OR events.seq IS NOT excluded.seq
	   OR events.tool_name IS NOT excluded.tool_name
	   OR events.tool_call_id IS NOT excluded.tool_call_id
	   OR events.is_error IS NOT excluded.is_error
	   OR events.raw_payload IS NOT excluded.raw_payload
`

// upsertEvents writes events keyed by fingerprint and returns how many rows were inserted or changed
func upsertEvents(tx *sql.Tx, session *models.Session, events []models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	stmt, err := tx.Prepare(upsertEventSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare event upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for i := range events {
		e := &events[i]
		if e.Fingerprint == "" {
			e.Fingerprint = models.Fingerprint(session.Source, session.ExternalID, e.NativeID, e.Seq, eventHashInput(e))
		}
		e.SessionID = session.ID

		res, err := stmt.Exec(
			session.ID,
			e.Fingerprint,
			string(e.Kind),
			nullString(string(e.Role)),
			nullString(e.Content),
			FormatTime(e.Timestamp),
			e.Seq,
			nullString(e.NativeID),
			nullString(e.ToolName),
			nullString(e.ToolCallID),
			e.IsError,
			nullJSON(e.RawPayload),
		)
		if err != nil {
			return written, fmt.Errorf("upsert event %d: %w", e.Seq, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return written, err
		}
		written += int(n)
	}
	return written, nil
}

// eventHashInput is what a positional fingerprint hashes
func eventHashInput(e *models.Event) []byte {
	if len(e.RawPayload) > 0 {
		return e.RawPayload
	}
	return []byte(string(e.Kind) + "\x00" + e.Content)
}

const eventColumns = `id, session_id, kind, COALESCE(role, ''), COALESCE(content, ''), timestamp, seq,
	COALESCE(native_id, ''), COALESCE(tool_name, ''), COALESCE(tool_call_id, ''), is_error, fingerprint,
	COALESCE(raw_payload, '')`

type rowQuerier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// GetEvents returns a session's events ordered by timestamp, ties broken by source sequence
func (db *DB) GetEvents(sessionID string) ([]models.Event, error) {
	return loadEvents(db.reader, sessionID)
}

func loadEvents(q rowQuerier, sessionID string) ([]models.Event, error) {
	rows, err := q.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE session_id = ?
		ORDER BY timestamp ASC, seq ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var kind, role, ts, raw string
		if err := rows.Scan(
			&e.ID, &e.SessionID, &kind, &role, &e.Content, &ts, &e.Seq,
			&e.NativeID, &e.ToolName, &e.ToolCallID, &e.IsError, &e.Fingerprint, &raw,
		); err != nil {
			return nil, err
		}
		e.Kind = models.EventKind(kind)
		e.Role = models.Role(role)
		e.Timestamp = ParseTime(ts)
		if raw != "" {
			e.RawPayload = json.RawMessage(raw)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of events, optionally for one session
func (db *DB) CountEvents(sessionID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE ? = '' OR session_id = ?`, sessionID, sessionID).Scan(&n)
	return n, err
}
