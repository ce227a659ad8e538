package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// ErrNotFound is returned when a session lookup matches nothing
var ErrNotFound = errors.New("not found")

// SessionFilter narrows QuerySessions; zero values disable a predicate
type SessionFilter struct {
	Source  models.Source
	Project string // substring match
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// SessionRow is a session returned from QuerySessions
type SessionRow struct {
	models.Session
	EventCount int
}

// upsertSession inserts or merges a session keyed on (source, external_id) and returns its local id
func upsertSession(tx *sql.Tx, s *models.Session) (string, error) {
	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}

	var storedID string
	err := tx.QueryRow(`
		INSERT INTO sessions (id, source, external_id, project, title, created_at, updated_at, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, json(?))
		ON CONFLICT(source, external_id) DO UPDATE SET
			project = COALESCE(excluded.project, sessions.project),
			title = COALESCE(excluded.title, sessions.title),
			created_at = MIN(sessions.created_at, excluded.created_at),
			updated_at = MAX(sessions.updated_at, excluded.updated_at),
			raw_payload = CASE
				WHEN excluded.raw_payload IS NULL THEN sessions.raw_payload
				WHEN sessions.raw_payload IS NULL THEN excluded.raw_payload
				ELSE json_patch(sessions.raw_payload, excluded.raw_payload)
			END
		RETURNING id
	`,
		id,
		string(s.Source),
		s.ExternalID,
		nullString(s.Project),
		nullString(s.Title),
		FormatTime(s.CreatedAt),
		FormatTime(s.UpdatedAt),
		nullJSON(s.RawPayload),
	).Scan(&storedID)
	if err != nil {
		return "", err
	}
	return storedID, nil
}

// touchSession bumps updated_at to the newest attached event
func touchSession(tx *sql.Tx, sessionID string) error {
	_, err := tx.Exec(`
		UPDATE sessions
		SET updated_at = MAX(updated_at, COALESCE((SELECT MAX(timestamp) FROM events WHERE session_id = ?), updated_at))
		WHERE id = ?
	`, sessionID, sessionID)
	return err
}

const sessionColumns = `s.id, s.source, s.external_id, COALESCE(s.project, ''), COALESCE(s.title, ''),
	s.created_at, s.updated_at, COALESCE(s.raw_payload, '')`

func scanSession(scan func(dest ...interface{}) error, extra ...interface{}) (models.Session, error) {
	var s models.Session
	var source, createdAt, updatedAt, raw string
	dest := append([]interface{}{&s.ID, &source, &s.ExternalID, &s.Project, &s.Title, &createdAt, &updatedAt, &raw}, extra...)
	if err := scan(dest...); err != nil {
		return s, err
	}
	s.Source = models.Source(source)
	s.CreatedAt = ParseTime(createdAt)
	s.UpdatedAt = ParseTime(updatedAt)
	if raw != "" {
		s.RawPayload = json.RawMessage(raw)
	}
	return s, nil
}

// QuerySessions returns sessions matching filter, most recently updated first
func (db *DB) QuerySessions(filter SessionFilter) ([]SessionRow, error) {
	query := `
		SELECT ` + sessionColumns + `,
			(SELECT COUNT(*) FROM events WHERE session_id = s.id) as event_count
		FROM sessions s
		WHERE 1=1`

	args := []interface{}{}
	if filter.Source != "" {
		query += " AND s.source = ?"
		args = append(args, string(filter.Source))
	}
	if filter.Project != "" {
		query += " AND s.project LIKE ?"
		args = append(args, "%"+filter.Project+"%")
	}
	if !filter.Since.IsZero() {
		query += " AND s.updated_at >= ?"
		args = append(args, FormatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += " AND s.updated_at < ?"
		args = append(args, FormatTime(filter.Until))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += `
		ORDER BY s.updated_at DESC, s.pk DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var row SessionRow
		s, err := scanSession(rows.Scan, &row.EventCount)
		if err != nil {
			return nil, err
		}
		row.Session = s
		sessions = append(sessions, row)
	}

	return sessions, rows.Err()
}

// GetSession resolves a local id, an external id or a unique local id prefix
func (db *DB) GetSession(ref string) (*models.Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	rows, err := db.Query(`
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.id = ? OR s.external_id = ? OR s.id LIKE ? || '%'
		ORDER BY (s.id = ?) DESC, (s.external_id = ?) DESC, s.updated_at DESC
		LIMIT 2
	`, ref, ref, ref, ref, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		matches = append(matches, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("session %s: %w", ref, ErrNotFound)
	case len(matches) > 1 && matches[0].ID != ref && matches[0].ExternalID != ref:
		return nil, fmt.Errorf("session prefix %s is ambiguous", ref)
	}
	return &matches[0], nil
}

// ShowSession returns a session with its ordered events and metrics
func (db *DB) ShowSession(ref string) (*models.SessionDetail, error) {
	s, err := db.GetSession(ref)
	if err != nil {
		return nil, err
	}
	events, err := db.GetEvents(s.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	m, err := db.GetSessionMetrics(s.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	return &models.SessionDetail{Session: *s, Events: events, Metrics: m}, nil
}

// CountSessions returns the number of sessions, optionally for one source
func (db *DB) CountSessions(source models.Source) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE ? = '' OR source = ?`, string(source), string(source)).Scan(&n)
	return n, err
}

func loadSessionTx(tx *sql.Tx, id string) (*models.Session, error) {
	s, err := scanSession(tx.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id).Scan)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
