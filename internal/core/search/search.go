package search

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/models"
)

// Query is a full-text search over events with optional facets
type Query struct {
	Text    string
	Source  models.Source
	Project string // substring match
	Kind    models.EventKind
	Since   time.Time
	Until   time.Time
	Limit   int
	Code    bool // use the unstemmed index, preserves identifiers
}

// Result represents a single search hit
type Result struct {
	EventID    int64
	SessionID  string
	ExternalID string
	Source     models.Source
	Project    string
	Title      string
	Kind       models.EventKind
	Role       models.Role
	Snippet    string
	Timestamp  time.Time
	Rank       float64 // bm25, lower is better; zero for substring matches
}

const defaultLimit = 50

// specialChars are characters FTS5 tokenizes away; queries with them use substring matching
const specialChars = "-_@#$%&/\\"

// Substring matches show snippetWidth characters starting snippetLead before the match
const (
	snippetLead  = 80
	snippetWidth = 200
)

// SearchEvents performs a ranked full-text search with facets applied in the same statement
func SearchEvents(database *db.DB, q Query) ([]Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	where, args := facetPredicates(q)

	var query string
	if strings.ContainsAny(text, specialChars) {
		// Use LIKE for exact substring matching
		query = `
			SELECT e.id, e.session_id, s.external_id, s.source, COALESCE(s.project, ''), COALESCE(s.title, ''),
				e.kind, COALESCE(e.role, ''),
				substr(COALESCE(e.content, ''), max(1, instr(lower(e.content), lower(?)) - ?), ?), e.timestamp, 0,
				max(1, instr(lower(e.content), lower(?)) - ?), length(COALESCE(e.content, ''))
			FROM events e
			JOIN sessions s ON s.id = e.session_id
			WHERE e.content LIKE '%' || ? || '%' ESCAPE '\'` + where + `
			ORDER BY e.timestamp DESC
			LIMIT ?`
		args = append([]interface{}{text, snippetLead, snippetWidth, text, snippetLead, escapeLike(text)}, args...)
	} else {
		table := "events_fts"
		if q.Code {
			table = "events_fts_code"
		}
		query = fmt.Sprintf(`
			SELECT e.id, e.session_id, s.external_id, s.source, COALESCE(s.project, ''), COALESCE(s.title, ''),
				e.kind, COALESCE(e.role, ''), snippet(%[1]s, 0, '[', ']', '...', 32), e.timestamp, bm25(%[1]s),
				0, 0
			FROM %[1]s
			JOIN events e ON e.id = %[1]s.rowid
			JOIN sessions s ON s.id = e.session_id
			WHERE %[1]s MATCH ?`+where+`
			ORDER BY bm25(%[1]s), e.timestamp DESC
			LIMIT ?`, table)
		args = append([]interface{}{MatchExpr(text)}, args...)
	}
	args = append(args, limit)

	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		var r Result
		var source, kind, role, ts string
		var winStart, contentLen int
		if err := rows.Scan(
			&r.EventID, &r.SessionID, &r.ExternalID, &source, &r.Project, &r.Title,
			&kind, &role, &r.Snippet, &ts, &r.Rank, &winStart, &contentLen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if winStart > 0 {
			r.Snippet = substringSnippet(r.Snippet, text, winStart, contentLen)
		}
		r.Source = models.Source(source)
		r.Kind = models.EventKind(kind)
		r.Role = models.Role(role)
		r.Timestamp = db.ParseTime(ts)
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

func facetPredicates(q Query) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}
	if q.Source != "" {
		b.WriteString(" AND s.source = ?")
		args = append(args, string(q.Source))
	}
	if q.Project != "" {
		b.WriteString(" AND s.project LIKE ?")
		args = append(args, "%"+q.Project+"%")
	}
	if q.Kind != "" {
		b.WriteString(" AND e.kind = ?")
		args = append(args, string(q.Kind))
	}
	if !q.Since.IsZero() {
		b.WriteString(" AND e.timestamp >= ?")
		args = append(args, db.FormatTime(q.Since))
	}
	if !q.Until.IsZero() {
		b.WriteString(" AND e.timestamp < ?")
		args = append(args, db.FormatTime(q.Until))
	}
	return b.String(), args
}

// MatchExpr turns free text into an FTS5 expression: each term quoted and prefix-matched, all required
func MatchExpr(text string) string {
	terms := strings.Fields(text)
	for i, term := range terms {
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"*`
	}
	return strings.Join(terms, " ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// SessionHit is a session matched on its title or project
type SessionHit struct {
	models.Session
	Rank float64
}

// SearchSessions matches sessions by title and project
func SearchSessions(database *db.DB, text string, limit int) ([]SessionHit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := database.Query(`
		SELECT s.id, s.source, s.external_id, COALESCE(s.project, ''), COALESCE(s.title, ''),
			s.created_at, s.updated_at, bm25(sessions_fts)
		FROM sessions_fts
		JOIN sessions s ON s.pk = sessions_fts.rowid
		WHERE sessions_fts MATCH ?
		ORDER BY bm25(sessions_fts), s.updated_at DESC
		LIMIT ?
	`, MatchExpr(text), limit)
	if err != nil {
		return nil, fmt.Errorf("session search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSessionHits(rows)
}

func scanSessionHits(rows *sql.Rows) ([]SessionHit, error) {
	var hits []SessionHit
	for rows.Next() {
		var h SessionHit
		var source, created, updated string
		if err := rows.Scan(&h.ID, &source, &h.ExternalID, &h.Project, &h.Title, &created, &updated, &h.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		h.Source = models.Source(source)
		h.CreatedAt = db.ParseTime(created)
		h.UpdatedAt = db.ParseTime(updated)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// substringSnippet marks the first case-insensitive occurrence of text in a
// window cut from content at the 1-based character start, in the same
// [match] form FTS snippets use
func substringSnippet(window, text string, start, total int) string {
	lw, lt := strings.ToLower(window), strings.ToLower(text)
	if len(lw) == len(window) && len(lt) == len(text) {
		if i := strings.Index(lw, lt); i >= 0 {
			window = window[:i] + "[" + window[i:i+len(text)] + "]" + window[i+len(text):]
		}
	}
	if start > 1 {
		window = "..." + window
	}
	if start-1+snippetWidth < total {
		window += "..."
	}
	return window
}
