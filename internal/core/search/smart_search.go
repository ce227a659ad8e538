package search

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/models"
)

// SessionMatch is a session found by Find
type SessionMatch struct {
	Session   models.Session
	Relevance float64
	Method    string // "file", "issue", "title" or "fts5"
	Hits      int
}

// Find performs tiered session lookup: exact file or issue match → title → event FTS
func Find(database *db.DB, query string, limit int) ([]SessionMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	// Tier 1: exact match on issue IDs and file paths
	if isIssueIDPattern(query) {
		if matches, err := FindByIssue(database, query, limit); err == nil && len(matches) > 0 {
			return matches, nil
		}
	}
	if isFilePathPattern(query) {
		if matches, err := FindByFile(database, query, limit); err == nil && len(matches) > 0 {
			return matches, nil
		}
	}

	// Tier 2: session titles and projects
	hits, err := SearchSessions(database, query, limit)
	if err == nil && len(hits) > 0 {
		matches := make([]SessionMatch, len(hits))
		for i, h := range hits {
			matches[i] = SessionMatch{Session: h.Session, Relevance: rankRelevance(i), Method: "title"}
		}
		return matches, nil
	}

	// Tier 3: event content, grouped by session
	results, err := SearchEvents(database, Query{Text: query, Limit: limit * 10})
	if err != nil {
		return nil, err
	}
	return groupBySession(database, results, limit, "fts5")
}

// FindByFile returns sessions whose tool calls touched a path containing file
func FindByFile(database *db.DB, file string, limit int) ([]SessionMatch, error) {
	return findByQuery(database, "file", `
		SELECT session_id, COUNT(*) FROM files_touched
		WHERE file_path LIKE '%' || ? || '%'
		GROUP BY session_id
		ORDER BY MAX(touched_at) DESC
		LIMIT ?
	`, file, limit)
}

// FindByIssue returns sessions whose events mention an issue id, case-insensitively
func FindByIssue(database *db.DB, issue string, limit int) ([]SessionMatch, error) {
	return findByQuery(database, "issue", `
		SELECT session_id, COUNT(*) FROM events
		WHERE content LIKE '%' || ? || '%'
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC
		LIMIT ?
	`, issue, limit)
}

func findByQuery(database *db.DB, method, query, arg string, limit int) ([]SessionMatch, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := database.Query(query, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("find by %s: %w", method, err)
	}
	type hit struct {
		id string
		n  int
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		hits = append(hits, h)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Sessions are loaded after rows close; the pool has a single connection
	matches := make([]SessionMatch, 0, len(hits))
	for _, h := range hits {
		s, err := database.GetSession(h.id)
		if err != nil {
			continue
		}
		matches = append(matches, SessionMatch{Session: *s, Relevance: 1.0, Method: method, Hits: h.n})
	}
	return matches, nil
}

func groupBySession(database *db.DB, results []Result, limit int, method string) ([]SessionMatch, error) {
	counts := make(map[string]int)
	var order []string
	for _, r := range results {
		if counts[r.SessionID] == 0 {
			order = append(order, r.SessionID)
		}
		counts[r.SessionID]++
	}

	var matches []SessionMatch
	for _, id := range order {
		if len(matches) >= limit {
			break
		}
		s, err := database.GetSession(id)
		if err != nil {
			continue
		}
		// Calculate relevance based on number of matches
		relevance := float64(counts[id]) / 10.0
		if relevance > 1.0 {
			relevance = 1.0
		}
		matches = append(matches, SessionMatch{Session: *s, Relevance: relevance, Method: method, Hits: counts[id]})
	}
	return matches, nil
}

func rankRelevance(i int) float64 {
	relevance := 1.0 - (float64(i) * 0.15) // Decay by rank
	if relevance < 0.1 {
		relevance = 0.1
	}
	return relevance
}

var issuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Za-z]+-\d+$`), // ENA-123, ena-123
	regexp.MustCompile(`^#\d{2,}$`),       // #123
}

func isIssueIDPattern(s string) bool {
	for _, pattern := range issuePatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	return false
}

func isFilePathPattern(s string) bool {
	// File path usually has extension or slash
	return strings.Contains(s, "/") || strings.Contains(s, ".")
}
