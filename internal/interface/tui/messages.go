package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/export"
	"github.com/neilberkman/agentrider/internal/core/importer"
	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/internal/core/search"
)

const (
	maxListedSessions  = 1000
	maxSearchEvents    = 200
	maxMatchesPerEntry = 3
)

type errMsg struct {
	err error
}

type statusMsg string

type sessionsLoadedMsg struct {
	sessions []sessionItem
}

type sessionDetailLoadedMsg struct {
	detail *models.SessionDetail
}

type searchResultsMsg struct {
	query   string
	results []searchResult
}

type syncProgressMsg struct {
	current  int
	total    int
	artifact string
}

type syncDoneMsg struct {
	summaries []importer.Summary
	err       error
}

func (m syncDoneMsg) status() string {
	if m.err != nil {
		return "Sync failed: " + m.err.Error()
	}
	imported, failed := 0, 0
	for _, s := range m.summaries {
		imported += s.Imported
		failed += s.Failed
	}
	if failed > 0 {
		return fmt.Sprintf("Synced %d new events (%d failures)", imported, failed)
	}
	return fmt.Sprintf("Synced %d new events", imported)
}

func loadSessions(database *db.DB) tea.Cmd {
	return func() tea.Msg {
		rows, err := database.QuerySessions(db.SessionFilter{Limit: maxListedSessions})
		if err != nil {
			return errMsg{err}
		}

		sessions := make([]sessionItem, 0, len(rows))
		for _, r := range rows {
			if r.EventCount == 0 {
				continue
			}
			sessions = append(sessions, sessionItem{
				ID:         r.ID,
				ExternalID: r.ExternalID,
				Source:     r.Source,
				Title:      firstLine(r.Title, 80),
				Project:    r.Project,
				EventCount: r.EventCount,
				UpdatedAt:  r.UpdatedAt,
			})
		}
		return sessionsLoadedMsg{sessions}
	}
}

func loadSessionDetail(database *db.DB, sessionID string) tea.Cmd {
	return func() tea.Msg {
		detail, err := database.ShowSession(sessionID)
		if err != nil {
			return errMsg{err}
		}
		return sessionDetailLoadedMsg{detail: detail}
	}
}

// performSearch runs an event search and groups hits per session, keeping
// the session order of the best-ranked hit
func performSearch(database *db.DB, query string) tea.Cmd {
	return func() tea.Msg {
		// Minimum 2 characters to search (avoid useless single-char results)
		if len(strings.TrimSpace(query)) < 2 {
			return searchResultsMsg{query: query}
		}

		q := search.ParseQuery(query, time.Now())
		if q.Text == "" {
			return searchResultsMsg{query: query, results: []searchResult{}}
		}
		q.Limit = maxSearchEvents

		hits, err := search.SearchEvents(database, q)
		if err != nil {
			// Half-typed FTS syntax is expected while typing
			return searchResultsMsg{query: query, results: []searchResult{}}
		}
		return searchResultsMsg{query: query, results: groupResults(hits)}
	}
}

func groupResults(hits []search.Result) []searchResult {
	index := map[string]int{}
	var results []searchResult
	for _, h := range hits {
		i, ok := index[h.SessionID]
		if !ok {
			i = len(results)
			index[h.SessionID] = i
			results = append(results, searchResult{
				SessionID: h.SessionID,
				Source:    h.Source,
				Title:     h.Title,
				Project:   h.Project,
				UpdatedAt: h.Timestamp,
			})
		}
		r := &results[i]
		if h.Timestamp.After(r.UpdatedAt) {
			r.UpdatedAt = h.Timestamp
		}
		if len(r.Matches) < maxMatchesPerEntry {
			r.Matches = append(r.Matches, matchInfo{Kind: h.Kind, Role: h.Role, Snippet: h.Snippet})
		}
	}
	return results
}

// syncReporter forwards importer progress into the program
type syncReporter struct {
	mu      sync.Mutex
	updates chan<- tea.Msg
	totals  map[models.Source]int
	done    map[models.Source]int
}

func newSyncReporter(updates chan<- tea.Msg) *syncReporter {
	return &syncReporter{updates: updates, totals: map[models.Source]int{}, done: map[models.Source]int{}}
}

func (r *syncReporter) Start(source models.Source, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals[source] = total
}

func (r *syncReporter) Update(source models.Source, artifact string, done int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[source] = done
	current, total := 0, 0
	for s, t := range r.totals {
		total += t
		current += r.done[s]
	}
	// Skip a frame rather than stall the importer
	select {
	case r.updates <- syncProgressMsg{current: current, total: total, artifact: artifact}:
	default:
	}
}

func (r *syncReporter) Finish() {}

// startSync ingests every source in the background and streams progress on updates
func startSync(imp *importer.Importer, updates chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		go func() {
			summaries, err := imp.IngestAll(context.Background(), nil, importer.Options{Progress: newSyncReporter(updates)})
			updates <- syncDoneMsg{summaries: summaries, err: err}
		}()
		return waitForSync(updates)()
	}
}

func waitForSync(updates chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

// copyExport renders the markdown export of a session to the clipboard
func copyExport(detail *models.SessionDetail, tmpl string) tea.Cmd {
	return func() tea.Msg {
		md, err := export.Markdown(detail, tmpl)
		if err != nil {
			return statusMsg("Export failed: " + err.Error())
		}
		if err := clipboard.WriteAll(md); err != nil {
			return statusMsg("Clipboard unavailable: " + err.Error())
		}
		return statusMsg(fmt.Sprintf("Copied %d events as markdown", len(detail.Events)))
	}
}

func firstLine(s string, maxLen int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
