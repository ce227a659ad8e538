package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/internal/core/search"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	_, err = database.WriteBatch(context.Background(), db.Batch{Sessions: []db.SessionWrite{{
		Session: models.Session{Source: models.SourceCrush, ExternalID: "crush-1", Project: "/src/tool",
			Title: "Investigate flaky test", CreatedAt: base, UpdatedAt: base.Add(time.Minute)},
		Events: []models.Event{
			{Kind: models.KindMessage, Role: models.RoleUser, Content: "why is the retry test flaky", Timestamp: base, Seq: 0},
			{Kind: models.KindMessage, Role: models.RoleAssistant, Content: "The retry loop sleeps on a real clock", Timestamp: base.Add(time.Minute), Seq: 1000},
		},
	}}})
	require.NoError(t, err)
	return database
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBrowseListToDetail(t *testing.T) {
	database := newTestDB(t)

	var model tea.Model = New(database, nil, "")
	model, _ = model.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

	msg := model.(Model).Init()()
	loaded, ok := msg.(sessionsLoadedMsg)
	require.True(t, ok)
	require.Len(t, loaded.sessions, 1)
	assert.Equal(t, models.SourceCrush, loaded.sessions[0].Source)

	model, _ = model.Update(msg)
	assert.Contains(t, model.View(), "Investigate flaky test")

	model, cmd := model.Update(key("enter"))
	require.NotNil(t, cmd)
	model, _ = model.Update(cmd())

	m := model.(Model)
	assert.Equal(t, detailView, m.mode)
	require.NotNil(t, m.currentSession)
	assert.Len(t, m.currentSession.Events, 2)

	model, _ = model.Update(key("esc"))
	assert.Equal(t, listView, model.(Model).mode)
}

func TestInSessionSearch(t *testing.T) {
	database := newTestDB(t)
	detail, err := database.ShowSession("crush-1")
	require.NoError(t, err)

	var model tea.Model = New(database, nil, "")
	model, _ = model.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	model, _ = model.Update(sessionDetailLoadedMsg{detail: detail})

	model, _ = model.Update(key("/"))
	for _, r := range "retry" {
		model, _ = model.Update(key(string(r)))
	}
	m := model.(Model)
	require.True(t, m.inSessionSearchMode)
	assert.Len(t, m.matchLines, 2)
	assert.Equal(t, 0, m.inSessionMatchIdx)

	model, _ = model.Update(key("enter"))
	model, _ = model.Update(key("n"))
	assert.Equal(t, 1, model.(Model).inSessionMatchIdx)
	model, _ = model.Update(key("n"))
	assert.Equal(t, 0, model.(Model).inSessionMatchIdx)

	model, _ = model.Update(key("esc"))
	assert.False(t, model.(Model).inSessionSearchMode)
	assert.Equal(t, detailView, model.(Model).mode)
}

func TestPerformSearchGroupsBySession(t *testing.T) {
	database := newTestDB(t)

	msg := performSearch(database, "retry")()
	res, ok := msg.(searchResultsMsg)
	require.True(t, ok)
	require.Len(t, res.results, 1)
	assert.Equal(t, "Investigate flaky test", res.results[0].Title)
	assert.Len(t, res.results[0].Matches, 2)

	short := performSearch(database, "r")().(searchResultsMsg)
	assert.Nil(t, short.results)

	filtered := performSearch(database, "retry source:codex")().(searchResultsMsg)
	assert.Empty(t, filtered.results)
}

func TestStaleSearchResultsDropped(t *testing.T) {
	m := New(nil, nil, "")
	m.mode = searchView
	m.searchInput.SetValue("retry")

	model, _ := m.Update(searchResultsMsg{query: "ret", results: []searchResult{{SessionID: "x"}}})
	assert.Nil(t, model.(Model).searchResults)

	model, _ = m.Update(searchResultsMsg{query: "retry", results: []searchResult{{SessionID: "y"}}})
	assert.Len(t, model.(Model).searchResults, 1)
}

func TestGroupResultsLimitsMatches(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var hits []search.Result
	for i := 0; i < 5; i++ {
		hits = append(hits, search.Result{SessionID: "a", Timestamp: base.Add(time.Duration(i) * time.Minute), Snippet: "x"})
	}
	hits = append(hits, search.Result{SessionID: "b", Timestamp: base})

	results := groupResults(hits)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].SessionID)
	assert.Len(t, results[0].Matches, maxMatchesPerEntry)
	assert.True(t, results[0].UpdatedAt.Equal(base.Add(4*time.Minute)))
}

func TestHighlightSnippet(t *testing.T) {
	out := highlightSnippet("the [retry] loop")
	assert.True(t, strings.HasPrefix(out, "the "))
	assert.True(t, strings.HasSuffix(out, " loop"))
	assert.Contains(t, out, "retry")
	assert.NotContains(t, out, "[")

	assert.Equal(t, "no [close", highlightSnippet("no [close"))
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		current, total int
		want           string
	}{
		{0, 0, ""},
		{5, 10, " 50% (5/10)"},
		{12, 10, "100% (10/10)"},
	}
	for _, tt := range tests {
		got := renderProgressBar(tt.current, tt.total, 60)
		assert.True(t, strings.HasSuffix(got, tt.want), "got %q", got)
	}
}

func TestSyncDoneStatus(t *testing.T) {
	assert.Equal(t, "Synced 0 new events", syncDoneMsg{}.status())
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "hello", firstLine("hello\nworld", 80))
	assert.Equal(t, "héll...", firstLine("héllo", 4))
}
