package db

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/agentrider/internal/core/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func testSession(externalID string) models.Session {
	return models.Session{
		Source:     models.SourceClaude,
		ExternalID: externalID,
		Project:    "/work/demo",
		Title:      "Demo session",
		CreatedAt:  t0,
		UpdatedAt:  t0,
		RawPayload: json.RawMessage(`{"model":"claude-sonnet-4"}`),
	}
}

func testEvents(n int) []models.Event {
	events := make([]models.Event, n)
	for i := range events {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		events[i] = models.Event{
			Kind:      models.KindMessage,
			Role:      role,
			Content:   "message number " + string(rune('a'+i)),
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Seq:       i,
			NativeID:  "uuid-" + string(rune('a'+i)),
		}
	}
	return events
}

func TestNew(t *testing.T) {
	// Use temp file for test DB
	tmpfile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()
	_ = tmpfile.Close()

	database, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = database.Close() }()

	tables := []string{
		"sessions", "events", "session_metrics", "tool_calls", "files_touched",
		"ingest_checkpoints", "import_log", "events_fts", "events_fts_code", "sessions_fts",
	}
	for _, name := range tables {
		var count int
		err = database.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query schema: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected table %s to exist", name)
		}
	}
}

func TestNew_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	first, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = first.Close()

	// Schema creation and migrations are idempotent
	second, err := New(path)
	if err != nil {
		t.Fatalf("New() on existing database error = %v", err)
	}
	_ = second.Close()
}

func TestNew_WALMode(t *testing.T) {
	database := newTestDB(t)

	// Verify WAL mode is enabled
	var journalMode string
	err := database.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("Failed to query journal mode: %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("Expected WAL mode, got %s", journalMode)
	}
}

func TestNew_ForeignKeys(t *testing.T) {
	database := newTestDB(t)

	var fkEnabled int
	err := database.conn.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	if err != nil {
		t.Fatalf("Failed to query foreign keys: %v", err)
	}

	if fkEnabled != 1 {
		t.Errorf("Expected foreign keys enabled (1), got %d", fkEnabled)
	}
}

func TestMigrations_AddMissingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	database, err := New(path)
	require.NoError(t, err)

	// Simulate a database created before provider existed
	_, err = database.Exec(`ALTER TABLE session_metrics DROP COLUMN provider`)
	require.NoError(t, err)
	_ = database.Close()

	database, err = New(path)
	require.NoError(t, err)
	defer func() { _ = database.Close() }()

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('session_metrics') WHERE name = 'provider'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.FixedZone("X", 3600))
	got := ParseTime(FormatTime(ts))
	assert.True(t, got.Equal(ts), "got %v want %v", got, ts)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, ParseTime("not a time").IsZero())
}

func TestWriteBatch_InsertsAndIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	batch := func() Batch {
		return Batch{
			Sessions: []SessionWrite{{Session: testSession("s1"), Events: testEvents(4)}},
			Checkpoint: &Checkpoint{
				Source: models.SourceClaude, Artifact: "/logs/s1.jsonl", Marker: "m1", Offset: 100, Line: 4,
			},
		}
	}

	res, err := database.WriteBatch(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, 4, res.EventsWritten)
	require.Len(t, res.SessionIDs, 1)

	// Same records again: nothing changes
	res, err = database.WriteBatch(ctx, batch())
	require.NoError(t, err)
	assert.Equal(t, 0, res.EventsWritten)

	n, err := database.CountEvents("")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	sessions, err := database.CountSessions(models.SourceClaude)
	require.NoError(t, err)
	assert.Equal(t, 1, sessions)

	cp, err := database.GetCheckpoint(models.SourceClaude, "/logs/s1.jsonl")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "m1", cp.Marker)
	assert.Equal(t, int64(100), cp.Offset)
	assert.Equal(t, 4, cp.Line)
}

func TestWriteBatch_FillsFingerprintAndSessionID(t *testing.T) {
	database := newTestDB(t)

	b := Batch{Sessions: []SessionWrite{{Session: testSession("s1"), Events: testEvents(2)}}}
	_, err := database.WriteBatch(context.Background(), b)
	require.NoError(t, err)

	sessionID := b.Sessions[0].Session.ID
	require.NotEmpty(t, sessionID)
	events, err := database.GetEvents(sessionID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	want := models.Fingerprint(models.SourceClaude, "s1", "uuid-a", 0, nil)
	assert.Equal(t, want, events[0].Fingerprint)
	assert.Equal(t, sessionID, events[0].SessionID)
}

func TestWriteBatch_MergesSession(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	first := testSession("s1")
	first.UpdatedAt = t0.Add(time.Hour)
	_, err := database.WriteBatch(ctx, Batch{Sessions: []SessionWrite{{Session: first}}})
	require.NoError(t, err)

	// A later partial draft: no title, older updated_at, extra payload key
	second := testSession("s1")
	second.Title = ""
	second.CreatedAt = t0.Add(-time.Hour)
	second.UpdatedAt = t0
	second.RawPayload = json.RawMessage(`{"cost":0.5}`)
	_, err = database.WriteBatch(ctx, Batch{Sessions: []SessionWrite{{Session: second}}})
	require.NoError(t, err)

	s, err := database.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "Demo session", s.Title)
	assert.True(t, s.CreatedAt.Equal(t0.Add(-time.Hour)))
	assert.True(t, s.UpdatedAt.Equal(t0.Add(time.Hour)), "updated_at must not move backwards")

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(s.RawPayload, &payload))
	assert.Equal(t, "claude-sonnet-4", payload["model"])
	assert.Equal(t, 0.5, payload["cost"])
}

func TestWriteBatch_UpdatedAtFollowsEvents(t *testing.T) {
	database := newTestDB(t)

	b := Batch{Sessions: []SessionWrite{{Session: testSession("s1"), Events: testEvents(3)}}}
	_, err := database.WriteBatch(context.Background(), b)
	require.NoError(t, err)

	s, err := database.GetSession("s1")
	require.NoError(t, err)
	assert.True(t, s.UpdatedAt.Equal(t0.Add(2*time.Minute)), "got %v", s.UpdatedAt)
}

func TestWriteBatch_FailureLeavesCheckpoint(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := database.WriteBatch(ctx, Batch{
		Sessions:   []SessionWrite{{Session: testSession("s1"), Events: testEvents(1)}},
		Checkpoint: &Checkpoint{Source: models.SourceClaude, Artifact: "a", Marker: "old"},
	})
	require.NoError(t, err)

	bad := testEvents(2)
	bad[1].Kind = "bogus"
	_, err = database.WriteBatch(ctx, Batch{
		Sessions:   []SessionWrite{{Session: testSession("s1"), Events: bad}},
		Checkpoint: &Checkpoint{Source: models.SourceClaude, Artifact: "a", Marker: "new"},
	})
	require.Error(t, err)
	var we *WriteError
	assert.True(t, errors.As(err, &we))

	cp, err := database.GetCheckpoint(models.SourceClaude, "a")
	require.NoError(t, err)
	assert.Equal(t, "old", cp.Marker)

	n, err := database.CountEvents("")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rolled back batch must not leave events behind")
}

func TestWriteBatch_ComputesMetrics(t *testing.T) {
	database := newTestDB(t)

	events := testEvents(2)
	events = append(events,
		models.Event{
			Kind: models.KindToolCall, Role: models.RoleAssistant, Seq: 2, NativeID: "call",
			Content:   models.ToolCallContent("Read", `{"file_path":"/work/demo/main.go"}`),
			Timestamp: t0.Add(3 * time.Minute), ToolName: "Read", ToolCallID: "c1",
		},
		models.Event{
			Kind: models.KindToolResult, Role: models.RoleUser, Seq: 3, NativeID: "result",
			Content: "package main", Timestamp: t0.Add(3*time.Minute + 1500*time.Millisecond), ToolCallID: "c1",
		},
	)
	b := Batch{Sessions: []SessionWrite{{Session: testSession("s1"), Events: events}}}
	_, err := database.WriteBatch(context.Background(), b)
	require.NoError(t, err)

	m, err := database.GetSessionMetrics(b.Sessions[0].Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.MessageCount)
	assert.Equal(t, 1, m.ToolCallCount)
	assert.Equal(t, 1, m.ToolResultCount)
	assert.Equal(t, 1, m.ToolSuccess)
	assert.Equal(t, 1, m.FilesTouched)
	assert.Equal(t, int64(1500), m.TotalLatencyMs)
	assert.Equal(t, "claude-sonnet-4", m.Model)
	assert.NotNil(t, m.EstimatedCost)

	_, err = database.GetSessionMetrics("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecomputeAll(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := database.WriteBatch(ctx, Batch{Sessions: []SessionWrite{{Session: testSession(id), Events: testEvents(2)}}})
		require.NoError(t, err)
	}

	var calls int
	n, err := database.RecomputeAll(ctx, func(done, total int) {
		calls++
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestQuerySessions_OrderAndFilter(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"old", "mid", "new"} {
		s := testSession(id)
		s.UpdatedAt = t0.Add(time.Duration(i) * time.Hour)
		if id == "mid" {
			s.Source = models.SourceCodex
			s.Project = "/work/other"
		}
		_, err := database.WriteBatch(ctx, Batch{Sessions: []SessionWrite{{Session: s}}})
		require.NoError(t, err)
	}

	rows, err := database.QuerySessions(SessionFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "new", rows[0].ExternalID)
	assert.Equal(t, "mid", rows[1].ExternalID)
	assert.Equal(t, "old", rows[2].ExternalID)

	rows, err = database.QuerySessions(SessionFilter{Source: models.SourceCodex})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "mid", rows[0].ExternalID)

	rows, err = database.QuerySessions(SessionFilter{Project: "demo", Since: t0.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].ExternalID)

	rows, err = database.QuerySessions(SessionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "mid", rows[0].ExternalID)
}

func TestGetSession_Resolution(t *testing.T) {
	database := newTestDB(t)
	b := Batch{Sessions: []SessionWrite{{Session: testSession("external-1"), Events: testEvents(2)}}}
	_, err := database.WriteBatch(context.Background(), b)
	require.NoError(t, err)
	id := b.Sessions[0].Session.ID

	for _, ref := range []string{id, "external-1", id[:8]} {
		s, err := database.GetSession(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, id, s.ID)
	}

	_, err = database.GetSession("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	detail, err := database.ShowSession("external-1")
	require.NoError(t, err)
	assert.Len(t, detail.Events, 2)
	assert.NotNil(t, detail.Metrics)
}

func TestCascadeDelete(t *testing.T) {
	database := newTestDB(t)
	b := Batch{Sessions: []SessionWrite{{Session: testSession("s1"), Events: testEvents(3)}}}
	_, err := database.WriteBatch(context.Background(), b)
	require.NoError(t, err)

	// Delete session
	_, err = database.Exec("DELETE FROM sessions WHERE id = ?", b.Sessions[0].Session.ID)
	if err != nil {
		t.Fatalf("Failed to delete session: %v", err)
	}

	for _, table := range []string{"events", "session_metrics", "events_fts", "sessions_fts"} {
		var n int
		if err := database.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("Failed to count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("Expected 0 rows in %s after cascade delete, got %d", table, n)
		}
	}
}

func TestForeignKeyConstraint(t *testing.T) {
	database := newTestDB(t)

	// Try to insert an event with invalid session_id
	_, err := database.Exec(`
		INSERT INTO events (session_id, fingerprint, kind, timestamp)
		VALUES (?, ?, ?, ?)
	`, "missing", "fp", "message", FormatTime(t0))

	if err == nil {
		t.Error("Expected foreign key constraint error, got nil")
	}
}

func TestImportLog(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.RecordImport(ImportRun{Source: "claude", StartedAt: t0, Status: "success", EventsImported: 3}))
	require.NoError(t, database.RecordImport(ImportRun{Source: "claude", StartedAt: t0.Add(time.Minute), Status: "partial", Failed: 1, Duration: 2 * time.Second}))
	require.NoError(t, database.RecordImport(ImportRun{Source: "codex", StartedAt: t0, Status: "failed", ErrorMessage: "boom"}))

	runs, err := database.LastImports()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "claude", runs[0].Source)
	assert.Equal(t, "partial", runs[0].Status)
	assert.Equal(t, 2*time.Second, runs[0].Duration)
	assert.Equal(t, "boom", runs[1].ErrorMessage)
}

func TestListCheckpoints(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for _, artifact := range []string{"b", "a"} {
		_, err := database.WriteBatch(ctx, Batch{Checkpoint: &Checkpoint{Source: models.SourceCodex, Artifact: artifact, Marker: "x"}})
		require.NoError(t, err)
	}
	cps, err := database.ListCheckpoints(models.SourceCodex)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "a", cps[0].Artifact)

	missing, err := database.GetCheckpoint(models.SourceClaude, "a")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReadsDoNotWaitForWrites(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	_, err := database.WriteBatch(ctx, Batch{Sessions: []SessionWrite{{Session: testSession("s1"), Events: testEvents(2)}}})
	require.NoError(t, err)

	tx, err := database.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	_, err = tx.Exec(`UPDATE sessions SET title = 'uncommitted'`)
	require.NoError(t, err)

	type result struct {
		rows []SessionRow
		err  error
	}
	done := make(chan result, 1)
	go func() {
		rows, err := database.QuerySessions(SessionFilter{})
		done <- result{rows, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Len(t, r.rows, 1)
		assert.Equal(t, "Demo session", r.rows[0].Title, "readers see the last committed state")
		assert.Equal(t, 2, r.rows[0].EventCount)
	case <-time.After(2 * time.Second):
		t.Fatal("read blocked behind an open write transaction")
	}
}

func TestReadPoolIsQueryOnly(t *testing.T) {
	database := newTestDB(t)
	_, err := database.reader.Exec(`DELETE FROM sessions`)
	assert.Error(t, err)
}
