package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/agentrider/internal/core/adapters"
	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/models"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func claudeLine(uuid string, ts time.Time, role, text string) string {
	return fmt.Sprintf(`{"type":%q,"uuid":%q,"timestamp":%q,"message":{"role":%q,"content":%q}}`,
		role, uuid, ts.Format(time.RFC3339), role, text)
}

// writeClaudeSession writes n message lines starting at base, one minute apart
func writeClaudeSession(t *testing.T, root, project, id string, base time.Time, n int, extra ...string) string {
	t.Helper()
	var lines []string
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		lines = append(lines, claudeLine(fmt.Sprintf("%s-%d", id, i), base.Add(time.Duration(i)*time.Minute), role, fmt.Sprintf("message %d of %s", i, id)))
	}
	lines = append(lines, extra...)
	path := filepath.Join(root, project, id+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func countEvents(t *testing.T, database *db.DB) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n))
	return n
}

var (
	morning = time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)
	noon    = time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
)

func scenario(t *testing.T) (*Importer, *db.DB, string) {
	t.Helper()
	root := t.TempDir()
	// 10 lines, one of them malformed
	writeClaudeSession(t, root, "-work-alpha", "alpha", morning, 9, `{"type":"user","uuid":`)
	writeClaudeSession(t, root, "-work-beta", "beta", noon, 5)

	database := newTestDB(t)
	imp := New(database, adapters.NewRegistry(adapters.NewClaude(root, nil)), nil)
	return imp, database, root
}

func TestIngestOne_Scenario(t *testing.T) {
	imp, database, _ := scenario(t)

	sum := imp.IngestOne(context.Background(), models.SourceClaude, Options{})
	require.NoError(t, sum.Err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 14, sum.Imported)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, 2, sum.Sessions)
	assert.Equal(t, "partial", sum.Status())

	rows, err := database.QuerySessions(db.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "beta", rows[0].ExternalID, "most recently updated first")
	assert.Equal(t, 5, rows[0].EventCount)
	assert.Equal(t, "alpha", rows[1].ExternalID)
	assert.Equal(t, 9, rows[1].EventCount)

	metrics, err := database.GetSessionMetrics(rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 5, metrics.MessageCount)
}

func TestIngestOne_Idempotent(t *testing.T) {
	imp, database, _ := scenario(t)
	ctx := context.Background()

	first := imp.IngestOne(ctx, models.SourceClaude, Options{})
	require.NoError(t, first.Err)

	second := imp.IngestOne(ctx, models.SourceClaude, Options{})
	require.NoError(t, second.Err)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 0, second.Failed)
	assert.Equal(t, 14, countEvents(t, database))
}

func TestIngestOne_FullReingestDoesNotDuplicate(t *testing.T) {
	imp, database, _ := scenario(t)
	ctx := context.Background()

	require.NoError(t, imp.IngestOne(ctx, models.SourceClaude, Options{}).Err)
	full := imp.IngestOne(ctx, models.SourceClaude, Options{Full: true})
	require.NoError(t, full.Err)
	assert.Equal(t, 0, full.Skipped)
	assert.Equal(t, 0, full.Imported, "unchanged events are not rewritten")
	assert.Equal(t, 14, countEvents(t, database))

	var sessions int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions))
	assert.Equal(t, 2, sessions)
}

func TestIngestOne_Incremental(t *testing.T) {
	imp, database, root := scenario(t)
	ctx := context.Background()
	require.NoError(t, imp.IngestOne(ctx, models.SourceClaude, Options{}).Err)

	path := filepath.Join(root, "-work-beta", "beta.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(claudeLine("beta-5", noon.Add(time.Hour), "user", "one more") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sum := imp.IngestOne(ctx, models.SourceClaude, Options{})
	require.NoError(t, sum.Err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Imported)
	assert.Equal(t, 15, countEvents(t, database))

	cp, err := database.GetCheckpoint(models.SourceClaude, path)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 6, cp.Line)
}

// fakeAdapter serves canned artifacts and results
type fakeAdapter struct {
	source      models.Source
	artifacts   []adapters.Artifact
	discoverErr error
	parse       func(adapters.Artifact, adapters.Cursor) (*adapters.ParseResult, error)
	parses      int
}

func (f *fakeAdapter) Source() models.Source { return f.source }

func (f *fakeAdapter) Discover(ctx context.Context) ([]adapters.Artifact, error) {
	return f.artifacts, f.discoverErr
}

func (f *fakeAdapter) Parse(ctx context.Context, a adapters.Artifact, c adapters.Cursor) (*adapters.ParseResult, error) {
	f.parses++
	return f.parse(a, c)
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) models.SourceHealth {
	return models.SourceHealth{Source: f.source, Status: models.HealthHealthy}
}

func draft(externalID string, kind models.EventKind) adapters.SessionDraft {
	return adapters.SessionDraft{
		Session: models.Session{Source: models.SourceCrush, ExternalID: externalID, CreatedAt: noon, UpdatedAt: noon},
		Events:  []models.Event{{Kind: kind, Role: models.RoleUser, Content: "hello", Timestamp: noon, NativeID: externalID + "-1"}},
	}
}

func TestIngestOne_WriteFailureKeepsCheckpoint(t *testing.T) {
	database := newTestDB(t)
	fake := &fakeAdapter{
		source: models.SourceCrush,
		artifacts: []adapters.Artifact{
			{Source: models.SourceCrush, ID: "bad.db", Marker: "m1", Kind: adapters.KindDatabase},
			{Source: models.SourceCrush, ID: "good.db", Marker: "m1", Kind: adapters.KindDatabase},
		},
		parse: func(a adapters.Artifact, _ adapters.Cursor) (*adapters.ParseResult, error) {
			if a.ID == "bad.db" {
				return &adapters.ParseResult{Sessions: []adapters.SessionDraft{draft("bad", models.EventKind("bogus"))}}, nil
			}
			return &adapters.ParseResult{Sessions: []adapters.SessionDraft{draft("good", models.KindMessage)}}, nil
		},
	}
	imp := New(database, adapters.NewRegistry(fake), nil)

	sum := imp.IngestOne(context.Background(), models.SourceCrush, Options{})
	require.NoError(t, sum.Err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Imported)

	cp, err := database.GetCheckpoint(models.SourceCrush, "bad.db")
	require.NoError(t, err)
	assert.Nil(t, cp, "a failed write must not advance the checkpoint")

	cp, err = database.GetCheckpoint(models.SourceCrush, "good.db")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "m1", cp.Marker)

	_, err = database.GetSession("bad")
	assert.True(t, errors.Is(err, db.ErrNotFound), "rolled back session must not exist, got %v", err)

	// The failed artifact is retried, the good one is skipped
	imp.IngestOne(context.Background(), models.SourceCrush, Options{})
	assert.Equal(t, 3, fake.parses)
}

func TestIngestOne_ParseErrorAndVanished(t *testing.T) {
	database := newTestDB(t)
	fake := &fakeAdapter{
		source: models.SourceCrush,
		artifacts: []adapters.Artifact{
			{Source: models.SourceCrush, ID: "drift.db", Marker: "m", Kind: adapters.KindDatabase},
			{Source: models.SourceCrush, ID: "gone.db", Marker: "m", Kind: adapters.KindDatabase},
		},
		parse: func(a adapters.Artifact, _ adapters.Cursor) (*adapters.ParseResult, error) {
			if a.ID == "drift.db" {
				return nil, &adapters.SchemaDriftError{Table: "messages", Required: true}
			}
			return nil, fmt.Errorf("open: %w", adapters.ErrArtifactGone)
		},
	}
	imp := New(database, adapters.NewRegistry(fake), nil)

	sum := imp.IngestOne(context.Background(), models.SourceCrush, Options{})
	require.NoError(t, sum.Err)
	assert.Equal(t, 1, sum.Failed, "a vanished artifact is not a failure")
	assert.Equal(t, 2, sum.Total)
}

func TestIngestAll(t *testing.T) {
	imp, _, root := scenario(t)
	missing := adapters.NewCodex(filepath.Join(t.TempDir(), "absent"), nil)
	imp.registry = adapters.NewRegistry(adapters.NewClaude(root, nil), missing)

	var out bytes.Buffer
	summaries, err := imp.IngestAll(context.Background(), nil, Options{Progress: NewProgressReporter(&out)})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, models.SourceClaude, summaries[0].Source)
	assert.Equal(t, 14, summaries[0].Imported)

	assert.Equal(t, models.SourceCodex, summaries[1].Source)
	var de *adapters.DiscoveryError
	assert.True(t, errors.As(summaries[1].Err, &de))
	assert.Equal(t, 1, summaries[1].Failed)

	assert.Contains(t, out.String(), "Completed")

	runs, err := imp.db.LastImports()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestIngestAll_NoSources(t *testing.T) {
	database := newTestDB(t)
	dir := t.TempDir()
	imp := New(database, adapters.NewRegistry(
		adapters.NewClaude(filepath.Join(dir, "claude"), nil),
		adapters.NewCodex(filepath.Join(dir, "codex"), nil),
	), nil)

	summaries, err := imp.IngestAll(context.Background(), nil, Options{})
	assert.True(t, errors.Is(err, ErrNoSources), "got %v", err)
	assert.Len(t, summaries, 2)
}

func TestHealthAndRecompute(t *testing.T) {
	imp, _, _ := scenario(t)
	ctx := context.Background()

	health := imp.Health(ctx, nil)
	require.Len(t, health, 1)
	assert.Equal(t, models.HealthHealthy, health[0].Status)

	unknown := imp.Health(ctx, []models.Source{models.SourceCrush})
	assert.Equal(t, models.HealthUnknown, unknown[0].Status)

	require.NoError(t, imp.IngestOne(ctx, models.SourceClaude, Options{}).Err)
	n, err := imp.Recompute(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestOne_LastRecordWithoutNewline(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "-work-gamma", "gamma.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := claudeLine("g-0", noon, "user", "first") + "\n" + claudeLine("g-1", noon.Add(time.Minute), "assistant", "second")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	database := newTestDB(t)
	imp := New(database, adapters.NewRegistry(adapters.NewClaude(root, nil)), nil)
	ctx := context.Background()

	first := imp.IngestOne(ctx, models.SourceClaude, Options{})
	require.NoError(t, first.Err)
	assert.Equal(t, 2, first.Imported)
	assert.Equal(t, 2, countEvents(t, database))

	second := imp.IngestOne(ctx, models.SourceClaude, Options{})
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Imported)
}

func TestIngestOne_StaleFragmentIsFlushed(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "-work-delta", "delta.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := claudeLine("d-0", noon, "user", "first") + "\n" + `{"type":"assistant","uuid":"d-1",`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	database := newTestDB(t)
	imp := New(database, adapters.NewRegistry(adapters.NewClaude(root, nil)), nil)
	ctx := context.Background()

	first := imp.IngestOne(ctx, models.SourceClaude, Options{})
	assert.Equal(t, 1, first.Imported)
	assert.Equal(t, 0, first.Failed, "the fragment may still be completed")
	assert.Equal(t, 0, first.Skipped)

	// Nothing changed since: the fragment is read and counted as malformed
	second := imp.IngestOne(ctx, models.SourceClaude, Options{})
	assert.Equal(t, 0, second.Skipped)
	assert.Equal(t, 1, second.Failed)

	third := imp.IngestOne(ctx, models.SourceClaude, Options{})
	assert.Equal(t, 1, third.Skipped)
	assert.Equal(t, 1, countEvents(t, database))

	cp, err := database.GetCheckpoint(models.SourceClaude, path)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(len(content)), cp.Offset)
}

func TestIngestOne_DropsInvalidRecords(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "-work-eps", ".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(claudeLine("e-0", noon, "user", "nameless")+"\n"), 0o644))

	database := newTestDB(t)
	imp := New(database, adapters.NewRegistry(adapters.NewClaude(root, nil)), nil)

	sum := imp.IngestOne(context.Background(), models.SourceClaude, Options{})
	assert.Equal(t, 0, sum.Imported)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, "partial", sum.Status())
	assert.Equal(t, 0, countEvents(t, database))
}
