package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/agentrider/internal/core/models"
)

var claudeLines = []string{
	`{"type":"summary","summary":"Fix flaky test","leafUuid":"u3"}`,
	`{"type":"user","uuid":"u1","sessionId":"sess-1","cwd":"/work/demo","timestamp":"2025-01-09T12:00:00Z","message":{"role":"user","content":"Why does the test fail?"}}`,
	`{"type":"assistant","uuid":"u2","parentUuid":"u1","timestamp":"2025-01-09T12:00:05Z","message":{"role":"assistant","model":"claude-sonnet-4","content":[{"type":"thinking","thinking":"check the fixture"},{"type":"text","text":"Let me look."},{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/work/demo/a_test.go"}}]}}`,
	`{"type":"user","uuid":"u3","parentUuid":"u2","timestamp":"2025-01-09T12:00:06Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"no such file","is_error":true}]}}`,
	`{"type":"file-history-snapshot","messageId":"u3"}`,
	`{"type":"user","uuid":"u4",`,
	`{"type":"user","uuid":"u5","timestamp":"not-a-time","message":{"role":"user","content":"lost"}}`,
	`{"type":"progress","uuid":"u6","timestamp":"2025-01-09T12:00:07Z","data":"42%"}`,
}

func newClaudeFixture(t *testing.T, content string) (*Claude, Artifact) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "-work-demo", "sess-1.jsonl")
	writeFile(t, path, content)

	c := NewClaude(root, nil)
	artifacts, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	return c, artifacts[0]
}

func TestClaudeDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj", "a.jsonl"), "{}\n")
	writeFile(t, filepath.Join(root, "proj", "notes.txt"), "x")
	writeFile(t, filepath.Join(root, "stray.jsonl"), "{}\n")

	artifacts, err := NewClaude(root, nil).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	a := artifacts[0]
	assert.Equal(t, models.SourceClaude, a.Source)
	assert.Equal(t, KindFile, a.Kind)
	assert.Equal(t, "proj", a.Project)
	assert.Equal(t, a.Path, a.ID)
	assert.NotEmpty(t, a.Marker)
}

func TestClaudeDiscover_MissingRoot(t *testing.T) {
	_, err := NewClaude(filepath.Join(t.TempDir(), "nope"), nil).Discover(context.Background())
	var de *DiscoveryError
	require.True(t, errors.As(err, &de), "want DiscoveryError, got %v", err)
	assert.Equal(t, models.SourceClaude, de.Source)
}

func TestClaudeParse(t *testing.T) {
	c, artifact := newClaudeFixture(t, jsonl(claudeLines...))

	result, err := c.Parse(context.Background(), artifact, Cursor{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	assert.False(t, result.Partial)
	assert.Equal(t, len(claudeLines), result.Cursor.Line)
	require.Len(t, result.Sessions, 1)

	s := result.Sessions[0].Session
	assert.Equal(t, "sess-1", s.ExternalID)
	assert.Equal(t, "Fix flaky test", s.Title)
	assert.Equal(t, "/work/demo", s.Project)
	assert.Equal(t, "2025-01-09T12:00:00Z", s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "2025-01-09T12:00:07Z", s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))

	var meta map[string]any
	require.NoError(t, json.Unmarshal(s.RawPayload, &meta))
	assert.Equal(t, "claude-sonnet-4", meta["model"])

	events := result.Sessions[0].Events
	require.Len(t, events, 6)

	assert.Equal(t, models.KindMessage, events[0].Kind)
	assert.Equal(t, models.RoleUser, events[0].Role)
	assert.Equal(t, "u1", events[0].NativeID)

	assert.Equal(t, "[Thinking] check the fixture", events[1].Content)
	assert.Equal(t, "u2", events[1].NativeID)
	assert.Equal(t, "Let me look.", events[2].Content)
	assert.Equal(t, "u2:1", events[2].NativeID)

	assert.Equal(t, models.KindToolCall, events[3].Kind)
	assert.Equal(t, "Read", events[3].ToolName)
	assert.Equal(t, "toolu_1", events[3].ToolCallID)
	assert.Equal(t, `Called Read with arguments: {"file_path":"/work/demo/a_test.go"}`, events[3].Content)

	assert.Equal(t, models.KindToolResult, events[4].Kind)
	assert.True(t, events[4].IsError)
	assert.Equal(t, "no such file", events[4].Content)

	// Unknown record types are kept verbatim as system events
	assert.Equal(t, models.KindSystem, events[5].Kind)
	assert.Contains(t, events[5].Content, `"progress"`)

	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].Seq, events[i].Seq)
	}
}

func TestClaudeParse_TrailingPartialLine(t *testing.T) {
	complete := claudeLines[1]
	half := `{"type":"assistant","uuid":"u2","timestamp":"2025-01-09T12:00:05Z",`
	c, artifact := newClaudeFixture(t, complete+"\n"+half)

	result, err := c.Parse(context.Background(), artifact, Cursor{})
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Sessions, 1)
	require.Len(t, result.Sessions[0].Events, 1)
	assert.Equal(t, int64(len(complete)+1), result.Cursor.Offset)

	appendFile(t, artifact.Path, `"message":{"role":"assistant","content":"done"}}`+"\n")

	result, err = c.Parse(context.Background(), artifact, result.Cursor)
	require.NoError(t, err)
	assert.False(t, result.Partial)
	require.Len(t, result.Sessions, 1)
	require.Len(t, result.Sessions[0].Events, 1)
	assert.Equal(t, "done", result.Sessions[0].Events[0].Content)
	assert.Equal(t, "u2", result.Sessions[0].Events[0].NativeID)
	assert.Equal(t, 2, result.Cursor.Line)
}

func TestClaudeParse_TruncatedFileRestarts(t *testing.T) {
	c, artifact := newClaudeFixture(t, jsonl(claudeLines[1]))

	result, err := c.Parse(context.Background(), artifact, Cursor{Offset: 1 << 20, Line: 500})
	require.NoError(t, err)
	require.Len(t, result.Sessions, 1)
	assert.Len(t, result.Sessions[0].Events, 1)
	assert.Equal(t, 1, result.Cursor.Line)
}

func TestClaudeParse_VanishedFile(t *testing.T) {
	c, artifact := newClaudeFixture(t, jsonl(claudeLines[1]))
	require.NoError(t, os.Remove(artifact.Path))

	_, err := c.Parse(context.Background(), artifact, Cursor{})
	assert.True(t, errors.Is(err, ErrArtifactGone), "got %v", err)
}

func TestClaudeParse_OnlyMetadata(t *testing.T) {
	c, artifact := newClaudeFixture(t, jsonl(claudeLines[4]))

	result, err := c.Parse(context.Background(), artifact, Cursor{})
	require.NoError(t, err)
	assert.Empty(t, result.Sessions)
	assert.Equal(t, 0, result.Failed)
}

func TestClaudeHealthCheck(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj", "a.jsonl"), "{}\n")

	h := NewClaude(root, nil).HealthCheck(context.Background())
	assert.Equal(t, models.HealthHealthy, h.Status)

	h = NewClaude(filepath.Join(root, "missing"), nil).HealthCheck(context.Background())
	assert.Equal(t, models.HealthUnhealthy, h.Status)
}

func TestClaudeParse_TrailingCompleteRecord(t *testing.T) {
	content := claudeLines[1] + "\n" + claudeLines[2]
	c, artifact := newClaudeFixture(t, content)

	result, err := c.Parse(context.Background(), artifact, Cursor{})
	require.NoError(t, err)
	assert.False(t, result.Partial)
	require.Len(t, result.Sessions, 1)
	assert.Len(t, result.Sessions[0].Events, 4)
	assert.Equal(t, int64(len(content)), result.Cursor.Offset)
	assert.Equal(t, 2, result.Cursor.Line)
}

func TestClaudeParse_FlushConsumesFragment(t *testing.T) {
	half := `{"type":"assistant","uuid":"u2",`
	c, artifact := newClaudeFixture(t, claudeLines[1]+"\n"+half)

	result, err := c.Parse(context.Background(), artifact, Cursor{Offset: int64(len(claudeLines[1]) + 1), Line: 1, Flush: true})
	require.NoError(t, err)
	assert.False(t, result.Partial)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.Sessions)
	assert.Equal(t, 2, result.Cursor.Line)
}

func TestClaudeParse_DropsInvalidSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proj", ".jsonl")
	writeFile(t, path, jsonl(claudeLines[1]))

	result, err := NewClaude(filepath.Dir(filepath.Dir(path)), nil).Parse(context.Background(),
		Artifact{Source: models.SourceClaude, ID: path, Path: path, Kind: KindFile}, Cursor{})
	require.NoError(t, err)
	assert.Empty(t, result.Sessions, "a session without an external id is dropped")
	assert.Equal(t, 1, result.Failed)
}
