package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/agentrider/internal/core/models"
)

func at(sec int) time.Time {
	return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func TestCompute_CountsAndLatency(t *testing.T) {
	session := models.Session{ID: "s1", Source: models.SourceClaude, RawPayload: json.RawMessage(`{"model":"claude-sonnet-4-5-20250929"}`)}
	events := []models.Event{
		{Kind: models.KindMessage, Role: models.RoleUser, Content: "fix the parser", Timestamp: at(0)},
		{Kind: models.KindToolCall, Role: models.RoleAssistant, ToolName: "Read", ToolCallID: "c1",
			Content: models.ToolCallContent("Read", `{"file_path":"parser.go"}`), Timestamp: at(1)},
		{Kind: models.KindToolResult, ToolCallID: "c1", Content: "package parser", Timestamp: at(3)},
		{Kind: models.KindToolCall, Role: models.RoleAssistant, ToolName: "Edit", ToolCallID: "c2",
			Content: models.ToolCallContent("Edit", `{"file_path":"parser.go","old_string":"a\nb","new_string":"a\nb\nc"}`), Timestamp: at(4)},
		{Kind: models.KindToolResult, ToolCallID: "c2", IsError: true, Content: "permission denied", Timestamp: at(10)},
		{Kind: models.KindMessage, Role: models.RoleAssistant, Content: "done", Timestamp: at(20)},
		{Kind: models.KindError, Content: "rate limited", Timestamp: at(21)},
	}

	res := Compute(session, events, at(100))
	m := res.Metrics

	assert.Equal(t, 2, m.MessageCount)
	assert.Equal(t, 2, m.ToolCallCount)
	assert.Equal(t, 2, m.ToolResultCount)
	assert.Equal(t, 1, m.ErrorCount)
	assert.Equal(t, 1, m.UserCount)
	assert.Equal(t, 3, m.AssistantCount)
	assert.Equal(t, int64(21), m.DurationSeconds)
	assert.Equal(t, 1, m.ToolSuccess)
	assert.Equal(t, 1, m.ToolFailures)
	assert.Equal(t, int64(8000), m.TotalLatencyMs)
	assert.Equal(t, int64(2000), m.P50LatencyMs)
	assert.Equal(t, int64(6000), m.P95LatencyMs)
	assert.InDelta(t, 4000.0, m.AvgLatencyMs, 0.001)

	assert.Equal(t, 1, m.FilesTouched)
	assert.Equal(t, 3, m.LinesAdded)
	assert.Equal(t, 2, m.LinesRemoved)

	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "permission denied", res.ToolCalls[1].ErrorMessage)

	require.NotNil(t, m.EstimatedCost)
	assert.Equal(t, "anthropic", m.Provider)
	assert.Greater(t, *m.EstimatedCost, 0.0)
}

func TestCompute_ReportedUsageWins(t *testing.T) {
	session := models.Session{ID: "s1", RawPayload: json.RawMessage(`{"model":"gpt-5","prompt_tokens":1000,"completion_tokens":500,"cost":0.42}`)}
	events := []models.Event{{Kind: models.KindMessage, Role: models.RoleUser, Content: "hi", Timestamp: at(0)}}

	m := Compute(session, events, at(1)).Metrics
	assert.Equal(t, 1000, m.InputTokens)
	assert.Equal(t, 500, m.OutputTokens)
	require.NotNil(t, m.EstimatedCost)
	assert.InDelta(t, 0.42, *m.EstimatedCost, 1e-9)
}

func TestCompute_UnknownModelHasNullCost(t *testing.T) {
	session := models.Session{ID: "s1", RawPayload: json.RawMessage(`{"model":"mystery-9000"}`)}
	events := []models.Event{{Kind: models.KindMessage, Role: models.RoleUser, Content: "hi", Timestamp: at(0)}}

	m := Compute(session, events, at(1)).Metrics
	assert.Nil(t, m.EstimatedCost)
	assert.Equal(t, 1, m.InputTokens)
}

func TestExtractFileTouches_ApplyPatch(t *testing.T) {
	patch := "*** Begin Patch\n*** Update File: src/main.rs\n@@\n-old\n+new\n+more\n*** Add File: README.md\n+hello\n*** End Patch"
	args, err := json.Marshal(map[string]interface{}{"command": []string{"apply_patch", patch}})
	require.NoError(t, err)

	events := []models.Event{{Kind: models.KindToolCall, Content: models.ToolCallContent("shell", string(args)), Timestamp: at(0)}}
	touches := extractFileTouches("s1", events)

	require.Len(t, touches, 2)
	assert.Equal(t, "src/main.rs", touches[0].FilePath)
	assert.Equal(t, "edit", touches[0].Operation)
	assert.Equal(t, 2, touches[0].LinesAdded)
	assert.Equal(t, 1, touches[0].LinesRemoved)
	assert.Equal(t, "README.md", touches[1].FilePath)
	assert.Equal(t, "write", touches[1].Operation)
	assert.Equal(t, 1, touches[1].LinesAdded)
}

func TestPercentile(t *testing.T) {
	sorted := []int64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, int64(50), percentile(sorted, 50))
	assert.Equal(t, int64(100), percentile(sorted, 95))
	assert.Equal(t, int64(7), percentile([]int64{7}, 95))
}
