// Package metrics derives per-session aggregates from canonical events.
package metrics

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// Result is everything derived from one session's events
type Result struct {
	Metrics   models.SessionMetrics
	ToolCalls []models.ToolCall
	Files     []models.FileTouch
}

// reported holds usage figures an adapter copied from the source into the session payload
type reported struct {
	Model            string   `json:"model"`
	Provider         string   `json:"provider"`
	PromptTokens     *int     `json:"prompt_tokens"`
	CompletionTokens *int     `json:"completion_tokens"`
	Cost             *float64 `json:"cost"`
}

// Compute fully recomputes metrics for a session from its ordered events
func Compute(session models.Session, events []models.Event, now time.Time) Result {
	m := models.SessionMetrics{SessionID: session.ID, ComputedAt: now}

	var rep reported
	if len(session.RawPayload) > 0 {
		_ = json.Unmarshal(session.RawPayload, &rep)
	}
	m.Model = rep.Model
	m.Provider = rep.Provider

	var first, last time.Time
	var inputTokens, outputTokens int
	for _, e := range events {
		if first.IsZero() || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}

		switch e.Kind {
		case models.KindMessage:
			m.MessageCount++
		case models.KindToolCall:
			m.ToolCallCount++
		case models.KindToolResult:
			m.ToolResultCount++
		case models.KindError:
			m.ErrorCount++
		case models.KindSystem:
			m.SystemCount++
		}

		switch e.Role {
		case models.RoleUser:
			m.UserCount++
		case models.RoleAssistant:
			m.AssistantCount++
		}

		tokens := EstimateTokens(e.Content)
		if e.Role == models.RoleAssistant || e.Kind == models.KindToolCall {
			outputTokens += tokens
		} else {
			inputTokens += tokens
		}
	}
	if !first.IsZero() {
		m.DurationSeconds = int64(last.Sub(first).Seconds())
	}

	m.InputTokens = inputTokens
	m.OutputTokens = outputTokens
	if rep.PromptTokens != nil {
		m.InputTokens = *rep.PromptTokens
	}
	if rep.CompletionTokens != nil {
		m.OutputTokens = *rep.CompletionTokens
	}

	switch {
	case rep.Cost != nil:
		cost := *rep.Cost
		m.EstimatedCost = &cost
	case m.Model != "":
		if pricing, ok := Lookup(m.Model); ok {
			cost := pricing.Cost(m.InputTokens, m.OutputTokens)
			m.EstimatedCost = &cost
			if m.Provider == "" {
				m.Provider = pricing.Provider
			}
		}
	}

	calls := pairToolCalls(session.ID, events)
	var durations []int64
	for _, c := range calls {
		if c.Success {
			m.ToolSuccess++
		} else {
			m.ToolFailures++
		}
		if c.DurationMs != nil {
			durations = append(durations, *c.DurationMs)
		}
	}
	applyLatency(&m, durations)

	files := extractFileTouches(session.ID, events)
	seen := make(map[string]bool)
	for _, f := range files {
		seen[f.FilePath] = true
		m.LinesAdded += f.LinesAdded
		m.LinesRemoved += f.LinesRemoved
	}
	m.FilesTouched = len(seen)

	return Result{Metrics: m, ToolCalls: calls, Files: files}
}

// pairToolCalls matches tool_call events to their results by call id
func pairToolCalls(sessionID string, events []models.Event) []models.ToolCall {
	results := make(map[string]models.Event)
	for _, e := range events {
		if e.Kind == models.KindToolResult && e.ToolCallID != "" {
			if _, ok := results[e.ToolCallID]; !ok {
				results[e.ToolCallID] = e
			}
		}
	}

	var calls []models.ToolCall
	for _, e := range events {
		if e.Kind != models.KindToolCall {
			continue
		}
		name := e.ToolName
		if name == "" {
			name, _, _ = models.SplitToolCallContent(e.Content)
		}
		if name == "" {
			name = "unknown"
		}

		call := models.ToolCall{
			SessionID: sessionID,
			CallID:    e.ToolCallID,
			ToolName:  name,
			StartedAt: e.Timestamp,
			Success:   !e.IsError,
		}
		if e.IsError {
			call.ErrorMessage = truncate(e.Content, 500)
		}
		if res, ok := results[e.ToolCallID]; ok && e.ToolCallID != "" {
			completed := res.Timestamp
			call.CompletedAt = &completed
			if d := res.Timestamp.Sub(e.Timestamp).Milliseconds(); d >= 0 {
				call.DurationMs = &d
			}
			if res.IsError {
				call.Success = false
				call.ErrorMessage = truncate(res.Content, 500)
			}
		}
		calls = append(calls, call)
	}
	return calls
}

// applyLatency fills total, mean and nearest-rank percentiles
func applyLatency(m *models.SessionMetrics, durations []int64) {
	if len(durations) == 0 {
		return
	}
	sorted := append([]int64(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total int64
	for _, d := range sorted {
		total += d
	}
	m.TotalLatencyMs = total
	m.AvgLatencyMs = float64(total) / float64(len(sorted))
	m.P50LatencyMs = percentile(sorted, 50)
	m.P95LatencyMs = percentile(sorted, 95)
}

func percentile(sorted []int64, p int) int64 {
	rank := (p*len(sorted) + 99) / 100 // ceil(p/100 * n)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
