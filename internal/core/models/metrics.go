package models

import "time"

// SessionMetrics are derived per-session aggregates, recomputed from stored events
type SessionMetrics struct {
	SessionID       string
	MessageCount    int
	UserCount       int
	AssistantCount  int
	ToolCallCount   int
	ToolResultCount int
	ErrorCount      int
	SystemCount     int
	DurationSeconds int64
	ToolSuccess     int
	ToolFailures    int
	FilesTouched    int
	LinesAdded      int
	LinesRemoved    int
	Model           string
	Provider        string
	InputTokens     int
	OutputTokens    int
	EstimatedCost   *float64 // nil when no price or source cost is known
	TotalLatencyMs  int64
	AvgLatencyMs    float64
	P50LatencyMs    int64
	P95LatencyMs    int64
	ComputedAt      time.Time
}

// ToolCall is one tool invocation pairing derived from events
type ToolCall struct {
	SessionID    string
	CallID       string
	ToolName     string
	StartedAt    time.Time
	CompletedAt  *time.Time
	DurationMs   *int64
	Success      bool
	ErrorMessage string
}

// FileTouch records a file referenced by a tool call
type FileTouch struct {
	SessionID    string
	FilePath     string
	Operation    string // read, write, edit
	LinesAdded   int
	LinesRemoved int
	TouchedAt    time.Time
}
