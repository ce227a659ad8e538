package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/internal/core/search"
)

// SessionDoc is the JSON shape of an exported session
type SessionDoc struct {
	ID         string          `json:"id"`
	Source     models.Source   `json:"source"`
	ExternalID string          `json:"external_id"`
	Project    string          `json:"project,omitempty"`
	Title      string          `json:"title,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	Metrics    *MetricsDoc     `json:"metrics,omitempty"`
	Events     []EventDoc      `json:"events"`
}

// EventDoc is the JSON shape of an exported event, also one JSONL line
type EventDoc struct {
	ID          int64            `json:"id"`
	SessionID   string           `json:"session_id"`
	Kind        models.EventKind `json:"kind"`
	Role        models.Role      `json:"role,omitempty"`
	Content     string           `json:"content,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Seq         int              `json:"seq"`
	NativeID    string           `json:"native_id,omitempty"`
	ToolName    string           `json:"tool_name,omitempty"`
	ToolCallID  string           `json:"tool_call_id,omitempty"`
	IsError     bool             `json:"is_error,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	RawPayload  json.RawMessage  `json:"raw_payload,omitempty"`
}

// MetricsDoc is the JSON shape of session metrics
type MetricsDoc struct {
	MessageCount    int      `json:"message_count"`
	UserMessages    int      `json:"user_messages"`
	AssistantMsgs   int      `json:"assistant_messages"`
	ToolCallCount   int      `json:"tool_call_count"`
	ToolResultCount int      `json:"tool_result_count"`
	ErrorCount      int      `json:"error_count"`
	DurationSeconds int64    `json:"duration_seconds"`
	FilesTouched    int      `json:"files_touched"`
	LinesAdded      int      `json:"lines_added"`
	LinesRemoved    int      `json:"lines_removed"`
	Model           string   `json:"model,omitempty"`
	Provider        string   `json:"provider,omitempty"`
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	EstimatedCost   *float64 `json:"estimated_cost,omitempty"`
	AvgLatencyMs    float64  `json:"avg_latency_ms"`
	P50LatencyMs    int64    `json:"p50_latency_ms"`
	P95LatencyMs    int64    `json:"p95_latency_ms"`
}

func eventDoc(e models.Event) EventDoc {
	return EventDoc{
		ID:          e.ID,
		SessionID:   e.SessionID,
		Kind:        e.Kind,
		Role:        e.Role,
		Content:     e.Content,
		Timestamp:   e.Timestamp,
		Seq:         e.Seq,
		NativeID:    e.NativeID,
		ToolName:    e.ToolName,
		ToolCallID:  e.ToolCallID,
		IsError:     e.IsError,
		Fingerprint: e.Fingerprint,
		RawPayload:  e.RawPayload,
	}
}

func (d EventDoc) event() models.Event {
	return models.Event{
		ID:          d.ID,
		SessionID:   d.SessionID,
		Kind:        d.Kind,
		Role:        d.Role,
		Content:     d.Content,
		Timestamp:   d.Timestamp,
		Seq:         d.Seq,
		NativeID:    d.NativeID,
		ToolName:    d.ToolName,
		ToolCallID:  d.ToolCallID,
		IsError:     d.IsError,
		Fingerprint: d.Fingerprint,
		RawPayload:  compact(d.RawPayload),
	}
}

// compact undoes the indentation MarshalIndent applies to embedded payloads
func compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

func metricsDoc(m *models.SessionMetrics) *MetricsDoc {
	if m == nil {
		return nil
	}
	return &MetricsDoc{
		MessageCount:    m.MessageCount,
		UserMessages:    m.UserCount,
		AssistantMsgs:   m.AssistantCount,
		ToolCallCount:   m.ToolCallCount,
		ToolResultCount: m.ToolResultCount,
		ErrorCount:      m.ErrorCount,
		DurationSeconds: m.DurationSeconds,
		FilesTouched:    m.FilesTouched,
		LinesAdded:      m.LinesAdded,
		LinesRemoved:    m.LinesRemoved,
		Model:           m.Model,
		Provider:        m.Provider,
		InputTokens:     m.InputTokens,
		OutputTokens:    m.OutputTokens,
		EstimatedCost:   m.EstimatedCost,
		AvgLatencyMs:    m.AvgLatencyMs,
		P50LatencyMs:    m.P50LatencyMs,
		P95LatencyMs:    m.P95LatencyMs,
	}
}

func writeSessionJSON(w io.Writer, detail *models.SessionDetail) error {
	s := detail.Session
	doc := SessionDoc{
		ID:         s.ID,
		Source:     s.Source,
		ExternalID: s.ExternalID,
		Project:    s.Project,
		Title:      s.Title,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
		RawPayload: s.RawPayload,
		Metrics:    metricsDoc(detail.Metrics),
		Events:     make([]EventDoc, 0, len(detail.Events)),
	}
	for _, e := range detail.Events {
		doc.Events = append(doc.Events, eventDoc(e))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeEventsJSONL(w io.Writer, events []models.Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(eventDoc(e)); err != nil {
			return err
		}
	}
	return nil
}

// ParseJSON reads a session JSON export back into a session and its ordered events
func ParseJSON(r io.Reader) (*models.SessionDetail, error) {
	var doc SessionDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode session export: %w", err)
	}
	detail := &models.SessionDetail{
		Session: models.Session{
			ID:         doc.ID,
			Source:     doc.Source,
			ExternalID: doc.ExternalID,
			Project:    doc.Project,
			Title:      doc.Title,
			CreatedAt:  doc.CreatedAt,
			UpdatedAt:  doc.UpdatedAt,
			RawPayload: compact(doc.RawPayload),
		},
		Events: make([]models.Event, 0, len(doc.Events)),
	}
	for _, d := range doc.Events {
		detail.Events = append(detail.Events, d.event())
	}
	return detail, nil
}

// ParseJSONL reads a JSONL event export. Blank lines are ignored.
func ParseJSONL(r io.Reader) ([]models.Event, error) {
	var events []models.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var d EventDoc
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, d.event())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return events, nil
}

type searchHit struct {
	EventID    int64            `json:"event_id"`
	SessionID  string           `json:"session_id"`
	ExternalID string           `json:"external_id"`
	Source     models.Source    `json:"source"`
	Project    string           `json:"project,omitempty"`
	Title      string           `json:"title,omitempty"`
	Kind       models.EventKind `json:"kind"`
	Role       models.Role      `json:"role,omitempty"`
	Snippet    string           `json:"snippet"`
	Timestamp  time.Time        `json:"timestamp"`
	Rank       float64          `json:"rank"`
}

func hit(r search.Result) searchHit {
	return searchHit{
		EventID:    r.EventID,
		SessionID:  r.SessionID,
		ExternalID: r.ExternalID,
		Source:     r.Source,
		Project:    r.Project,
		Title:      r.Title,
		Kind:       r.Kind,
		Role:       r.Role,
		Snippet:    r.Snippet,
		Timestamp:  r.Timestamp,
		Rank:       r.Rank,
	}
}

func writeSearchJSON(w io.Writer, query string, results []search.Result) error {
	doc := struct {
		Query   string      `json:"query"`
		Total   int         `json:"total"`
		Results []searchHit `json:"results"`
	}{Query: query, Total: len(results), Results: make([]searchHit, 0, len(results))}
	for _, r := range results {
		doc.Results = append(doc.Results, hit(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeSearchJSONL(w io.Writer, results []search.Result) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(hit(r)); err != nil {
			return err
		}
	}
	return nil
}
