package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/models"
)

const maxTitleRunes = 100

// DefaultCodexRoot returns $CODEX_HOME/sessions, or ~/.codex/sessions
func DefaultCodexRoot() string {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return filepath.Join(home, "sessions")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codex", "sessions")
}

// Codex reads rollout files sharded by date: <root>/YYYY/MM/DD/rollout-*.jsonl
type Codex struct {
	root   string
	logger *zap.Logger
}

// NewCodex creates the adapter for a sessions directory
func NewCodex(root string, logger *zap.Logger) *Codex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codex{root: root, logger: logger.With(zap.String("source", string(models.SourceCodex)))}
}

func (c *Codex) Source() models.Source { return models.SourceCodex }

// Root returns the sessions directory
func (c *Codex) Root() string { return c.root }

// WatchRoots returns the directory tree the watch loop observes
func (c *Codex) WatchRoots() []string { return []string{c.root} }

// Discover lists rollout files at exactly the date-sharded depth
func (c *Codex) Discover(ctx context.Context) ([]Artifact, error) {
	if _, err := os.Stat(c.root); err != nil {
		return nil, &DiscoveryError{Source: models.SourceCodex, Path: c.root, Err: err}
	}
	matches, err := filepath.Glob(filepath.Join(c.root, "*", "*", "*", "rollout-*.jsonl"))
	if err != nil {
		return nil, &DiscoveryError{Source: models.SourceCodex, Path: c.root, Err: err}
	}

	artifacts := make([]Artifact, 0, len(matches))
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Source:  models.SourceCodex,
			ID:      path,
			Path:    path,
			Marker:  fileMarker(info.ModTime(), info.Size()),
			Kind:    KindFile,
			ModTime: info.ModTime(),
		})
	}
	return artifacts, nil
}

type codexLine struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexMeta struct {
	ID            string `json:"id"`
	CWD           string `json:"cwd"`
	CLIVersion    string `json:"cli_version"`
	ModelProvider string `json:"model_provider"`
	Git           *struct {
		CommitHash    string `json:"commit_hash"`
		Branch        string `json:"branch"`
		RepositoryURL string `json:"repository_url"`
	} `json:"git"`
}

// project is repo/branch when git info exists, otherwise the working directory
func (m *codexMeta) project() string {
	if m.Git != nil && m.Git.RepositoryURL != "" {
		repo := strings.TrimSuffix(m.Git.RepositoryURL, ".git")
		if i := strings.LastIndexAny(repo, "/:"); i >= 0 {
			repo = repo[i+1:]
		}
		branch := m.Git.Branch
		if branch == "" {
			branch = "main"
		}
		return repo + "/" + branch
	}
	return m.CWD
}

type codexItem struct {
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	CallID    string          `json:"call_id"`
	Output    json.RawMessage `json:"output"`
	Summary   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"summary"`
}

type codexEventMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Info    *struct {
		Total struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"total_token_usage"`
	} `json:"info"`
}

type codexState struct {
	meta     codexMeta
	hasMeta  bool
	model    string
	title    string
	prompt   int64
	complete int64
}

// Parse reads the rollout from cursor. The session_meta line is re-read on
// incremental parses so identity survives resuming mid-file.
func (c *Codex) Parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	return validated(c.parse(ctx, artifact, cursor))
}

func (c *Codex) parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	var st codexState
	if cursor.Line > 0 {
		if first, err := readFirstLine(artifact.Path); err == nil {
			var cl codexLine
			if json.Unmarshal(first, &cl) == nil && cl.Type == "session_meta" {
				st.hasMeta = json.Unmarshal(cl.Payload, &st.meta) == nil
			}
		} else if errors.Is(err, ErrArtifactGone) {
			return nil, err
		}
	}

	var (
		events []models.Event
		seen   span
		failed int
	)

	next, partial, err := readLines(artifact.Path, cursor, json.Valid, func(line []byte, lineNo int) {
		if ctx.Err() != nil {
			return
		}
		var cl codexLine
		if err := json.Unmarshal(line, &cl); err != nil {
			failed++
			c.logger.Debug("skipping malformed line", zap.Error(&ParseError{Path: artifact.Path, Line: lineNo, Err: err}))
			return
		}
		ts, err := time.Parse(time.RFC3339Nano, cl.Timestamp)
		if err != nil {
			failed++
			c.logger.Debug("skipping line", zap.Error(&ParseError{Path: artifact.Path, Line: lineNo, Err: fmt.Errorf("invalid timestamp: %w", err)}))
			return
		}
		ts = ts.UTC()

		event, ok, err := c.convert(&st, &cl, cursor.Line == 0)
		if err != nil {
			failed++
			c.logger.Debug("skipping line", zap.Error(&ParseError{Path: artifact.Path, Line: lineNo, Err: err}))
			return
		}
		seen.add(ts)
		if !ok {
			return
		}
		event.Timestamp = ts
		event.Seq = lineSeq(lineNo, 0)
		event.RawPayload = json.RawMessage(append([]byte(nil), line...))
		events = append(events, event)
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ParseResult{Failed: failed, Cursor: next, Partial: partial}
	if len(events) == 0 && !st.hasMeta && st.prompt == 0 && st.model == "" {
		return result, nil
	}

	meta := payload{}
	meta.set("file_path", artifact.Path).
		set("cli_version", st.meta.CLIVersion).
		set("provider", st.meta.ModelProvider).
		set("model", st.model).
		set("prompt_tokens", st.prompt).
		set("completion_tokens", st.complete)
	if st.meta.Git != nil {
		meta.set("git_branch", st.meta.Git.Branch).set("git_commit", st.meta.Git.CommitHash)
	}

	created, updated := seen.bounds(artifact.ModTime)
	result.Sessions = []SessionDraft{{
		Session: models.Session{
			Source:     models.SourceCodex,
			ExternalID: codexExternalID(&st, artifact.Path),
			Project:    st.meta.project(),
			Title:      st.title,
			CreatedAt:  created,
			UpdatedAt:  updated,
			RawPayload: meta.raw(),
		},
		Events: events,
	}}
	return result, nil
}

// convert maps one wrapper line. ok is false for metadata lines.
func (c *Codex) convert(st *codexState, cl *codexLine, fromStart bool) (models.Event, bool, error) {
	switch cl.Type {
	case "session_meta":
		if err := json.Unmarshal(cl.Payload, &st.meta); err != nil {
			return models.Event{}, false, fmt.Errorf("invalid session_meta: %w", err)
		}
		st.hasMeta = true
		return models.Event{}, false, nil

	case "turn_context":
		var tc struct {
			Model string `json:"model"`
		}
		if json.Unmarshal(cl.Payload, &tc) == nil && tc.Model != "" {
			st.model = tc.Model
		}
		return models.Event{}, false, nil

	case "response_item":
		var item codexItem
		if err := json.Unmarshal(cl.Payload, &item); err != nil {
			return models.Event{}, false, fmt.Errorf("invalid response_item: %w", err)
		}
		e, ok := responseItemEvent(&item)
		if ok && fromStart && e.Role == models.RoleUser && e.Kind == models.KindMessage {
			st.setTitle(e.Content)
		}
		return e, ok, nil

	case "event_msg":
		var msg codexEventMsg
		if err := json.Unmarshal(cl.Payload, &msg); err != nil {
			return models.Event{}, false, fmt.Errorf("invalid event_msg: %w", err)
		}
		switch msg.Type {
		case "user_message":
			if fromStart {
				st.setTitle(msg.Message)
			}
			return models.Event{Kind: models.KindMessage, Role: models.RoleUser, Content: msg.Message}, true, nil
		case "agent_message":
			return models.Event{Kind: models.KindMessage, Role: models.RoleAssistant, Content: msg.Message}, true, nil
		case "agent_reasoning":
			return models.Event{Kind: models.KindSystem, Role: models.RoleAssistant, Content: thinkingPrefix + msg.Message}, true, nil
		case "token_count":
			// Totals are cumulative; the last one wins
			if msg.Info != nil {
				st.prompt = msg.Info.Total.InputTokens
				st.complete = msg.Info.Total.OutputTokens
			}
		}
		return models.Event{}, false, nil
	}

	c.logger.Debug("ignoring line type", zap.String("type", cl.Type))
	return models.Event{}, false, nil
}

func responseItemEvent(item *codexItem) (models.Event, bool) {
	switch item.Type {
	case "message":
		text := codexText(item.Content)
		if strings.TrimSpace(text) == "" {
			return models.Event{}, false
		}
		return models.Event{Kind: models.KindMessage, Role: models.RoleFrom(item.Role), Content: text}, true

	case "function_call":
		name := item.Name
		if name == "" {
			name = "unknown"
		}
		args := item.Arguments
		if args == "" {
			args = "{}"
		}
		e := models.Event{
			Kind:       models.KindToolCall,
			Role:       models.RoleAssistant,
			Content:    models.ToolCallContent(name, args),
			ToolName:   name,
			ToolCallID: item.CallID,
		}
		if item.CallID != "" {
			e.NativeID = "call:" + item.CallID
		}
		return e, true

	case "function_call_output":
		output, isError := codexOutput(item.Output)
		e := models.Event{
			Kind:       models.KindToolResult,
			Content:    output,
			ToolCallID: item.CallID,
			IsError:    isError,
		}
		if item.CallID != "" {
			e.NativeID = "output:" + item.CallID
		}
		return e, true

	case "reasoning":
		var parts []string
		for _, s := range item.Summary {
			if s.Text != "" {
				parts = append(parts, s.Text)
			}
		}
		if len(parts) == 0 {
			// Encrypted reasoning carries no readable text
			return models.Event{}, false
		}
		return models.Event{Kind: models.KindSystem, Role: models.RoleAssistant, Content: thinkingPrefix + strings.Join(parts, "\n")}, true
	}
	return models.Event{}, false
}

// codexText joins input_text and output_text blocks
func codexText(content json.RawMessage) string {
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(content, &blocks) != nil {
		var s string
		if json.Unmarshal(content, &s) == nil {
			return s
		}
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if (b.Type == "input_text" || b.Type == "output_text" || b.Type == "text") && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type codexToolOutput struct {
	Output   string `json:"output"`
	Metadata struct {
		ExitCode *int `json:"exit_code"`
	} `json:"metadata"`
}

// codexOutput unwraps a tool result, which is a plain string, a JSON object
// or a string holding a JSON object
func codexOutput(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		var wrapped codexToolOutput
		if strings.HasPrefix(strings.TrimSpace(s), "{") && json.Unmarshal([]byte(s), &wrapped) == nil && wrapped.Metadata.ExitCode != nil {
			return wrapped.Output, *wrapped.Metadata.ExitCode != 0
		}
		return s, false
	}
	var wrapped codexToolOutput
	if json.Unmarshal(raw, &wrapped) == nil {
		return wrapped.Output, wrapped.Metadata.ExitCode != nil && *wrapped.Metadata.ExitCode != 0
	}
	return string(raw), false
}

// setTitle keeps the first real user prompt; injected context blocks start with '<'
func (st *codexState) setTitle(text string) {
	text = strings.TrimSpace(text)
	if st.title != "" || text == "" || strings.HasPrefix(text, "<") {
		return
	}
	if line, _, ok := strings.Cut(text, "\n"); ok {
		text = line
	}
	if r := []rune(text); len(r) > maxTitleRunes {
		text = string(r[:maxTitleRunes-3]) + "..."
	}
	st.title = text
}

// codexExternalID prefers the meta id, then the UUID at the end of
// rollout-<timestamp>-<uuid>.jsonl, then the file stem
func codexExternalID(st *codexState, path string) string {
	if st.hasMeta && st.meta.ID != "" {
		return st.meta.ID
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	const uuidLen = 36
	if len(stem) >= uuidLen {
		if id, err := uuid.Parse(stem[len(stem)-uuidLen:]); err == nil {
			return id.String()
		}
	}
	return stem
}

// HealthCheck reports whether the sessions directory is readable
func (c *Codex) HealthCheck(ctx context.Context) models.SourceHealth {
	h := models.SourceHealth{Source: models.SourceCodex, Path: c.root}
	_, err := os.Stat(c.root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		h.Status = models.HealthUnhealthy
		h.Message = "sessions directory not found"
		return h
	case err != nil:
		h.Status = models.HealthUnhealthy
		h.Message = err.Error()
		return h
	}
	matches, _ := filepath.Glob(filepath.Join(c.root, "*", "*", "*", "rollout-*.jsonl"))
	h.Status = models.HealthHealthy
	h.Message = fmt.Sprintf("%d rollout files", len(matches))
	return h
}
