package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/pkg/ccsessions"
)

// Claude reads Claude Code project transcripts: <root>/<project>/<session-id>.jsonl
type Claude struct {
	root   string
	logger *zap.Logger
}

// NewClaude creates the adapter for a projects directory
func NewClaude(root string, logger *zap.Logger) *Claude {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Claude{root: root, logger: logger.With(zap.String("source", string(models.SourceClaude)))}
}

func (c *Claude) Source() models.Source { return models.SourceClaude }

// Root returns the projects directory
func (c *Claude) Root() string { return c.root }

// WatchRoots returns the directory tree the watch loop observes
func (c *Claude) WatchRoots() []string { return []string{c.root} }

// Discover lists every session file below the projects directory
func (c *Claude) Discover(ctx context.Context) ([]Artifact, error) {
	if _, err := os.Stat(c.root); err != nil {
		return nil, &DiscoveryError{Source: models.SourceClaude, Path: c.root, Err: err}
	}

	projects, err := os.ReadDir(c.root)
	if err != nil {
		return nil, &DiscoveryError{Source: models.SourceClaude, Path: c.root, Err: err}
	}

	var artifacts []Artifact
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !project.IsDir() {
			continue
		}
		dir := filepath.Join(c.root, project.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			c.logger.Debug("skipping unreadable project directory", zap.String("path", dir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".jsonl" {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(dir, f.Name())
			artifacts = append(artifacts, Artifact{
				Source:  models.SourceClaude,
				ID:      path,
				Path:    path,
				Marker:  fileMarker(info.ModTime(), info.Size()),
				Kind:    KindFile,
				Project: project.Name(),
				ModTime: info.ModTime(),
			})
		}
	}
	return artifacts, nil
}

// Parse reads the transcript from cursor. Every line is one record; a record
// with several content blocks expands into one event per block.
func (c *Claude) Parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	return validated(c.parse(ctx, artifact, cursor))
}

func (c *Claude) parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	externalID := strings.TrimSuffix(filepath.Base(artifact.Path), filepath.Ext(artifact.Path))
	project := artifact.Project
	if project == "" {
		project = filepath.Base(filepath.Dir(artifact.Path))
	}

	var (
		title  string
		cwd    string
		meta   = payload{}
		events []models.Event
		seen   span
		failed int
	)

	next, partial, err := readLines(artifact.Path, cursor, json.Valid, func(line []byte, lineNo int) {
		if ctx.Err() != nil {
			return
		}
		entry, err := ccsessions.DecodeLine(line)
		if err != nil {
			failed++
			c.logger.Debug("skipping malformed line", zap.Error(&ParseError{Path: artifact.Path, Line: lineNo, Err: err}))
			return
		}

		if entry.Type == "summary" {
			if entry.Summary != "" {
				title = entry.Summary
			}
			return
		}
		if entry.IsMetadata() {
			return
		}

		ts, err := entry.Time()
		if err != nil {
			failed++
			c.logger.Debug("skipping line", zap.Error(&ParseError{Path: artifact.Path, Line: lineNo, Err: err}))
			return
		}

		if entry.CWD != "" {
			cwd = entry.CWD
		}
		if !ccsessions.IsAgentFile(externalID) {
			meta.set("session_id", entry.SessionID)
		}
		meta.set("git_branch", entry.GitBranch).set("version", entry.Version)
		if model := entry.Model(); model != "" {
			meta.set("model", model).set("provider", "anthropic")
		}

		produced, err := claudeEvents(entry, line)
		if err != nil {
			failed++
			c.logger.Debug("skipping line", zap.Error(&ParseError{Path: artifact.Path, Line: lineNo, Err: err}))
			return
		}
		for i := range produced {
			e := &produced[i]
			e.Timestamp = ts
			e.Seq = lineSeq(lineNo, i)
			if entry.UUID != "" {
				e.NativeID = entry.UUID
				if i > 0 {
					e.NativeID = fmt.Sprintf("%s:%d", entry.UUID, i)
				}
			}
			e.RawPayload = json.RawMessage(append([]byte(nil), line...))
		}
		seen.add(ts)
		events = append(events, produced...)
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ParseResult{Failed: failed, Cursor: next, Partial: partial}
	if len(events) == 0 && title == "" {
		return result, nil
	}

	if cwd != "" {
		project = cwd
	}
	meta.set("file_path", artifact.Path)
	created, updated := seen.bounds(artifact.ModTime)
	result.Sessions = []SessionDraft{{
		Session: models.Session{
			Source:     models.SourceClaude,
			ExternalID: externalID,
			Project:    project,
			Title:      title,
			CreatedAt:  created,
			UpdatedAt:  updated,
			RawPayload: meta.raw(),
		},
		Events: events,
	}}
	return result, nil
}

// claudeEvents maps one record onto canonical events, without timestamps or positions
func claudeEvents(entry *ccsessions.Entry, line []byte) ([]models.Event, error) {
	switch entry.Type {
	case "user", "assistant":
		role := models.RoleFrom(entry.Role())
		if role == models.RoleNone {
			role = models.RoleFrom(entry.Type)
		}
		var (
			blocks []ccsessions.Block
			err    error
		)
		if len(entry.Message) > 0 {
			blocks, err = entry.Blocks()
		} else {
			// Flat form keeps the text at the top level
			blocks = []ccsessions.Block{{Type: ccsessions.BlockText, Text: ccsessions.Text(entry.Content)}}
		}
		if err != nil {
			return nil, err
		}
		return blockEvents(blocks, role), nil

	case "system":
		return []models.Event{{
			Kind:    models.KindSystem,
			Role:    models.RoleSystem,
			Content: entryText(entry),
		}}, nil

	case "tool_call":
		return []models.Event{{
			Kind:       models.KindToolCall,
			Role:       models.RoleAssistant,
			Content:    models.ToolCallContent(entry.Name, string(entry.Arguments)),
			ToolName:   entry.Name,
			ToolCallID: entry.ToolUseID,
		}}, nil

	case "tool_result":
		return []models.Event{{
			Kind:       models.KindToolResult,
			Role:       models.RoleAssistant,
			Content:    entryText(entry),
			ToolCallID: entry.ToolUseID,
			IsError:    entry.IsError,
		}}, nil

	case "error":
		return []models.Event{{
			Kind:    models.KindError,
			Content: entryText(entry),
			IsError: true,
		}}, nil
	}

	return []models.Event{{
		Kind:    models.KindSystem,
		Content: string(line),
	}}, nil
}

func blockEvents(blocks []ccsessions.Block, role models.Role) []models.Event {
	var events []models.Event
	for _, b := range blocks {
		switch b.Type {
		case ccsessions.BlockText:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			events = append(events, models.Event{Kind: models.KindMessage, Role: role, Content: b.Text})
		case ccsessions.BlockThinking:
			events = append(events, models.Event{Kind: models.KindMessage, Role: role, Content: thinkingPrefix + b.Text})
		case ccsessions.BlockToolUse:
			events = append(events, models.Event{
				Kind:       models.KindToolCall,
				Role:       models.RoleAssistant,
				Content:    models.ToolCallContent(b.ToolName, string(b.Input)),
				ToolName:   b.ToolName,
				ToolCallID: b.ToolUseID,
			})
		case ccsessions.BlockToolResult:
			events = append(events, models.Event{
				Kind:       models.KindToolResult,
				Role:       role,
				Content:    b.Text,
				ToolCallID: b.ToolUseID,
				IsError:    b.IsError,
			})
		}
	}
	return events
}

// entryText is the content of a flat record, from content or message
func entryText(entry *ccsessions.Entry) string {
	if len(entry.Content) > 0 {
		return ccsessions.Text(entry.Content)
	}
	return ccsessions.Text(entry.Message)
}

const thinkingPrefix = "[Thinking] "

// HealthCheck reports whether the projects directory is readable
func (c *Claude) HealthCheck(ctx context.Context) models.SourceHealth {
	h := models.SourceHealth{Source: models.SourceClaude, Path: c.root}
	entries, err := os.ReadDir(c.root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		h.Status = models.HealthUnhealthy
		h.Message = "projects directory not found"
	case err != nil:
		h.Status = models.HealthUnhealthy
		h.Message = err.Error()
	default:
		h.Status = models.HealthHealthy
		h.Message = fmt.Sprintf("%d project directories", countDirs(entries))
	}
	return h
}

func countDirs(entries []os.DirEntry) int {
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n
}
