package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// CrushOptions locates Crush databases
type CrushOptions struct {
	Paths       []string // explicit database files
	SearchRoots []string // walked for .crush/crush.db
	MaxDepth    int
}

// Crush reads the SQLite databases Crush keeps per project
type Crush struct {
	opts   CrushOptions
	logger *zap.Logger
}

// NewCrush creates the adapter
func NewCrush(opts CrushOptions, logger *zap.Logger) *Crush {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 6
	}
	return &Crush{opts: opts, logger: logger.With(zap.String("source", string(models.SourceCrush)))}
}

func (c *Crush) Source() models.Source { return models.SourceCrush }

var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"target":       true,
}

// Databases returns every Crush database found on disk
func (c *Crush) Databases(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var found []string
	add := func(path string) {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if !seen[abs] {
			seen[abs] = true
			found = append(found, abs)
		}
	}

	reachable := false
	for _, p := range c.opts.Paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			reachable = true
			add(p)
		}
	}

	for _, root := range c.opts.SearchRoots {
		if !dirExists(root) {
			continue
		}
		reachable = true
		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtrees are skipped
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != root && skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				if strings.Count(filepath.Clean(path), string(filepath.Separator))-rootDepth >= c.opts.MaxDepth {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Name() == "crush.db" && filepath.Base(filepath.Dir(path)) == ".crush" {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if !reachable {
		path := ""
		if len(c.opts.Paths) > 0 {
			path = c.opts.Paths[0]
		}
		return nil, &DiscoveryError{Source: models.SourceCrush, Path: path, Err: fs.ErrNotExist}
	}
	sort.Strings(found)
	return found, nil
}

// Discover yields one artifact per database, marked by its probe
func (c *Crush) Discover(ctx context.Context) ([]Artifact, error) {
	paths, err := c.Databases(ctx)
	if err != nil {
		var de *DiscoveryError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DiscoveryError{Source: models.SourceCrush, Err: err}
	}

	artifacts := make([]Artifact, 0, len(paths))
	for _, path := range paths {
		marker, err := Probe(ctx, path)
		if err != nil {
			// Surfaced again, and counted, when the artifact is parsed
			c.logger.Warn("failed to probe database", zap.String("path", path), zap.Error(err))
			marker = ""
		}
		info, _ := os.Stat(path)
		a := Artifact{
			Source:  models.SourceCrush,
			ID:      path,
			Path:    path,
			Marker:  marker,
			Kind:    KindDatabase,
			Project: crushProject(path),
		}
		if info != nil {
			a.ModTime = info.ModTime()
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// crushProject is the directory holding .crush, or the db's directory for a global db
func crushProject(path string) string {
	dir := filepath.Dir(path)
	if filepath.Base(dir) == ".crush" {
		return filepath.Dir(dir)
	}
	return dir
}

var (
	crushSessionColumns = []string{"id", "title", "message_count", "prompt_tokens", "completion_tokens", "cost", "created_at", "updated_at", "parent_session_id"}
	crushMessageColumns = []string{"id", "role", "parts", "model", "provider", "created_at", "updated_at", "finished_at", "is_summary_message"}
)

type crushSession struct {
	ID               string
	Title            sql.NullString
	MessageCount     sql.NullInt64
	PromptTokens     sql.NullInt64
	CompletionTokens sql.NullInt64
	Cost             sql.NullFloat64
	CreatedAt        sql.NullInt64
	UpdatedAt        sql.NullInt64
	ParentID         sql.NullString
}

type crushMessage struct {
	ID         string
	Role       sql.NullString
	Parts      sql.NullString
	Model      sql.NullString
	Provider   sql.NullString
	CreatedAt  sql.NullInt64
	UpdatedAt  sql.NullInt64
	FinishedAt sql.NullInt64
	IsSummary  sql.NullBool
}

// Parse reads every root session of the database
func (c *Crush) Parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	return validated(c.parse(ctx, artifact, cursor))
}

func (c *Crush) parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	conn, err := openForeign(artifact.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	sessionCols, err := probeTable(ctx, conn, "sessions")
	if err != nil {
		return nil, err
	}
	if sessionCols == nil {
		return nil, &SchemaDriftError{Table: "sessions", Required: true}
	}
	messageCols, err := probeTable(ctx, conn, "messages")
	if err != nil {
		return nil, err
	}
	if messageCols == nil {
		return nil, &SchemaDriftError{Table: "messages", Required: true}
	}
	for _, col := range []string{"id", "session_id"} {
		if !messageCols[col] {
			return nil, &SchemaDriftError{Table: "messages", Column: col, Required: true}
		}
	}
	if !sessionCols["id"] {
		return nil, &SchemaDriftError{Table: "sessions", Column: "id", Required: true}
	}
	for _, col := range []string{"cost", "prompt_tokens", "completion_tokens", "parent_session_id"} {
		if !sessionCols[col] {
			c.logger.Debug("optional column missing", zap.Error(&SchemaDriftError{Table: "sessions", Column: col}))
		}
	}

	sessions, err := c.readSessions(ctx, conn, sessionCols)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	for _, s := range sessions {
		msgs, err := c.readMessages(ctx, conn, messageCols, s.ID)
		if err != nil {
			return nil, err
		}
		draft, failed := c.convertSession(artifact, s, msgs, sessionCols["cost"])
		result.Failed += failed
		result.Sessions = append(result.Sessions, draft)
	}
	return result, nil
}

func (c *Crush) readSessions(ctx context.Context, conn *sql.DB, cols map[string]bool) ([]crushSession, error) {
	query := `SELECT ` + selectList(cols, crushSessionColumns) + ` FROM sessions`
	if cols["parent_session_id"] {
		// Subagent sessions stay out
		query += ` WHERE parent_session_id IS NULL OR parent_session_id = ''`
	}
	if cols["created_at"] {
		query += ` ORDER BY created_at`
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crushSession
	for rows.Next() {
		var s crushSession
		if err := rows.Scan(&s.ID, &s.Title, &s.MessageCount, &s.PromptTokens, &s.CompletionTokens,
			&s.Cost, &s.CreatedAt, &s.UpdatedAt, &s.ParentID); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Crush) readMessages(ctx context.Context, conn *sql.DB, cols map[string]bool, sessionID string) ([]crushMessage, error) {
	query := `SELECT ` + selectList(cols, crushMessageColumns) + ` FROM messages WHERE session_id = ?`
	if cols["created_at"] {
		query += ` ORDER BY created_at, rowid`
	} else {
		query += ` ORDER BY rowid`
	}

	rows, err := conn.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []crushMessage
	for rows.Next() {
		var m crushMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Parts, &m.Model, &m.Provider,
			&m.CreatedAt, &m.UpdatedAt, &m.FinishedAt, &m.IsSummary); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type crushPart struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type crushPartData struct {
	Text       string          `json:"text"`
	Thinking   string          `json:"thinking"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input"`
	ToolCallID string          `json:"tool_call_id"`
	ToolUseID  string          `json:"tool_use_id"`
	Content    string          `json:"content"`
	IsError    bool            `json:"is_error"`
}

func (c *Crush) convertSession(artifact Artifact, s crushSession, msgs []crushMessage, hasCost bool) (SessionDraft, int) {
	var (
		events   []models.Event
		seen     span
		failed   int
		model    string
		provider string
	)
	seen.add(epochTime(s.CreatedAt.Int64))
	seen.add(epochTime(s.UpdatedAt.Int64))

	for i, m := range msgs {
		if m.IsSummary.Valid && m.IsSummary.Bool {
			continue
		}
		ts := epochTime(m.CreatedAt.Int64)
		if ts.IsZero() {
			ts = epochTime(s.CreatedAt.Int64)
		}
		if ts.IsZero() {
			ts = artifact.ModTime.UTC()
		}

		var parts []crushPart
		if m.Parts.Valid && m.Parts.String != "" {
			if err := json.Unmarshal([]byte(m.Parts.String), &parts); err != nil {
				failed++
				c.logger.Debug("skipping message", zap.String("message", m.ID),
					zap.Error(&ParseError{Path: artifact.Path, Line: i + 1, Err: err}))
				continue
			}
		}
		if m.Model.String != "" {
			model, provider = m.Model.String, m.Provider.String
		}
		seen.add(ts)

		produced := crushEvents(parts, models.RoleFrom(m.Role.String))
		for j := range produced {
			e := &produced[j]
			e.Timestamp = ts
			e.Seq = lineSeq(i+1, j)
			e.NativeID = m.ID
			if j > 0 {
				e.NativeID = fmt.Sprintf("%s:%d", m.ID, j)
			}
		}
		if len(produced) > 0 {
			produced[0].RawPayload = payload{}.
				set("id", m.ID).
				set("role", m.Role.String).
				set("model", m.Model.String).
				set("provider", m.Provider.String).
				set("finished_at", m.FinishedAt.Int64).
				raw()
		}
		events = append(events, produced...)
	}

	meta := payload{}
	meta.set("db_path", artifact.Path).
		set("message_count", s.MessageCount.Int64).
		set("prompt_tokens", s.PromptTokens.Int64).
		set("completion_tokens", s.CompletionTokens.Int64).
		set("model", model).
		set("provider", provider)
	// A reported cost of zero is still a reported cost
	if hasCost && s.Cost.Valid {
		meta["cost"] = s.Cost.Float64
	}

	created, updated := seen.bounds(artifact.ModTime)
	return SessionDraft{
		Session: models.Session{
			Source:     models.SourceCrush,
			ExternalID: s.ID,
			Project:    artifact.Project,
			Title:      s.Title.String,
			CreatedAt:  created,
			UpdatedAt:  updated,
			RawPayload: meta.raw(),
		},
		Events: events,
	}, failed
}

// crushEvents maps message parts; finish and image parts produce nothing
func crushEvents(parts []crushPart, role models.Role) []models.Event {
	var events []models.Event
	var texts []string
	flush := func() {
		if len(texts) == 0 {
			return
		}
		events = append(events, models.Event{Kind: models.KindMessage, Role: role, Content: strings.Join(texts, "\n")})
		texts = nil
	}

	for _, p := range parts {
		var d crushPartData
		if len(p.Data) > 0 {
			_ = json.Unmarshal(p.Data, &d)
		}
		switch p.Type {
		case "text":
			if strings.TrimSpace(d.Text) != "" {
				texts = append(texts, d.Text)
			}
		case "reasoning":
			if strings.TrimSpace(d.Thinking) != "" {
				texts = append(texts, thinkingPrefix+d.Thinking)
			}
		case "tool_call", "tool_use":
			flush()
			events = append(events, models.Event{
				Kind:       models.KindToolCall,
				Role:       models.RoleAssistant,
				Content:    models.ToolCallContent(d.Name, crushInput(d.Input)),
				ToolName:   d.Name,
				ToolCallID: d.ID,
			})
		case "tool_result":
			flush()
			callID := d.ToolCallID
			if callID == "" {
				callID = d.ToolUseID
			}
			events = append(events, models.Event{
				Kind:       models.KindToolResult,
				Role:       role,
				Content:    d.Content,
				ToolName:   d.Name,
				ToolCallID: callID,
				IsError:    d.IsError,
			})
		}
	}
	flush()
	return events
}

// crushInput unwraps tool input, which Crush stores as a JSON-encoded string
func crushInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// HealthCheck probes each database for the tables the reader needs
func (c *Crush) HealthCheck(ctx context.Context) models.SourceHealth {
	h := models.SourceHealth{Source: models.SourceCrush}
	paths, err := c.Databases(ctx)
	if err != nil {
		h.Status = models.HealthUnhealthy
		h.Message = "no crush database found"
		if len(c.opts.Paths) > 0 {
			h.Path = c.opts.Paths[0]
		}
		return h
	}
	if len(paths) == 0 {
		h.Status = models.HealthDegraded
		h.Message = "search roots reachable but no database found"
		return h
	}

	h.Path = paths[0]
	for _, path := range paths {
		if _, err := Probe(ctx, path); err != nil {
			h.Status = models.HealthUnhealthy
			h.Path = path
			h.Message = err.Error()
			return h
		}
		if err := checkRequiredTables(ctx, path); err != nil {
			h.Status = models.HealthUnhealthy
			h.Path = path
			h.Message = err.Error()
			return h
		}
	}
	h.Status = models.HealthHealthy
	h.Message = fmt.Sprintf("%d database(s)", len(paths))
	return h
}

func checkRequiredTables(ctx context.Context, path string) error {
	conn, err := openForeign(path)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	cols, err := probeTable(ctx, conn, "messages")
	if err != nil {
		return err
	}
	if cols == nil {
		return &SchemaDriftError{Table: "messages", Required: true}
	}
	return nil
}
