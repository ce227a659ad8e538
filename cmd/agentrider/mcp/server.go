package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/importer"
	"github.com/neilberkman/agentrider/internal/core/metadata"
	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/internal/core/search"
)

// SearchEventsArgs defines arguments for the search_events tool
type SearchEventsArgs struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit,omitempty"`
	Source     string `json:"source,omitempty"`
	Project    string `json:"project,omitempty"`
	Kind       string `json:"kind,omitempty"`
	AfterDate  string `json:"after_date,omitempty"`
	BeforeDate string `json:"before_date,omitempty"`
}

// ListSessionsArgs defines arguments for the list_sessions tool
type ListSessionsArgs struct {
	Limit     int    `json:"limit,omitempty"`
	Source    string `json:"source,omitempty"`
	Project   string `json:"project,omitempty"`
	AfterDate string `json:"after_date,omitempty"`
}

// GetSessionArgs defines arguments for the get_session tool
type GetSessionArgs struct {
	SessionID   string `json:"session_id"`
	SearchQuery string `json:"search_query,omitempty"`
	MaxEvents   int    `json:"max_events,omitempty"`
}

// EventMatch represents one search hit
type EventMatch struct {
	SessionID string `json:"session_id"`
	Source    string `json:"source"`
	Title     string `json:"title,omitempty"`
	Project   string `json:"project,omitempty"`
	Kind      string `json:"kind"`
	Role      string `json:"role,omitempty"`
	Snippet   string `json:"snippet"`
	Timestamp string `json:"timestamp"`
}

// SessionSummary represents a session in the list view
type SessionSummary struct {
	SessionID  string `json:"session_id"`
	Source     string `json:"source"`
	Title      string `json:"title,omitempty"`
	Project    string `json:"project,omitempty"`
	UpdatedAt  string `json:"updated_at"`
	EventCount int    `json:"event_count"`
}

// SessionDetail represents a session with its metrics and a bounded set of events
type SessionDetail struct {
	SessionSummary
	CreatedAt     string        `json:"created_at"`
	Model         string        `json:"model,omitempty"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	EstimatedCost *float64      `json:"estimated_cost,omitempty"`
	ToolCalls     int           `json:"tool_calls"`
	Errors        int           `json:"errors"`
	Events        []EventDetail `json:"events"`
	Truncated     bool          `json:"truncated,omitempty"`
	Matching      []EventDetail `json:"matching_events,omitempty"`

	References *metadata.References `json:"references"`
}

// EventDetail represents a single event in a session
type EventDetail struct {
	Kind      string `json:"kind"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Index     int    `json:"index"`
}

const timeLayout = "2006-01-02 15:04:05"

// Server exposes the session database as MCP tools
type Server struct {
	db       *db.DB
	importer *importer.Importer
	logger   *zap.Logger
}

// NewServer creates a server; imp may be nil to disable syncing before queries
func NewServer(database *db.DB, imp *importer.Importer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{db: database, importer: imp, logger: logger}
}

// MCPServer builds the protocol server with every tool registered
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("agentrider", version)

	searchTool := mcp.NewTool("search_events",
		mcp.WithDescription("Full-text search across Claude Code, Codex, OpenCode and Crush session events. Supports source, project, kind and date filters; inline filters like source:codex also work."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search term to match against event content")),
		mcp.WithNumber("limit",
			mcp.Description("Max number of results (default: 20)")),
		mcp.WithString("source",
			mcp.Description("Filter by source: claude, codex, opencode or crush")),
		mcp.WithString("project",
			mcp.Description("Filter by project (substring)")),
		mcp.WithString("kind",
			mcp.Description("Filter by event kind: message, tool_call, tool_result, error or system")),
		mcp.WithString("after_date",
			mcp.Description("Only events after this date (e.g. '2025-01-01', '7d', 'yesterday')")),
		mcp.WithString("before_date",
			mcp.Description("Only events before this date")),
	)
	srv.AddTool(searchTool, s.handleSearchEvents)

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("Get recent sessions from every source, most recently updated first"),
		mcp.WithNumber("limit",
			mcp.Description("Max sessions to return (default: 20)")),
		mcp.WithString("source",
			mcp.Description("Filter by source")),
		mcp.WithString("project",
			mcp.Description("Filter by project (substring)")),
		mcp.WithString("after_date",
			mcp.Description("Only sessions updated after this date")),
	)
	srv.AddTool(listTool, s.handleListSessions)

	sessionTool := mcp.NewTool("get_session",
		mcp.WithDescription("Retrieve a session with its metrics, ordered events and the issue ids and files it mentions, optionally highlighting events that match a search term"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Local id, source session id, or unique prefix")),
		mcp.WithString("search_query",
			mcp.Description("Optional search term to find matching events in the session")),
		mcp.WithNumber("max_events",
			mcp.Description("Max events to include (default: 50)")),
	)
	srv.AddTool(sessionTool, s.handleGetSession)

	return srv
}

// StartServer serves the tools over stdio until the client disconnects
func StartServer(database *db.DB, imp *importer.Importer, logger *zap.Logger, version string) error {
	return server.ServeStdio(NewServer(database, imp, logger).MCPServer(version))
}

// sync ingests incrementally so queries see the latest sessions. Failures are
// logged; stale data is still served.
func (s *Server) sync(ctx context.Context) {
	if s.importer == nil {
		return
	}
	if _, err := s.importer.IngestAll(ctx, nil, importer.Options{}); err != nil {
		s.logger.Warn("sync before query failed", zap.Error(err))
	}
}

func decodeArgs(request mcp.CallToolRequest, v interface{}) error {
	argsBytes, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(argsBytes, v)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	resultJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleSearchEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.sync(ctx)

	var args SearchEventsArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	now := time.Now()
	q := search.ParseQuery(args.Query, now)
	q.Limit = args.Limit
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if args.Source != "" {
		src, err := models.ParseSource(args.Source)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		q.Source = src
	}
	if args.Project != "" {
		q.Project = args.Project
	}
	if args.Kind != "" {
		k, err := models.ParseKind(args.Kind)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		q.Kind = k
	}
	var err error
	if args.AfterDate != "" {
		if q.Since, err = search.ParseSince(args.AfterDate, now); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if args.BeforeDate != "" {
		if q.Until, err = search.ParseSince(args.BeforeDate, now); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	results, err := search.SearchEvents(s.db, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	matches := make([]EventMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, EventMatch{
			SessionID: r.ExternalID,
			Source:    string(r.Source),
			Title:     r.Title,
			Project:   r.Project,
			Kind:      string(r.Kind),
			Role:      string(r.Role),
			Snippet:   r.Snippet,
			Timestamp: r.Timestamp.Format(timeLayout),
		})
	}
	return jsonResult(map[string]interface{}{"results": matches})
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.sync(ctx)

	var args ListSessionsArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	filter := db.SessionFilter{Project: args.Project, Limit: args.Limit}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if args.Source != "" {
		src, err := models.ParseSource(args.Source)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Source = src
	}
	if args.AfterDate != "" {
		t, err := search.ParseSince(args.AfterDate, time.Now())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Since = t
	}

	rows, err := s.db.QuerySessions(filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	sessions := make([]SessionSummary, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, summarize(r.Session, r.EventCount))
	}
	return jsonResult(map[string]interface{}{"sessions": sessions})
}

func summarize(s models.Session, events int) SessionSummary {
	return SessionSummary{
		SessionID:  s.ExternalID,
		Source:     string(s.Source),
		Title:      s.Title,
		Project:    s.Project,
		UpdatedAt:  s.UpdatedAt.Format(timeLayout),
		EventCount: events,
	}
}

func eventDetail(e models.Event, i int) EventDetail {
	return EventDetail{
		Kind:      string(e.Kind),
		Role:      string(e.Role),
		Content:   e.Content,
		Timestamp: e.Timestamp.Format(timeLayout),
		Index:     i,
	}
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.sync(ctx)

	var args GetSessionArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	detail, err := s.db.ShowSession(args.SessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %v", err)), nil
	}

	maxEvents := args.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 50
	}

	out := SessionDetail{
		SessionSummary: summarize(detail.Session, len(detail.Events)),
		CreatedAt:      detail.Session.CreatedAt.Format(timeLayout),
		Events:         []EventDetail{},
		References:     metadata.Extract(detail.Events),
	}
	if m := detail.Metrics; m != nil {
		out.Model = m.Model
		out.InputTokens = m.InputTokens
		out.OutputTokens = m.OutputTokens
		out.EstimatedCost = m.EstimatedCost
		out.ToolCalls = m.ToolCallCount
		out.Errors = m.ErrorCount
	}
	for i, e := range detail.Events {
		if i >= maxEvents {
			out.Truncated = true
			break
		}
		out.Events = append(out.Events, eventDetail(e, i))
	}

	// If search query provided, filter matching events
	if args.SearchQuery != "" {
		out.Matching = []EventDetail{}
		queryLower := strings.ToLower(args.SearchQuery)
		for i, e := range detail.Events {
			if strings.Contains(strings.ToLower(e.Content), queryLower) {
				out.Matching = append(out.Matching, eventDetail(e, i))
				if len(out.Matching) >= 5 {
					break
				}
			}
		}
	}

	return jsonResult(out)
}
