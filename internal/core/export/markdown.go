package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cbroglie/mustache"

	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/internal/core/search"
)

// DefaultTemplate renders title, metadata, a cost block and the event log.
// Triple braces keep content unescaped.
const DefaultTemplate = `# {{{title}}}

- **ID**: {{{external_id}}}
- **Source**: {{{source}}}
- **Project**: {{{project}}}
- **Created**: {{{created}}}
- **Updated**: {{{updated}}}
{{#metrics}}

## Cost & Efficiency

{{#model}}
- **Model**: {{{model}}}
{{/model}}
{{#provider}}
- **Provider**: {{{provider}}}
{{/provider}}
- **Tokens**: {{input_tokens}} input / {{output_tokens}} output
{{#cost}}
- **Estimated Cost**: ${{cost}}
{{/cost}}
- **Duration**: {{duration}}
- **Messages**: {{user_messages}} user / {{assistant_messages}} assistant
- **Tool Calls**: {{tool_calls}} ({{tool_failures}} failed)
{{#latency}}
- **Latency**: p50={{p50}}ms, p95={{p95}}ms
{{/latency}}
{{#files_touched}}
- **Files Touched**: {{files_touched}} (+{{lines_added}} / -{{lines_removed}})
{{/files_touched}}
- **Errors**: {{errors}}
{{/metrics}}

## Events

{{#events}}
### {{{heading}}}

{{{content}}}

{{/events}}
`

const exportTimeLayout = "Jan 02, 2006 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(exportTimeLayout)
}

func markdownData(detail *models.SessionDetail) map[string]interface{} {
	s := detail.Session
	title := s.Title
	if title == "" {
		title = "Untitled session"
	}
	project := s.Project
	if project == "" {
		project = "N/A"
	}

	events := make([]map[string]interface{}, 0, len(detail.Events))
	for _, e := range detail.Events {
		label := strings.ToUpper(string(e.Kind))
		if e.Role != models.RoleNone {
			label += " (" + string(e.Role) + ")"
		}
		content := e.Content
		if e.Kind == models.KindToolCall || e.Kind == models.KindToolResult {
			content = "```\n" + strings.TrimRight(content, "\n") + "\n```"
		}
		events = append(events, map[string]interface{}{
			"heading": label + " · " + formatTime(e.Timestamp),
			"content": content,
		})
	}

	data := map[string]interface{}{
		"title":       title,
		"id":          s.ID,
		"external_id": s.ExternalID,
		"source":      string(s.Source),
		"project":     project,
		"created":     formatTime(s.CreatedAt),
		"updated":     formatTime(s.UpdatedAt),
		"events":      events,
	}
	if m := detail.Metrics; m != nil {
		metrics := map[string]interface{}{
			"model":              m.Model,
			"provider":           m.Provider,
			"input_tokens":       m.InputTokens,
			"output_tokens":      m.OutputTokens,
			"duration":           (time.Duration(m.DurationSeconds) * time.Second).String(),
			"user_messages":      m.UserCount,
			"assistant_messages": m.AssistantCount,
			"tool_calls":         m.ToolCallCount,
			"tool_failures":      m.ToolFailures,
			"errors":             m.ErrorCount,
			"lines_added":        m.LinesAdded,
			"lines_removed":      m.LinesRemoved,
		}
		if m.EstimatedCost != nil {
			metrics["cost"] = fmt.Sprintf("%.4f", *m.EstimatedCost)
		}
		if m.FilesTouched > 0 {
			metrics["files_touched"] = m.FilesTouched
		}
		if m.P50LatencyMs > 0 || m.P95LatencyMs > 0 {
			metrics["latency"] = map[string]interface{}{"p50": m.P50LatencyMs, "p95": m.P95LatencyMs}
		}
		data["metrics"] = metrics
	}
	return data
}

// Markdown renders a session through tmpl
func Markdown(detail *models.SessionDetail, tmpl string) (string, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	out, err := mustache.Render(tmpl, markdownData(detail))
	if err != nil {
		return "", fmt.Errorf("failed to render export template: %w", err)
	}
	return out, nil
}

func writeMarkdown(w io.Writer, detail *models.SessionDetail, tmpl string) error {
	out, err := Markdown(detail, tmpl)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func writeSearchMarkdown(w io.Writer, query string, results []search.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Search Results: %q\n\n", query)
	fmt.Fprintf(&b, "**%d results**\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "## Result %d\n\n", i+1)
		title := r.Title
		if title == "" {
			title = r.ExternalID
		}
		fmt.Fprintf(&b, "- **Session**: %s (%s)\n", title, r.Source)
		if r.Project != "" {
			fmt.Fprintf(&b, "- **Project**: %s\n", r.Project)
		}
		fmt.Fprintf(&b, "- **Kind**: %s\n", r.Kind)
		fmt.Fprintf(&b, "- **Timestamp**: %s\n\n", formatTime(r.Timestamp))
		if r.Snippet != "" {
			b.WriteString("```\n")
			b.WriteString(strings.TrimRight(r.Snippet, "\n"))
			b.WriteString("\n```\n\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
