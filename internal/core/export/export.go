// Package export renders stored sessions and search results as markdown, JSON or JSONL.
// Exports are read-only views over the database.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/internal/core/search"
)

// Format is an export encoding
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
)

// ParseFormat accepts md, markdown, json and jsonl
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("unknown format %q (use md, json or jsonl)", s)
}

// Extension is the conventional file extension for the format
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return ".md"
	}
	return "." + string(f)
}

type options struct {
	template string
}

// Option customizes an export
type Option func(*options)

// WithTemplate replaces the built-in markdown template. An empty template keeps the default.
func WithTemplate(tmpl string) Option {
	return func(o *options) {
		if strings.TrimSpace(tmpl) != "" {
			o.template = tmpl
		}
	}
}

// Session writes one session with its ordered events
func Session(w io.Writer, detail *models.SessionDetail, format Format, opts ...Option) error {
	if detail == nil {
		return fmt.Errorf("no session to export")
	}
	o := options{template: DefaultTemplate}
	for _, opt := range opts {
		opt(&o)
	}

	switch format {
	case FormatMarkdown:
		return writeMarkdown(w, detail, o.template)
	case FormatJSON:
		return writeSessionJSON(w, detail)
	case FormatJSONL:
		return writeEventsJSONL(w, detail.Events)
	}
	return fmt.Errorf("unsupported format %q", format)
}

// Search writes a result list for query
func Search(w io.Writer, query string, results []search.Result, format Format) error {
	switch format {
	case FormatMarkdown:
		return writeSearchMarkdown(w, query, results)
	case FormatJSON:
		return writeSearchJSON(w, query, results)
	case FormatJSONL:
		return writeSearchJSONL(w, results)
	}
	return fmt.Errorf("unsupported format %q", format)
}
