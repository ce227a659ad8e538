package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/export"
	"github.com/neilberkman/agentrider/internal/core/models"
	"github.com/neilberkman/agentrider/internal/core/search"
)

var (
	searchLimit   int
	searchSource  string
	searchProject string
	searchKind    string
	searchSince   string
	searchCode    bool
	searchFormat  string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across every source",
	Long: `Search event content across all imported sessions.

Uses FTS5 full-text search with porter stemming for natural language;
--code switches to the unstemmed index for identifiers. Queries containing
characters like - _ / fall back to exact substring matching.

Filters can be given as flags or inline: source:codex project:widgets
kind:tool_call after:yesterday before:2025-01-01

Examples:
  agentrider search "rate limiter"
  agentrider search "ENA-7030"
  agentrider search timeout source:crush after:7d
  agentrider search "error handling" --kind error --limit 10 --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "Filter by source")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "Filter by project (substring)")
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "Filter by event kind (message, tool_call, tool_result, error, system)")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "Only events since (7d, 2w, 2025-01-01, yesterday)")
	searchCmd.Flags().BoolVar(&searchCode, "code", false, "Search the unstemmed code index")
	searchCmd.Flags().StringVar(&searchFormat, "format", "", "Write results as markdown, json or jsonl instead of text")
}

func buildSearchQuery(args []string) (search.Query, error) {
	now := time.Now()
	q := search.ParseQuery(strings.Join(args, " "), now)
	q.Limit = searchLimit
	q.Code = searchCode

	// Flags override inline filters
	if searchSource != "" {
		s, err := models.ParseSource(searchSource)
		if err != nil {
			return q, err
		}
		q.Source = s
	}
	if searchProject != "" {
		q.Project = searchProject
	}
	if searchKind != "" {
		k, err := models.ParseKind(searchKind)
		if err != nil {
			return q, err
		}
		q.Kind = k
	}
	if searchSince != "" {
		t, err := search.ParseSince(searchSince, now)
		if err != nil {
			return q, err
		}
		q.Since = t
	}
	return q, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	q, err := buildSearchQuery(args)
	if err != nil {
		return err
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	results, err := search.SearchEvents(database, q)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchFormat != "" {
		format, err := export.ParseFormat(searchFormat)
		if err != nil {
			return err
		}
		return export.Search(os.Stdout, q.Text, results, format)
	}

	if len(results) == 0 {
		fmt.Printf("No results found for: %s\n", q.Text)
		return nil
	}

	fmt.Printf("Found %d match(es) for: %s\n\n", len(results), q.Text)
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = r.ExternalID
		}
		fmt.Printf("%d. [%s] %s\n", i+1, r.Source, truncate(title, 70))
		fmt.Printf("   Session: %s", r.ExternalID)
		if r.Project != "" {
			fmt.Printf("  Project: %s", r.Project)
		}
		fmt.Println()
		label := string(r.Kind)
		if r.Role != models.RoleNone {
			label += "/" + string(r.Role)
		}
		fmt.Printf("   %s, %s\n", label, humanize.Time(r.Timestamp))
		fmt.Printf("   %s\n\n", truncate(r.Snippet, 200))
	}
	return nil
}
