package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/search"
)

var (
	listLimit   int
	listSource  string
	listProject string
	listSince   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List imported sessions from every source, most recently updated first.

Shows titles, sources, project paths, event counts, and timestamps.

Examples:
  agentrider list
  agentrider list --limit 10
  agentrider list --source codex --since 7d
  agentrider list --project widgets --since yesterday`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of sessions to display")
	listCmd.Flags().StringVar(&listSource, "source", "", "Filter by source (claude, codex, opencode, crush)")
	listCmd.Flags().StringVar(&listProject, "project", "", "Filter by project (substring)")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only sessions updated since (7d, 2w, 2025-01-01, yesterday)")
}

func runList(cmd *cobra.Command, args []string) error {
	source, err := parseSourceFlag(listSource)
	if err != nil {
		return err
	}
	filter := db.SessionFilter{Source: source, Project: listProject, Limit: listLimit}
	if listSince != "" {
		filter.Since, err = search.ParseSince(listSince, time.Now())
		if err != nil {
			return err
		}
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	sessions, err := database.QuerySessions(filter)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found. Run 'agentrider ingest' to import sessions.")
		return nil
	}

	fmt.Printf("Showing %d session(s)\n\n", len(sessions))
	for i, s := range sessions {
		fmt.Printf("[%d] %s  (%s)\n", i+1, s.ExternalID, s.Source)
		if s.Title != "" {
			fmt.Printf("    Title:   %s\n", truncate(s.Title, 80))
		}
		if s.Project != "" {
			fmt.Printf("    Project: %s\n", s.Project)
		}
		fmt.Printf("    Events:  %d\n", s.EventCount)
		fmt.Printf("    Updated: %s\n", humanize.Time(s.UpdatedAt))
		fmt.Printf("    Created: %s\n", s.CreatedAt.Local().Format("Jan 2, 2006 3:04 PM"))
		fmt.Println()
	}
	return nil
}
