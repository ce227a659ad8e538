package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/search"
)

var findCmd = &cobra.Command{
	Use:   "find [query]",
	Short: "Find sessions by issue ID, file path, title or content",
	Long: `Find sessions with a tiered lookup: exact issue ID or file path matches first,
then session titles and projects, then event content.

Examples:
  agentrider find ena-6530             Sessions mentioning ena-6530
  agentrider find --file schema.go     Sessions whose tools touched schema.go
  agentrider find "rate limiter"`,
	RunE: runFind,
}

var (
	findIssue string
	findFile  string
	findLimit int
)

func init() {
	rootCmd.AddCommand(findCmd)

	findCmd.Flags().StringVar(&findIssue, "issue", "", "Find sessions by issue ID")
	findCmd.Flags().StringVar(&findFile, "file", "", "Find sessions by file path")
	findCmd.Flags().IntVar(&findLimit, "limit", 20, "Maximum number of sessions")
}

func runFind(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	if query == "" && findIssue == "" && findFile == "" {
		return cmd.Help()
	}

	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	var matches []search.SessionMatch
	switch {
	case findIssue != "":
		query = findIssue
		matches, err = search.FindByIssue(database, findIssue, findLimit)
	case findFile != "":
		query = findFile
		matches, err = search.FindByFile(database, findFile, findLimit)
	default:
		matches, err = search.Find(database, query, findLimit)
	}
	if err != nil {
		return fmt.Errorf("failed to find sessions: %w", err)
	}

	if len(matches) == 0 {
		fmt.Printf("No sessions found for: %s\n", query)
		return nil
	}

	fmt.Printf("Found %d session(s) for %s [method: %s]:\n\n", len(matches), query, matches[0].Method)
	for i, m := range matches {
		s := m.Session
		fmt.Printf("%d. %s  (%s)\n", i+1, s.ExternalID, s.Source)
		if s.Title != "" {
			fmt.Printf("   Title:   %s\n", truncate(s.Title, 200))
		}
		if s.Project != "" {
			fmt.Printf("   Project: %s\n", s.Project)
		}
		fmt.Printf("   Updated: %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		if m.Hits > 0 {
			fmt.Printf("   Hits:    %d\n", m.Hits)
		}
		if m.Relevance < 1.0 {
			fmt.Printf("   Relevance: %.0f%%\n", m.Relevance*100)
		}
		fmt.Println()
	}
	return nil
}
