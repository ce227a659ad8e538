package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/metadata"
	"github.com/neilberkman/agentrider/internal/core/models"
)

var (
	showFull bool
	showRefs bool
)

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session with its metrics and events",
	Long: `Show one session: metadata, cost and efficiency metrics, and its events in order.

The id may be the local id, the source's own session id, or a unique prefix.

Examples:
  agentrider show 0ccfddc4
  agentrider show rollout-2025-01-09 --full`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showFull, "full", false, "Print full event content")
	showCmd.Flags().BoolVar(&showRefs, "refs", false, "List issue ids and file paths mentioned in the session")
}

func runShow(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	detail, err := database.ShowSession(args[0])
	if err != nil {
		return err
	}

	s := detail.Session
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", min(len([]rune(title)), 80)))
	fmt.Printf("ID:       %s\n", s.ID)
	fmt.Printf("Native:   %s\n", s.ExternalID)
	fmt.Printf("Source:   %s\n", s.Source)
	if s.Project != "" {
		fmt.Printf("Project:  %s\n", s.Project)
	}
	fmt.Printf("Created:  %s\n", s.CreatedAt.Local().Format("Jan 2, 2006 3:04 PM"))
	fmt.Printf("Updated:  %s (%s)\n", s.UpdatedAt.Local().Format("Jan 2, 2006 3:04 PM"), humanize.Time(s.UpdatedAt))

	if m := detail.Metrics; m != nil {
		printMetrics(m)
	}

	if showRefs {
		printRefs(metadata.Extract(detail.Events))
	}

	fmt.Printf("\nEvents (%d)\n\n", len(detail.Events))
	for _, e := range detail.Events {
		label := strings.ToUpper(string(e.Kind))
		if e.Role != models.RoleNone {
			label += " (" + string(e.Role) + ")"
		}
		if e.IsError {
			label += " !"
		}
		fmt.Printf("[%s] %s\n", e.Timestamp.Local().Format("15:04:05"), label)
		content := e.Content
		if !showFull {
			content = truncate(content, 200)
		}
		if content != "" {
			fmt.Printf("  %s\n", strings.ReplaceAll(content, "\n", "\n  "))
		}
		fmt.Println()
	}
	return nil
}

func printMetrics(m *models.SessionMetrics) {
	fmt.Println()
	fmt.Println("Cost & Efficiency")
	fmt.Println("-----------------")
	if m.Model != "" {
		model := m.Model
		if m.Provider != "" {
			model += " (" + m.Provider + ")"
		}
		fmt.Printf("Model:      %s\n", model)
	}
	fmt.Printf("Tokens:     %s input / %s output\n", humanize.Comma(int64(m.InputTokens)), humanize.Comma(int64(m.OutputTokens)))
	if m.EstimatedCost != nil {
		fmt.Printf("Cost:       $%.4f\n", *m.EstimatedCost)
	}
	fmt.Printf("Messages:   %d user / %d assistant\n", m.UserCount, m.AssistantCount)
	fmt.Printf("Tool calls: %d (%d ok, %d failed)\n", m.ToolCallCount, m.ToolSuccess, m.ToolFailures)
	if m.P50LatencyMs > 0 || m.P95LatencyMs > 0 {
		fmt.Printf("Latency:    p50 %dms, p95 %dms\n", m.P50LatencyMs, m.P95LatencyMs)
	}
	if m.FilesTouched > 0 {
		fmt.Printf("Files:      %d touched (+%d / -%d)\n", m.FilesTouched, m.LinesAdded, m.LinesRemoved)
	}
	fmt.Printf("Errors:     %d\n", m.ErrorCount)
	if m.DurationSeconds > 0 {
		fmt.Printf("Duration:   %s\n", time.Duration(m.DurationSeconds)*time.Second)
	}
}

func printRefs(refs *metadata.References) {
	fmt.Println()
	fmt.Println("References")
	fmt.Println("----------")
	if len(refs.Issues) == 0 && len(refs.Files) == 0 {
		fmt.Println("none")
		return
	}
	for _, issue := range refs.Issues {
		fmt.Printf("Issue:  %-16s %d mentions\n", issue.ID, issue.Mentions)
	}
	for _, f := range refs.Files {
		mark := ""
		if f.LastModifiedEvent >= 0 {
			mark = " (modified)"
		}
		fmt.Printf("File:   %s %d mentions%s\n", f.Path, f.Mentions, mark)
	}
}
