package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/search"
)

var (
	statsSince  string
	statsUntil  string
	statsOutput string
)

var statsCmd = &cobra.Command{
	Use:   "stats [dimension]",
	Short: "Show activity, tool, file and cost statistics",
	Long: `Without a dimension, show database totals. With one, aggregate by it:

  ` + strings.Join(db.Dimensions(), ", ") + `

Examples:
  agentrider stats
  agentrider stats tools --since 7d
  agentrider stats cost --since 2025-01-01 --until 2025-02-01 --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsSince, "since", "", "Start of the time range (7d, 2025-01-01, last week)")
	statsCmd.Flags().StringVar(&statsUntil, "until", "", "End of the time range")
	statsCmd.Flags().StringVarP(&statsOutput, "output", "o", outputTable, "Output format: table, json or yaml")
}

type statsOverview struct {
	Sessions          int            `json:"sessions" yaml:"sessions"`
	Events            int            `json:"events" yaml:"events"`
	ToolCalls         int            `json:"tool_calls" yaml:"tool_calls"`
	BySource          map[string]int `json:"by_source" yaml:"by_source"`
	Oldest            *time.Time     `json:"oldest,omitempty" yaml:"oldest,omitempty"`
	Newest            *time.Time     `json:"newest,omitempty" yaml:"newest,omitempty"`
	MostActiveProject string         `json:"most_active_project,omitempty" yaml:"most_active_project,omitempty"`
}

type statsTable struct {
	Dimension string                   `json:"dimension" yaml:"dimension"`
	Rows      []map[string]interface{} `json:"rows" yaml:"rows"`
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := checkOutput(statsOutput); err != nil {
		return err
	}

	now := time.Now()
	var since, until time.Time
	var err error
	if statsSince != "" {
		if since, err = search.ParseSince(statsSince, now); err != nil {
			return err
		}
	}
	if statsUntil != "" {
		if until, err = search.ParseSince(statsUntil, now); err != nil {
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

	if len(args) == 0 {
		return printOverview(database)
	}

	table, err := database.AggregateStats(args[0], since, until)
	if err != nil {
		return err
	}

	if statsOutput != outputTable {
		out := statsTable{Dimension: table.Dimension, Rows: make([]map[string]interface{}, 0, len(table.Rows))}
		for _, r := range table.Rows {
			row := map[string]interface{}{"key": r.Key}
			for i, col := range table.Columns {
				row[col] = r.Values[i]
			}
			out.Rows = append(out.Rows, row)
		}
		return writeStructured(os.Stdout, statsOutput, out)
	}

	if len(table.Rows) == 0 {
		fmt.Println("No data in range")
		return nil
	}
	headers := append([]string{table.Dimension}, table.Columns...)
	t := ltable.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
	for _, r := range table.Rows {
		cells := []string{truncate(r.Key, 60)}
		for i, v := range r.Values {
			cells = append(cells, formatStat(table.Columns[i], v))
		}
		t.Row(cells...)
	}
	fmt.Println(t.Render())
	return nil
}

func formatStat(column string, v float64) string {
	switch {
	case column == "cost":
		return fmt.Sprintf("$%.4f", v)
	case strings.HasSuffix(column, "_ms"):
		return fmt.Sprintf("%.0fms", v)
	}
	return humanize.Comma(int64(v))
}

func printOverview(database *db.DB) error {
	stats, err := database.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if statsOutput != outputTable {
		out := statsOverview{
			Sessions:          stats.TotalSessions,
			Events:            stats.TotalEvents,
			ToolCalls:         stats.TotalToolCalls,
			BySource:          stats.SessionsBySource,
			MostActiveProject: stats.MostActiveProject,
		}
		if !stats.OldestSession.IsZero() {
			out.Oldest, out.Newest = &stats.OldestSession, &stats.NewestSession
		}
		return writeStructured(os.Stdout, statsOutput, out)
	}

	fmt.Println("Database Statistics")
	fmt.Println("===================")
	fmt.Println()
	fmt.Printf("Total Sessions:    %s\n", humanize.Comma(int64(stats.TotalSessions)))
	fmt.Printf("Total Events:      %s\n", humanize.Comma(int64(stats.TotalEvents)))
	fmt.Printf("Total Tool Calls:  %s\n", humanize.Comma(int64(stats.TotalToolCalls)))
	fmt.Println()

	if len(stats.SessionsBySource) > 0 {
		sources := make([]string, 0, len(stats.SessionsBySource))
		for s := range stats.SessionsBySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		fmt.Println("Sessions by Source:")
		for _, s := range sources {
			fmt.Printf("  %-10s %d\n", s, stats.SessionsBySource[s])
		}
		fmt.Println()
	}

	if stats.TotalSessions > 0 {
		fmt.Printf("Oldest Session:    %s\n", stats.OldestSession.Local().Format("Jan 2, 2006 3:04 PM"))
		fmt.Printf("Newest Session:    %s\n", stats.NewestSession.Local().Format("Jan 2, 2006 3:04 PM"))
		if stats.MostActiveProject != "" {
			fmt.Println()
			fmt.Printf("Most Active Project:\n")
			fmt.Printf("  Path:     %s\n", stats.MostActiveProject)
			fmt.Printf("  Sessions: %d\n", stats.MostActiveProjectCount)
		}
	}
	return nil
}
