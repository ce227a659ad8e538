package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/models"
)

var healthOutput string

var healthCmd = &cobra.Command{
	Use:     "health [sources...]",
	Aliases: []string{"doctor"},
	Short:   "Check that every source is reachable",
	Long: `Run a cheap reachability check for each source and show the last ingest run.

Examples:
  agentrider health
  agentrider doctor opencode
  agentrider health --output json`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVarP(&healthOutput, "output", "o", outputTable, "Output format: table, json or yaml")
}

type healthReport struct {
	models.SourceHealth `yaml:",inline"`
	LastRun             *lastRun `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

type lastRun struct {
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Status    string    `json:"status" yaml:"status"`
	Imported  int       `json:"imported" yaml:"imported"`
	Failed    int       `json:"failed" yaml:"failed"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	if err := checkOutput(healthOutput); err != nil {
		return err
	}
	sources, err := parseSources(args)
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

	runs := map[string]*lastRun{}
	if imports, err := database.LastImports(); err == nil {
		for _, r := range imports {
			runs[r.Source] = &lastRun{
				StartedAt: r.StartedAt,
				Status:    r.Status,
				Imported:  r.EventsImported,
				Failed:    r.Failed,
				Error:     r.ErrorMessage,
			}
		}
	}

	var reports []healthReport
	for _, h := range newImporter(database).Health(cmd.Context(), sources) {
		reports = append(reports, healthReport{SourceHealth: h, LastRun: runs[string(h.Source)]})
	}

	if healthOutput != outputTable {
		return writeStructured(os.Stdout, healthOutput, reports)
	}

	for _, r := range reports {
		fmt.Printf("%s %-9s %s\n", statusIcon(r.Status), r.Source, r.Status)
		if r.Path != "" {
			fmt.Printf("    Path:     %s\n", r.Path)
		}
		if r.Message != "" {
			fmt.Printf("    Details:  %s\n", r.Message)
		}
		if r.LastRun != nil {
			fmt.Printf("    Last run: %s (%s, %d events, %d failed)\n",
				humanize.Time(r.LastRun.StartedAt), r.LastRun.Status, r.LastRun.Imported, r.LastRun.Failed)
		} else {
			fmt.Printf("    Last run: never\n")
		}
		fmt.Println()
	}
	return nil
}

func statusIcon(s models.HealthStatus) string {
	switch s {
	case models.HealthHealthy:
		return "✓"
	case models.HealthDegraded:
		return "!"
	case models.HealthUnhealthy:
		return "✗"
	}
	return "?"
}
