package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/importer"
)

var (
	ingestFull  bool
	ingestQuiet bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source|all]",
	Short: "Import sessions from one or all sources",
	Long: `Import sessions from Claude Code, Codex, OpenCode and Crush.

Performs incremental sync by default - only artifacts that changed since the
last run are read, and line-based logs resume where they stopped.
Use --full to re-read everything; stored events are never duplicated.

Examples:
  agentrider ingest
  agentrider ingest claude
  agentrider ingest codex,crush --full`,
	Aliases: []string{"sync"},
	Args:    cobra.MaximumNArgs(1),
	RunE:    runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVar(&ingestFull, "full", false, "Ignore checkpoints and re-read every artifact")
	ingestCmd.Flags().BoolVarP(&ingestQuiet, "quiet", "q", false, "Hide the progress bar")
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	opts := importer.Options{Full: ingestFull}
	if !ingestQuiet {
		opts.Progress = importer.NewProgressReporter(os.Stderr)
	}

	imp := newImporter(database)
	summaries, err := imp.IngestAll(cmd.Context(), sources, opts)
	printSummaries(summaries)
	if err != nil {
		if errors.Is(err, importer.ErrNoSources) {
			return fmt.Errorf("%w (run 'agentrider health' to see what is missing)", err)
		}
		return err
	}
	return nil
}

func printSummaries(summaries []importer.Summary) {
	fmt.Println()
	fmt.Printf("%-10s %-8s %9s %8s %8s %8s %8s\n", "SOURCE", "STATUS", "ARTIFACTS", "SKIPPED", "SESSIONS", "EVENTS", "FAILED")
	for _, s := range summaries {
		fmt.Printf("%-10s %-8s %9d %8d %8d %8d %8d\n",
			s.Source, s.Status(), s.Total, s.Skipped, s.Sessions, s.Imported, s.Failed)
	}
	for _, s := range summaries {
		if s.Err != nil {
			fmt.Printf("  %s: %v\n", s.Source, s.Err)
		}
	}

	var total time.Duration
	for _, s := range summaries {
		if s.Duration > total {
			total = s.Duration
		}
	}
	fmt.Printf("\nCompleted in %s\n", total.Round(time.Millisecond))
}
