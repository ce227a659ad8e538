package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/daemon"
	"github.com/neilberkman/agentrider/internal/core/importer"
)

var watchCmd = &cobra.Command{
	Use:   "watch [sources...]",
	Short: "Keep the database in sync as sessions change",
	Long: `Watch source directories and Crush databases and re-ingest on change.

File-based sources (Claude Code, Codex, OpenCode storage and logs) are watched
with filesystem notifications; Crush databases are probed on an interval.
Changes are debounced per source. Stop with Ctrl-C.

Examples:
  agentrider watch
  agentrider watch claude codex`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := currentConfig()
	w := daemon.New(newImporter(database), daemon.Options{
		Sources:      sources,
		Debounce:     c.Watch.Debounce,
		PollInterval: c.Watch.PollInterval,
		OnIngest: func(s importer.Summary) {
			if s.Imported > 0 || s.Failed > 0 {
				fmt.Printf("✓ %s: %d new event(s), %d failed\n", s.Source, s.Imported, s.Failed)
			}
		},
	}, logger)

	fmt.Fprintln(os.Stderr, "Watching for session changes (Ctrl-C to stop)...")
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	stats := w.Stats()
	logger.Info("watch stopped",
		zap.Int("cycles", stats.Cycles),
		zap.Int("imported", stats.EventsImported),
		zap.Int("errors", stats.Errors))
	return nil
}
