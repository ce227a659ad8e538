package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/models"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database location, size and contents",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	fmt.Printf("Database Location: %s\n", database.Path())

	var size uint64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if fi, err := os.Stat(database.Path() + suffix); err == nil {
			size += uint64(fi.Size())
		}
	}
	fmt.Printf("Database Size:     %s\n", humanize.Bytes(size))
	if configPath != "" {
		fmt.Printf("Config File:       %s\n", configPath)
	}
	fmt.Println()

	events, err := database.CountEvents("")
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	total := 0
	fmt.Println("Sessions:")
	for _, s := range models.AllSources {
		n, err := database.CountSessions(s)
		if err != nil {
			return fmt.Errorf("failed to count sessions: %w", err)
		}
		total += n
		fmt.Printf("  %-10s %s\n", s, humanize.Comma(int64(n)))
	}
	fmt.Printf("  %-10s %s\n", "total", humanize.Comma(int64(total)))
	fmt.Printf("Events:            %s\n", humanize.Comma(int64(events)))
	fmt.Println()

	runs, err := database.LastImports()
	if err != nil {
		return fmt.Errorf("failed to read import log: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No imports yet. Run 'agentrider ingest' to import sessions.")
		return nil
	}
	fmt.Println("Last Imports:")
	for _, r := range runs {
		fmt.Printf("  %-10s %s, %s in %s (%d events, %d failed)\n",
			r.Source, r.Status, humanize.Time(r.StartedAt), r.Duration, r.EventsImported, r.Failed)
	}
	return nil
}
