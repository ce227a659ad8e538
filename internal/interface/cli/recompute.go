package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild derived metrics for every session",
	Long: `Recompute tool calls, file touches, token usage, cost and latency metrics
from stored events. Useful after a pricing table update.`,
	Args: cobra.NoArgs,
	RunE: runRecompute,
}

func init() {
	rootCmd.AddCommand(recomputeCmd)
}

func runRecompute(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() {
		_ = database.Close()
	}()

	n, err := newImporter(database).Recompute(cmd.Context(), func(done, total int) {
		fmt.Fprintf(os.Stderr, "\rRecomputing metrics... %d/%d", done, total)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	fmt.Printf("Recomputed metrics for %d session(s)\n", n)
	return nil
}
