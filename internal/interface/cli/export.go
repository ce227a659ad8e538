package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/internal/core/export"
)

var (
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session to markdown, JSON or JSONL",
	Long: `Export a session with its metrics and ordered events.

Writes to stdout unless --output is given. Markdown uses the built-in
template, or ~/.config/agentrider/export_template.mustache when present.

Examples:
  agentrider export 0ccfddc4
  agentrider export 0ccfddc4 --format json -o session.json
  agentrider export 0ccfddc4 -o session.md`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: stdout)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "Format: markdown, json or jsonl")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
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

	detail, err := database.ShowSession(args[0])
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if exportOutput != "" {
		outputPath, err := filepath.Abs(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to resolve output path: %w", err)
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		w = f
		defer fmt.Fprintf(os.Stderr, "Exported session to: %s\n", outputPath)
	}

	return export.Session(w, detail, format, export.WithTemplate(currentConfig().ExportTemplate))
}
