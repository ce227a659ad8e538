package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neilberkman/agentrider/cmd/agentrider/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Start MCP server over the session database",
	Long: `Start an MCP (Model Context Protocol) server that lets an assistant
search and retrieve information from your session history. Every tool call
first runs an incremental ingest of all configured sources.

Example client config:
  {
    "mcpServers": {
      "agentrider": {
        "command": "agentrider",
        "args": ["serve-mcp"]
      }
    }
  }
`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if err := mcp.StartServer(database, newImporter(database), logger, appVersion); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
