package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/adapters"
	"github.com/neilberkman/agentrider/internal/core/config"
	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/importer"
	"github.com/neilberkman/agentrider/internal/core/logging"
	"github.com/neilberkman/agentrider/internal/core/models"
)

var (
	dbPath      string
	configPath  string
	verbose     bool
	versionInfo string
	appVersion  = "dev"

	cfg    *config.Config
	logger = zap.NewNop()
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	appVersion = version
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentrider",
	Short: "Search and analyze AI coding assistant sessions",
	Long: `agentrider - ingest, search, and analyze sessions from Claude Code, Codex, OpenCode, and Crush

Sessions from every assistant are normalized into one local SQLite database
with full-text search, incremental sync, and per-session cost and tool metrics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return err
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// An explicit --db wins over the config file
		if !cmd.Flags().Changed("db") && cfg.Database.Path != "" {
			dbPath = cfg.Database.Path
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the browser if no subcommand specified
		return browseCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", filepath.Join(config.Dir(), "sessions.db"), "Database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/agentrider/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// openDB opens the database, creating its directory on first use
func openDB() (*db.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	database, err := db.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

func currentConfig() *config.Config {
	if cfg == nil {
		return config.Default()
	}
	return cfg
}

// newImporter wires every configured adapter to database
func newImporter(database *db.DB) *importer.Importer {
	return importer.New(database, adapters.FromConfig(currentConfig(), logger), logger)
}

// parseSources turns CLI arguments into sources; no arguments or "all" means every source
func parseSources(args []string) ([]models.Source, error) {
	var sources []models.Source
	for _, arg := range args {
		for _, name := range strings.Split(arg, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				return nil, nil
			}
			s, err := models.ParseSource(name)
			if err != nil {
				return nil, err
			}
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// parseSourceFlag parses an optional --source value
func parseSourceFlag(value string) (models.Source, error) {
	if value == "" {
		return "", nil
	}
	return models.ParseSource(value)
}
