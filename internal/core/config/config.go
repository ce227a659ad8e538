package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds source locations and tuning knobs. Zero values mean "use the default".
type Config struct {
	Claude   ClaudeConfig
	OpenCode OpenCodeConfig
	Crush    CrushConfig
	Watch    WatchConfig
	Database DatabaseConfig

	// ExportTemplate overrides the markdown export template when set
	ExportTemplate string
}

type ClaudeConfig struct {
	ProjectsDir string
}

type OpenCodeConfig struct {
	StorageDir     string
	LogDir         string
	AuthPath       string
	Command        string
	CommandTimeout time.Duration
}

type CrushConfig struct {
	Paths       []string
	SearchRoots []string
	MaxDepth    int
}

type WatchConfig struct {
	Debounce     time.Duration
	PollInterval time.Duration
}

type DatabaseConfig struct {
	Path string
}

type tomlConfig struct {
	Claude struct {
		ProjectsDir string `toml:"projects_dir"`
	} `toml:"claude"`
	OpenCode struct {
		StorageDir     string `toml:"storage_dir"`
		LogDir         string `toml:"log_dir"`
		AuthPath       string `toml:"auth_path"`
		Command        string `toml:"command"`
		CommandTimeout string `toml:"command_timeout"`
	} `toml:"opencode"`
	Crush struct {
		Paths       []string `toml:"paths"`
		SearchRoots []string `toml:"search_roots"`
		MaxDepth    int      `toml:"max_depth"`
	} `toml:"crush"`
	Watch struct {
		Debounce     string `toml:"debounce"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"watch"`
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
}

// Dir returns ~/.config/agentrider
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "agentrider")
	}
	return filepath.Join(home, ".config", "agentrider")
}

// Default returns the configuration used when no file exists
func Default() *Config {
	home, _ := os.UserHomeDir()
	share := filepath.Join(home, ".local", "share", "opencode")
	return &Config{
		Claude: ClaudeConfig{ProjectsDir: filepath.Join(home, ".claude", "projects")},
		OpenCode: OpenCodeConfig{
			StorageDir:     filepath.Join(share, "storage"),
			LogDir:         filepath.Join(share, "log"),
			AuthPath:       filepath.Join(share, "auth.json"),
			Command:        "opencode",
			CommandTimeout: 30 * time.Second,
		},
		Crush: CrushConfig{
			Paths:    []string{filepath.Join(home, ".crush", "crush.db")},
			MaxDepth: 6,
		},
		Watch: WatchConfig{
			Debounce:     2 * time.Second,
			PollInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{Path: filepath.Join(Dir(), "sessions.db")},
	}
}

// Load reads config from ~/.config/agentrider/config.toml, or from path when non-empty.
// A missing file yields the defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	configDir := Dir()
	if path == "" {
		path = filepath.Join(configDir, "config.toml")
	} else {
		configDir = filepath.Dir(path)
	}

	// Load TOML config if it exists
	if _, err := os.Stat(path); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(path, &tc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := cfg.apply(&tc); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}

	// If a custom export template exists, use it
	if data, err := os.ReadFile(filepath.Join(configDir, "export_template.mustache")); err == nil {
		cfg.ExportTemplate = string(data)
	}

	return cfg, nil
}

func (c *Config) apply(tc *tomlConfig) error {
	setString(&c.Claude.ProjectsDir, expandHome(tc.Claude.ProjectsDir))
	setString(&c.OpenCode.StorageDir, expandHome(tc.OpenCode.StorageDir))
	setString(&c.OpenCode.LogDir, expandHome(tc.OpenCode.LogDir))
	setString(&c.OpenCode.AuthPath, expandHome(tc.OpenCode.AuthPath))
	setString(&c.OpenCode.Command, tc.OpenCode.Command)
	setString(&c.Database.Path, expandHome(tc.Database.Path))

	if len(tc.Crush.Paths) > 0 {
		c.Crush.Paths = expandAll(tc.Crush.Paths)
	}
	if len(tc.Crush.SearchRoots) > 0 {
		c.Crush.SearchRoots = expandAll(tc.Crush.SearchRoots)
	}
	if tc.Crush.MaxDepth > 0 {
		c.Crush.MaxDepth = tc.Crush.MaxDepth
	}

	durations := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"opencode.command_timeout", tc.OpenCode.CommandTimeout, &c.OpenCode.CommandTimeout},
		{"watch.debounce", tc.Watch.Debounce, &c.Watch.Debounce},
		{"watch.poll_interval", tc.Watch.PollInterval, &c.Watch.PollInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
		*d.dest = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func expandAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = expandHome(p)
	}
	return out
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(p string) string {
	if p == "~" || (len(p) > 1 && p[0] == '~' && p[1] == '/') {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
