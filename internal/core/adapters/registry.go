package adapters

import (
	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/config"
)

// FromConfig builds the registry of all four adapters
func FromConfig(cfg *config.Config, logger *zap.Logger) *Registry {
	return NewRegistry(
		NewClaude(cfg.Claude.ProjectsDir, logger),
		NewCodex(DefaultCodexRoot(), logger),
		NewOpenCode(OpenCodeOptions{
			StorageDir: cfg.OpenCode.StorageDir,
			LogDir:     cfg.OpenCode.LogDir,
			AuthPath:   cfg.OpenCode.AuthPath,
			Command:    cfg.OpenCode.Command,
			Timeout:    cfg.OpenCode.CommandTimeout,
		}, logger),
		NewCrush(CrushOptions{
			Paths:       cfg.Crush.Paths,
			SearchRoots: cfg.Crush.SearchRoots,
			MaxDepth:    cfg.Crush.MaxDepth,
		}, logger),
	)
}
