package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// OpenCodeOptions locates the three OpenCode sub-sources
type OpenCodeOptions struct {
	StorageDir string
	LogDir     string
	AuthPath   string
	Command    string // CLI binary; empty disables the command sub-source
	Timeout    time.Duration
}

// OpenCode correlates the CLI export, the JSON storage tree and the rotating
// logs by session id
type OpenCode struct {
	opts   OpenCodeOptions
	logger *zap.Logger
}

// NewOpenCode creates the adapter
func NewOpenCode(opts OpenCodeOptions, logger *zap.Logger) *OpenCode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &OpenCode{opts: opts, logger: logger.With(zap.String("source", string(models.SourceOpenCode)))}
}

func (o *OpenCode) Source() models.Source { return models.SourceOpenCode }

// WatchRoots returns the directories whose changes should trigger an ingest
func (o *OpenCode) WatchRoots() []string {
	return []string{o.opts.StorageDir, o.opts.LogDir}
}

const exportPrefix = "export:"

// Discover gathers artifacts from every sub-source. A failing sub-source is
// logged and skipped; discovery fails only when none of them is present.
func (o *OpenCode) Discover(ctx context.Context) ([]Artifact, error) {
	var (
		artifacts []Artifact
		found     bool
		covered   = map[string]bool{}
	)

	if o.cliAvailable() {
		list, err := o.listSessions(ctx)
		if err != nil {
			o.logger.Warn("command sub-source unavailable", zap.Error(err))
		} else {
			found = true
			for _, item := range list {
				covered[item.ID] = true
				artifacts = append(artifacts, Artifact{
					Source:  models.SourceOpenCode,
					ID:      exportPrefix + item.ID,
					Path:    o.opts.Command,
					Marker:  fmt.Sprintf("%d", item.Updated),
					Kind:    KindExport,
					Project: item.Directory,
					ModTime: epochTime(item.Updated),
				})
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dirExists(o.opts.StorageDir) {
		found = true
		stored, err := o.discoverStorage(ctx, covered)
		if err != nil {
			o.logger.Warn("storage sub-source unreadable", zap.String("path", o.opts.StorageDir), zap.Error(err))
		}
		artifacts = append(artifacts, stored...)
	}

	if dirExists(o.opts.LogDir) {
		found = true
		logs, err := discoverLogs(o.opts.LogDir)
		if err != nil {
			o.logger.Warn("log sub-source unreadable", zap.String("path", o.opts.LogDir), zap.Error(err))
		}
		artifacts = append(artifacts, logs...)
	}

	if !found {
		return nil, &DiscoveryError{
			Source: models.SourceOpenCode,
			Path:   o.opts.StorageDir,
			Err:    errors.New("no command, storage or logs found"),
		}
	}
	return artifacts, nil
}

// Parse dispatches on the sub-source the artifact came from
func (o *OpenCode) Parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	return validated(o.parse(ctx, artifact, cursor))
}

func (o *OpenCode) parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	switch artifact.Kind {
	case KindExport:
		doc, err := o.export(ctx, strings.TrimPrefix(artifact.ID, exportPrefix))
		if err != nil {
			return nil, err
		}
		return documentResult(doc, 0)

	case KindStorage:
		doc, failed, err := readStorageSession(o.opts.StorageDir, artifact.Path)
		if err != nil {
			return nil, err
		}
		return documentResult(doc, failed)

	case KindLog:
		return o.parseLog(ctx, artifact, cursor)
	}
	return nil, fmt.Errorf("unsupported opencode artifact kind %q", artifact.Kind)
}

func documentResult(doc *ocDocument, failed int) (*ParseResult, error) {
	draft, err := convertDocument(doc)
	if err != nil {
		return nil, err
	}
	return &ParseResult{Sessions: []SessionDraft{draft}, Failed: failed}, nil
}

// HealthCheck is healthy when the CLI or the storage tree is reachable and
// degraded when only logs remain
func (o *OpenCode) HealthCheck(ctx context.Context) models.SourceHealth {
	h := models.SourceHealth{Source: models.SourceOpenCode, Path: o.opts.StorageDir}

	var found []string
	hasCLI := o.cliAvailable()
	if hasCLI {
		found = append(found, "cli")
	}
	hasStorage := dirExists(o.opts.StorageDir)
	if hasStorage {
		found = append(found, "storage")
	}
	hasLogs := dirExists(o.opts.LogDir)
	if hasLogs {
		found = append(found, "logs")
	}

	switch {
	case hasCLI || hasStorage:
		h.Status = models.HealthHealthy
	case hasLogs:
		h.Status = models.HealthDegraded
		h.Path = o.opts.LogDir
	default:
		h.Status = models.HealthUnhealthy
		h.Message = "no opencode command, storage or logs found"
		return h
	}

	h.Message = "found " + strings.Join(found, ", ")
	if providers := authProviders(o.opts.AuthPath); len(providers) > 0 {
		h.Message += "; providers: " + strings.Join(providers, ", ")
	}
	return h
}

func (o *OpenCode) cliAvailable() bool {
	if o.opts.Command == "" {
		return false
	}
	_, err := exec.LookPath(o.opts.Command)
	return err == nil
}

// authProviders lists the provider names configured in auth.json
func authProviders(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var auth map[string]json.RawMessage
	if json.Unmarshal(data, &auth) != nil {
		return nil
	}
	names := make([]string, 0, len(auth))
	for name := range auth {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// logFiles lists *.log files in dir, oldest name first
func logFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
