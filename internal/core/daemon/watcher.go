package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// Signal says that something belonging to Source may have changed
type Signal struct {
	Source models.Source
	Path   string
}

// watchedExtensions are the file types any source writes
var watchedExtensions = map[string]bool{
	".jsonl": true,
	".json":  true,
	".log":   true,
}

// FileTrigger watches source directories recursively and emits a Signal per relevant file event
type FileTrigger struct {
	watcher *fsnotify.Watcher
	roots   []watchRoot
	logger  *zap.Logger
}

type watchRoot struct {
	path   string
	source models.Source
}

// NewFileTrigger watches every existing root. Missing roots are skipped; a
// trigger with no roots at all is valid and never fires.
func NewFileTrigger(roots map[models.Source][]string, logger *zap.Logger) (*FileTrigger, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &FileTrigger{watcher: watcher, logger: logger}
	for source, paths := range roots {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if info, err := os.Stat(p); err != nil || !info.IsDir() {
				logger.Debug("watch root not present", zap.String("source", string(source)), zap.String("path", p))
				continue
			}
			t.roots = append(t.roots, watchRoot{path: filepath.Clean(p), source: source})
			if err := t.addTree(p); err != nil {
				_ = watcher.Close()
				return nil, err
			}
		}
	}
	// Longest root first so nested roots win the source lookup
	sort.Slice(t.roots, func(i, j int) bool { return len(t.roots[i].path) > len(t.roots[j].path) })
	return t, nil
}

// Roots returns the watched root directories
func (t *FileTrigger) Roots() []string {
	out := make([]string, len(t.roots))
	for i, r := range t.roots {
		out[i] = r.path
	}
	return out
}

// addTree watches dir and every directory below it
func (t *FileTrigger) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory removed mid-walk is not an error
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := t.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run forwards signals to out until ctx is cancelled, then closes the watcher
func (t *FileTrigger) Run(ctx context.Context, out chan<- Signal) error {
	defer func() { _ = t.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-t.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed unexpectedly")
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := t.addTree(event.Name); err != nil {
						t.logger.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
					// Files may have landed before the watch was added
					t.emit(ctx, out, event.Name)
					continue
				}
			}
			if shouldProcessEvent(event) {
				t.logger.Debug("file event", zap.String("op", event.Op.String()), zap.String("path", event.Name))
				t.emit(ctx, out, event.Name)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			t.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (t *FileTrigger) emit(ctx context.Context, out chan<- Signal, path string) {
	source, ok := t.sourceOf(path)
	if !ok {
		return
	}
	select {
	case out <- Signal{Source: source, Path: path}:
	case <-ctx.Done():
	}
}

func (t *FileTrigger) sourceOf(path string) (models.Source, bool) {
	for _, r := range t.roots {
		if path == r.path || strings.HasPrefix(path, r.path+string(filepath.Separator)) {
			return r.source, true
		}
	}
	return "", false
}

// shouldProcessEvent keeps writes, creates and renames of source files
func shouldProcessEvent(event fsnotify.Event) bool {
	if !watchedExtensions[strings.ToLower(filepath.Ext(event.Name))] {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}
