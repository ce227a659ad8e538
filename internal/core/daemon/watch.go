package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neilberkman/agentrider/internal/core/adapters"
	"github.com/neilberkman/agentrider/internal/core/importer"
	"github.com/neilberkman/agentrider/internal/core/models"
)

const (
	defaultDebounce = 2 * time.Second
	defaultTick     = 250 * time.Millisecond
)

// Options tunes the watch loop
type Options struct {
	// Sources limits watching to these sources; empty means every registered source
	Sources      []models.Source
	Debounce     time.Duration
	PollInterval time.Duration
	// Tick is how often pending signals are checked against the debounce window
	Tick time.Duration
	// OnIngest is called after every ingest cycle, from the watch loop goroutine
	OnIngest func(importer.Summary)
}

// Stats tracks watch activity
type Stats struct {
	StartTime      time.Time
	Signals        int
	Cycles         int
	EventsImported int
	LastSync       time.Time
	Errors         int
}

// Watcher turns change signals into debounced per-source ingests
type Watcher struct {
	importer *importer.Importer
	opts     Options
	logger   *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a watcher driving imp
func New(imp *importer.Importer, opts Options, logger *zap.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{importer: imp, opts: opts, logger: logger}
}

// Stats returns a snapshot of the watch counters
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Run starts the triggers, performs an initial ingest of every watched source
// and then re-ingests a source once its signals have been quiet for the
// debounce window. It returns when ctx is cancelled and all triggers have stopped.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	w.stats = Stats{StartTime: time.Now()}
	w.mu.Unlock()

	sources := w.opts.Sources
	if len(sources) == 0 {
		sources = w.importer.Registry().Sources()
	}

	roots, pollers := w.triggerTargets(sources)
	files, err := NewFileTrigger(roots, w.logger)
	if err != nil {
		return err
	}

	signals := make(chan Signal, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return files.Run(gctx, signals) })
	for _, poller := range pollers {
		poller.Prime(ctx)
		g.Go(func() error { return poller.Run(gctx, signals) })
	}

	w.logger.Info("watch starting", zap.Strings("roots", files.Roots()), zap.Int("pollers", len(pollers)))

	w.logger.Info("performing initial sync")
	summaries, err := w.importer.IngestAll(ctx, sources, importer.Options{})
	for _, s := range summaries {
		w.observe(s)
	}
	if err != nil && ctx.Err() == nil {
		// Keep watching: a source may appear later
		w.logger.Warn("initial sync failed", zap.Error(err))
	}

	loopErr := w.loop(gctx, signals)
	w.logger.Info("watch shutting down")
	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

// triggerTargets splits sources into watched directories and database pollers
func (w *Watcher) triggerTargets(sources []models.Source) (map[models.Source][]string, []*DBPoller) {
	roots := map[models.Source][]string{}
	var pollers []*DBPoller
	for _, s := range sources {
		a, err := w.importer.Registry().Get(s)
		if err != nil {
			continue
		}
		if wa, ok := a.(adapters.Watchable); ok {
			roots[s] = wa.WatchRoots()
		}
		if pa, ok := a.(adapters.Pollable); ok {
			pollers = append(pollers, NewDBPoller(s, pa.Databases, w.opts.PollInterval, w.logger))
		}
	}
	return roots, pollers
}

func (w *Watcher) loop(ctx context.Context, signals <-chan Signal) error {
	ticker := time.NewTicker(w.opts.Tick)
	defer ticker.Stop()

	// last signal time per source
	pending := map[models.Source]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-signals:
			w.mu.Lock()
			w.stats.Signals++
			w.mu.Unlock()
			pending[sig.Source] = time.Now()

		case now := <-ticker.C:
			for source, last := range pending {
				if now.Sub(last) < w.opts.Debounce {
					continue
				}
				delete(pending, source)
				sum := w.importer.IngestOne(ctx, source, importer.Options{})
				w.observe(sum)
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}

func (w *Watcher) observe(sum importer.Summary) {
	w.mu.Lock()
	w.stats.Cycles++
	w.stats.EventsImported += sum.Imported
	w.stats.LastSync = time.Now()
	if sum.Err != nil || sum.Failed > 0 {
		w.stats.Errors++
	}
	w.mu.Unlock()

	if sum.Err != nil && !errors.Is(sum.Err, context.Canceled) {
		w.logger.Debug("ingest cycle failed", zap.String("source", string(sum.Source)), zap.Error(sum.Err))
	} else if sum.Imported > 0 {
		w.logger.Info("synced",
			zap.String("source", string(sum.Source)),
			zap.Int("imported", sum.Imported),
			zap.Int("failed", sum.Failed))
	}
	if w.opts.OnIngest != nil {
		w.opts.OnIngest(sum)
	}
}
