package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neilberkman/agentrider/internal/core/adapters"
	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/models"
)

// ErrNoSources means not a single source could be discovered
var ErrNoSources = errors.New("no sources available")

// Options controls one ingest run
type Options struct {
	// Full ignores checkpoints and re-reads every artifact from the start
	Full     bool
	Progress ProgressCallback
}

// Summary reports one source's ingest run
type Summary struct {
	Source   models.Source
	Imported int // events written
	Failed   int // skipped records plus failed artifacts
	Total    int // artifacts discovered
	Skipped  int // artifacts unchanged since their checkpoint
	Sessions int // sessions touched
	Duration time.Duration
	Err      error // set when discovery failed
}

// Status classifies the run for the import log
func (s Summary) Status() string {
	switch {
	case s.Err != nil:
		return "failed"
	case s.Failed > 0:
		return "partial"
	}
	return "success"
}

// Importer runs adapters and writes what they parse into the database
type Importer struct {
	db       *db.DB
	registry *adapters.Registry
	logger   *zap.Logger
}

// New creates a new importer
func New(database *db.DB, registry *adapters.Registry, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{db: database, registry: registry, logger: logger}
}

// Registry returns the adapters the importer drives
func (i *Importer) Registry() *adapters.Registry {
	return i.registry
}

// IngestOne ingests every changed artifact of one source. Artifacts are
// processed sequentially; each one commits in its own transaction together
// with its checkpoint.
func (i *Importer) IngestOne(ctx context.Context, source models.Source, opts Options) Summary {
	start := time.Now()
	sum := Summary{Source: source}
	log := i.logger.With(zap.String("source", string(source)))

	defer func() {
		sum.Duration = time.Since(start)
		i.record(start, sum, log)
	}()

	adapter, err := i.registry.Get(source)
	if err != nil {
		sum.Err = err
		sum.Failed = 1
		return sum
	}

	artifacts, err := adapter.Discover(ctx)
	if err != nil {
		sum.Err = err
		sum.Failed = 1
		log.Warn("discovery failed", zap.Error(err))
		return sum
	}
	sum.Total = len(artifacts)
	if opts.Progress != nil {
		opts.Progress.Start(source, len(artifacts))
	}

	sessions := map[string]bool{}
	for n, artifact := range artifacts {
		if ctx.Err() != nil {
			break
		}
		written, counts, result := i.ingestArtifact(ctx, adapter, artifact, opts, log)
		switch result {
		case outcomeSkipped:
			sum.Skipped++
		case outcomeFailed:
			sum.Failed++
		}
		sum.Failed += counts.failedRecords
		sum.Imported += written
		for _, id := range counts.sessions {
			sessions[id] = true
		}
		if opts.Progress != nil {
			opts.Progress.Update(source, artifact.ID, n+1)
		}
	}
	sum.Sessions = len(sessions)

	log.Info("ingest finished",
		zap.Int("total", sum.Total),
		zap.Int("skipped", sum.Skipped),
		zap.Int("imported", sum.Imported),
		zap.Int("failed", sum.Failed),
		zap.Duration("duration", time.Since(start)))
	return sum
}

type outcome int

const (
	outcomeWritten outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeMissing // vanished or cancelled; neither counted nor checkpointed
)

type artifactCounts struct {
	sessions      []string
	failedRecords int
}

func (i *Importer) ingestArtifact(ctx context.Context, adapter adapters.Adapter, artifact adapters.Artifact, opts Options, log *zap.Logger) (int, artifactCounts, outcome) {
	alog := log.With(zap.String("artifact", artifact.ID))

	var cp *db.Checkpoint
	if !opts.Full {
		var err error
		cp, err = i.db.GetCheckpoint(artifact.Source, artifact.ID)
		if err != nil {
			alog.Warn("failed to read checkpoint", zap.Error(err))
			return 0, artifactCounts{}, outcomeFailed
		}
	}
	if cp != nil && artifact.Marker != "" && cp.Marker == artifact.Marker {
		return 0, artifactCounts{}, outcomeSkipped
	}

	cursor := adapters.Cursor{}
	if cp != nil && artifact.Kind.Resumable() {
		cursor = adapters.Cursor{Offset: cp.Offset, Line: cp.Line}
		// Unchanged since a parse that left a trailing fragment: the writer is done with it
		cursor.Flush = artifact.Marker != "" && cp.Marker == partialMarker(artifact.Marker)
	}

	result, err := adapter.Parse(ctx, artifact, cursor)
	if err != nil {
		if errors.Is(err, adapters.ErrArtifactGone) {
			alog.Debug("artifact vanished before read")
			return 0, artifactCounts{}, outcomeMissing
		}
		if ctx.Err() != nil {
			return 0, artifactCounts{}, outcomeMissing
		}
		alog.Warn("failed to parse artifact", zap.Error(err))
		return 0, artifactCounts{}, outcomeFailed
	}

	batch := db.Batch{Checkpoint: &db.Checkpoint{
		Source:   artifact.Source,
		Artifact: artifact.ID,
		Marker:   artifact.Marker,
		Offset:   result.Cursor.Offset,
		Line:     result.Cursor.Line,
	}}
	if result.Partial {
		// A distinct marker keeps the artifact from being skipped while the fragment is pending
		batch.Checkpoint.Marker = partialMarker(artifact.Marker)
	}
	for _, d := range result.Sessions {
		batch.Sessions = append(batch.Sessions, db.SessionWrite{Session: d.Session, Events: d.Events})
	}

	res, err := i.db.WriteBatch(ctx, batch)
	counts := artifactCounts{failedRecords: result.Failed}
	if err != nil {
		alog.Warn("failed to write artifact", zap.Error(err))
		return 0, counts, outcomeFailed
	}
	counts.sessions = res.SessionIDs
	if result.Failed > 0 {
		alog.Debug("skipped malformed records", zap.Int("failed", result.Failed))
	}
	return res.EventsWritten, counts, outcomeWritten
}

// partialMarker is stored while a trailing fragment waits for its newline
func partialMarker(marker string) string {
	if marker == "" {
		return ""
	}
	return "partial:" + marker
}

func (i *Importer) record(start time.Time, sum Summary, log *zap.Logger) {
	run := db.ImportRun{
		Source:           string(sum.Source),
		StartedAt:        start,
		Duration:         sum.Duration,
		ArtifactsTotal:   sum.Total,
		ArtifactsSkipped: sum.Skipped,
		EventsImported:   sum.Imported,
		Failed:           sum.Failed,
		Status:           sum.Status(),
	}
	if sum.Err != nil {
		run.ErrorMessage = sum.Err.Error()
	}
	if err := i.db.RecordImport(run); err != nil {
		log.Warn("failed to record import", zap.Error(err))
	}
}

// IngestAll ingests the given sources concurrently, one goroutine per source.
// An empty list means every registered source. It fails only when no source
// could be discovered at all.
func (i *Importer) IngestAll(ctx context.Context, sources []models.Source, opts Options) ([]Summary, error) {
	if len(sources) == 0 {
		sources = i.registry.Sources()
	}
	summaries := make([]Summary, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for n, source := range sources {
		g.Go(func() error {
			summaries[n] = i.IngestOne(gctx, source, opts)
			return nil
		})
	}
	_ = g.Wait()
	if opts.Progress != nil {
		opts.Progress.Finish()
	}

	if err := ctx.Err(); err != nil {
		return summaries, err
	}
	for _, s := range summaries {
		if s.Err == nil {
			return summaries, nil
		}
	}
	if len(summaries) == 0 {
		return summaries, ErrNoSources
	}
	errs := make([]error, 0, len(summaries))
	for _, s := range summaries {
		errs = append(errs, s.Err)
	}
	return summaries, fmt.Errorf("%w: %w", ErrNoSources, errors.Join(errs...))
}

// Health runs each adapter's reachability check
func (i *Importer) Health(ctx context.Context, sources []models.Source) []models.SourceHealth {
	if len(sources) == 0 {
		sources = i.registry.Sources()
	}
	out := make([]models.SourceHealth, 0, len(sources))
	for _, s := range sources {
		adapter, err := i.registry.Get(s)
		if err != nil {
			out = append(out, models.SourceHealth{Source: s, Status: models.HealthUnknown, Message: err.Error()})
			continue
		}
		out = append(out, adapter.HealthCheck(ctx))
	}
	return out
}

// Recompute rebuilds the metrics of every stored session
func (i *Importer) Recompute(ctx context.Context, progress func(done, total int)) (int, error) {
	n, err := i.db.RecomputeAll(ctx, progress)
	if err != nil {
		return n, fmt.Errorf("failed to recompute metrics: %w", err)
	}
	i.logger.Info("recomputed metrics", zap.Int("sessions", n))
	return n, nil
}
