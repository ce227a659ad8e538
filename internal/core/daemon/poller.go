package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/adapters"
	"github.com/neilberkman/agentrider/internal/core/models"
)

// DBPoller probes foreign databases on an interval and signals when a marker moves
type DBPoller struct {
	source   models.Source
	list     func(ctx context.Context) ([]string, error)
	probe    func(ctx context.Context, path string) (string, error)
	interval time.Duration
	markers  map[string]string
	logger   *zap.Logger
}

// NewDBPoller polls the databases returned by list and signals for source.
// list is re-run every cycle so databases created after start are picked up.
func NewDBPoller(source models.Source, list func(ctx context.Context) ([]string, error), interval time.Duration, logger *zap.Logger) *DBPoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBPoller{
		source:   source,
		list:     list,
		probe:    adapters.Probe,
		interval: interval,
		markers:  map[string]string{},
		logger:   logger,
	}
}

// Prime records the current markers without signalling
func (p *DBPoller) Prime(ctx context.Context) {
	p.poll(ctx, func(string) {})
}

// Run polls until ctx is cancelled
func (p *DBPoller) Run(ctx context.Context, out chan<- Signal) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx, func(path string) {
				select {
				case out <- Signal{Source: p.source, Path: path}:
				case <-ctx.Done():
				}
			})
		}
	}
}

// poll calls changed for every database whose marker differs from the last one seen
func (p *DBPoller) poll(ctx context.Context, changed func(path string)) {
	paths, err := p.list(ctx)
	if err != nil {
		p.logger.Debug("no databases reachable", zap.String("source", string(p.source)), zap.Error(err))
		return
	}
	for _, path := range paths {
		marker, err := p.probe(ctx, path)
		if err != nil {
			p.logger.Debug("probe failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if prev, seen := p.markers[path]; seen && prev == marker {
			continue
		}
		p.markers[path] = marker
		changed(path)
	}
}
