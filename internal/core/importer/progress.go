package importer

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// ProgressCallback receives per-artifact progress. Sources ingest
// concurrently, so implementations must be safe for concurrent use.
type ProgressCallback interface {
	Start(source models.Source, total int)
	Update(source models.Source, artifact string, done int)
	Finish()
}

// ProgressReporter draws a single progress bar across all sources
type ProgressReporter struct {
	mu        sync.Mutex
	writer    io.Writer
	totals    map[models.Source]int
	done      map[models.Source]int
	startTime time.Time
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(w io.Writer) *ProgressReporter {
	return &ProgressReporter{
		writer:    w,
		totals:    map[models.Source]int{},
		done:      map[models.Source]int{},
		startTime: time.Now(),
	}
}

// Start registers the artifact count of a source
func (p *ProgressReporter) Start(source models.Source, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totals[source] = total
}

// Update redraws the bar after an artifact finished
func (p *ProgressReporter) Update(source models.Source, artifact string, done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[source] = done

	current, total := 0, 0
	for s, t := range p.totals {
		total += t
		current += p.done[s]
	}
	if total == 0 {
		return
	}

	pct := float64(current) / float64(total) * 100

	// Draw progress bar (40 chars wide)
	barWidth := 40
	filled := int(float64(barWidth) * float64(current) / float64(total))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	// Truncate display text to fit terminal
	displayText := string(source) + ": " + filepath.Base(artifact)
	if len(displayText) > 50 {
		displayText = displayText[:47] + "..."
	}

	_, _ = fmt.Fprintf(p.writer, "\r[%s] %3.0f%% (%d/%d) %-50s", bar, pct, current, total, displayText)
}

// Finish completes the progress display
func (p *ProgressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, t := range p.totals {
		total += t
	}
	elapsed := time.Since(p.startTime)
	_, _ = fmt.Fprintf(p.writer, "\nCompleted: checked %d artifacts in %s\n", total, elapsed.Round(time.Millisecond))
}
