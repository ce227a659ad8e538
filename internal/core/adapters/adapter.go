package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// ArtifactKind says how an artifact is read
type ArtifactKind string

const (
	KindFile     ArtifactKind = "file"     // line-delimited JSON, resumable by cursor
	KindLog      ArtifactKind = "log"      // plain text log, resumable by cursor
	KindExport   ArtifactKind = "export"   // output of an external command
	KindStorage  ArtifactKind = "storage"  // a session spread over a JSON file tree
	KindDatabase ArtifactKind = "database" // a foreign SQLite database
)

// Resumable reports whether parsing can continue from a stored cursor
func (k ArtifactKind) Resumable() bool {
	return k == KindFile || k == KindLog
}

// Artifact is one discoverable unit of source data
type Artifact struct {
	Source  models.Source
	ID      string // stable identity, used as the checkpoint key
	Path    string
	Marker  string // changes whenever the artifact's content may have changed
	Kind    ArtifactKind
	Project string
	ModTime time.Time
}

// Cursor is a resume position in a line-delimited artifact
type Cursor struct {
	Offset int64
	Line   int
	Flush  bool // the file stopped changing; read a trailing line that lacks its newline
}

// SessionDraft is a parsed session and its events, not yet persisted
type SessionDraft struct {
	Session models.Session
	Events  []models.Event
}

// ParseResult is what one Parse call produced
type ParseResult struct {
	Sessions []SessionDraft
	Failed   int    // records skipped as malformed
	Cursor   Cursor // where the next incremental parse should start
	Partial  bool   // a trailing record was left for the next cycle
}

// dropInvalid removes sessions and events that fail canonical validation.
// Each dropped event counts as one failed record; a dropped session counts
// its events, or one when it has none.
func (r *ParseResult) dropInvalid() *ParseResult {
	sessions := r.Sessions[:0]
	for _, d := range r.Sessions {
		if err := d.Session.Validate(); err != nil {
			r.Failed += max(1, len(d.Events))
			continue
		}
		events := d.Events[:0]
		for _, e := range d.Events {
			if err := e.Validate(); err != nil {
				r.Failed++
				continue
			}
			events = append(events, e)
		}
		d.Events = events
		sessions = append(sessions, d)
	}
	r.Sessions = sessions
	return r
}

// validated drops invalid records from a successful parse
func validated(r *ParseResult, err error) (*ParseResult, error) {
	if err != nil || r == nil {
		return r, err
	}
	return r.dropInvalid(), nil
}

// Adapter discovers and parses one source
type Adapter interface {
	Source() models.Source
	Discover(ctx context.Context) ([]Artifact, error)
	Parse(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error)
	HealthCheck(ctx context.Context) models.SourceHealth
}

// Watchable is implemented by adapters whose artifacts live under directories
// that can be watched for file changes
type Watchable interface {
	WatchRoots() []string
}

// Pollable is implemented by adapters that read databases which must be
// polled for changes instead of watched
type Pollable interface {
	Databases(ctx context.Context) ([]string, error)
}

// Registry maps each source to its adapter
type Registry struct {
	adapters map[models.Source]Adapter
}

// NewRegistry builds a registry; a later adapter for the same source replaces an earlier one
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Source]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Source()] = a
	}
	return r
}

// Get returns the adapter for source
func (r *Registry) Get(source models.Source) (Adapter, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", source)
	}
	return a, nil
}

// Sources lists registered sources in declaration order
func (r *Registry) Sources() []models.Source {
	var out []models.Source
	for _, s := range models.AllSources {
		if _, ok := r.adapters[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// fileMarker is the change marker of a plain file
func fileMarker(mtime time.Time, size int64) string {
	return fmt.Sprintf("%d:%d", mtime.UnixNano(), size)
}
