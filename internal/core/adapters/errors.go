package adapters

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// ErrArtifactGone marks an artifact that disappeared between discovery and read.
// It is a recoverable miss: nothing is counted and the checkpoint stays put.
var ErrArtifactGone = errors.New("artifact no longer exists")

// DiscoveryError means a source's artifacts could not be enumerated
type DiscoveryError struct {
	Source models.Source
	Path   string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("%s: discovery failed at %s: %v", e.Source, e.Path, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ParseError is one malformed record; it is counted, not fatal
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %v", e.Path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaDriftError means a foreign database lacks a table or column the reader needs
type SchemaDriftError struct {
	Table    string
	Column   string
	Required bool
}

func (e *SchemaDriftError) Error() string {
	target := e.Table
	if e.Column != "" {
		target += "." + e.Column
	}
	if e.Required {
		return fmt.Sprintf("schema drift: required %s is missing", target)
	}
	return fmt.Sprintf("schema drift: optional %s is missing", target)
}

// ExternalToolError is a failed, timed out or unparsable external command
type ExternalToolError struct {
	Command string
	Err     error
	Stderr  string
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }
