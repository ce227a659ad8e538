package models

import (
	"fmt"
	"strings"
)

// Source identifies the tool that produced an artifact
type Source string

const (
	SourceClaude   Source = "claude"
	SourceCodex    Source = "codex"
	SourceOpenCode Source = "opencode"
	SourceCrush    Source = "crush"
)

// AllSources lists every supported source in display order
var AllSources = []Source{SourceClaude, SourceCodex, SourceOpenCode, SourceCrush}

// Valid reports whether s is one of the known sources
func (s Source) Valid() bool {
	switch s {
	case SourceClaude, SourceCodex, SourceOpenCode, SourceCrush:
		return true
	}
	return false
}

func (s Source) String() string { return string(s) }

// ParseSource converts a user-supplied name into a Source
func ParseSource(name string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown source %q (expected one of %s)", name, joinSources(AllSources))
	}
	return s, nil
}

func joinSources(sources []Source) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// EventKind is the canonical category of an event
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindToolCall   EventKind = "tool_call"
	KindToolResult EventKind = "tool_result"
	KindError      EventKind = "error"
	KindSystem     EventKind = "system"
)

// AllKinds lists every event kind
var AllKinds = []EventKind{KindMessage, KindToolCall, KindToolResult, KindError, KindSystem}

func (k EventKind) Valid() bool {
	switch k {
	case KindMessage, KindToolCall, KindToolResult, KindError, KindSystem:
		return true
	}
	return false
}

// ParseKind converts a name into an EventKind
func ParseKind(name string) (EventKind, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(name)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", name)
	}
	return k, nil
}

// Role is the optional speaker of an event
type Role string

const (
	RoleNone      Role = ""
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// RoleFrom maps the role spellings used by the different tools onto Role
func RoleFrom(name string) Role {
	switch strings.ToLower(name) {
	case "user", "human":
		return RoleUser
	case "assistant", "model", "ai":
		return RoleAssistant
	case "system", "developer":
		return RoleSystem
	}
	return RoleNone
}
