package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Session is one conversation from one source, unique on (Source, ExternalID)
type Session struct {
	ID         string // local UUID
	Source     Source
	ExternalID string // source-native identifier
	Project    string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RawPayload json.RawMessage
}

// Validate checks if the session has required fields
func (s *Session) Validate() error {
	if !s.Source.Valid() {
		return fmt.Errorf("invalid source %q", s.Source)
	}
	if s.ExternalID == "" {
		return errors.New("external_id is required")
	}
	if s.CreatedAt.IsZero() {
		return errors.New("created_at is required")
	}
	if s.UpdatedAt.IsZero() {
		return errors.New("updated_at is required")
	}
	// updated_at never precedes created_at
	if s.UpdatedAt.Before(s.CreatedAt) {
		s.UpdatedAt = s.CreatedAt
	}
	if len(s.RawPayload) > 0 && !json.Valid(s.RawPayload) {
		return errors.New("raw payload is not valid JSON")
	}
	return nil
}

// SessionDetail is a session with its ordered events and metrics
type SessionDetail struct {
	Session Session
	Events  []Event
	Metrics *SessionMetrics
}
