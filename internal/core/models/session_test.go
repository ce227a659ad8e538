package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSessionValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{
			name: "valid session",
			session: Session{
				Source:     SourceClaude,
				ExternalID: "abc-123",
				Project:    "/Users/neil/xuku/invoice",
				Title:      "Test session",
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: false,
		},
		{
			name: "missing external ID",
			session: Session{
				Source:    SourceCodex,
				CreatedAt: now,
				UpdatedAt: now,
			},
			wantErr: true,
		},
		{
			name: "unknown source",
			session: Session{
				Source:     "cursor",
				ExternalID: "abc",
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			wantErr: true,
		},
		{
			name: "missing timestamps",
			session: Session{
				Source:     SourceCrush,
				ExternalID: "abc",
			},
			wantErr: true,
		},
		{
			name: "invalid raw payload",
			session: Session{
				Source:     SourceOpenCode,
				ExternalID: "ses_1",
				CreatedAt:  now,
				UpdatedAt:  now,
				RawPayload: json.RawMessage(`{not json`),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionValidation_ClampsUpdatedAt(t *testing.T) {
	created := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	s := Session{
		Source:     SourceClaude,
		ExternalID: "abc",
		CreatedAt:  created,
		UpdatedAt:  created.Add(-time.Hour),
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !s.UpdatedAt.Equal(created) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, created)
	}
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{"claude", SourceClaude, false},
		{" Codex ", SourceCodex, false},
		{"OPENCODE", SourceOpenCode, false},
		{"crush", SourceCrush, false},
		{"cursor", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSource(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSource(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoleFrom(t *testing.T) {
	tests := map[string]Role{
		"user":      RoleUser,
		"human":     RoleUser,
		"assistant": RoleAssistant,
		"system":    RoleSystem,
		"developer": RoleSystem,
		"tool":      RoleNone,
	}
	for in, want := range tests {
		if got := RoleFrom(in); got != want {
			t.Errorf("RoleFrom(%q) = %q, want %q", in, got, want)
		}
	}
}
