// Package ccsessions decodes the JSONL records Claude Code writes under ~/.claude/projects.
package ccsessions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entry is one decoded line of a session file
type Entry struct {
	Type        string          `json:"type"`
	Summary     string          `json:"summary,omitempty"`
	LeafUUID    string          `json:"leafUuid,omitempty"`
	UUID        string          `json:"uuid,omitempty"`
	ParentUUID  string          `json:"parentUuid,omitempty"`
	SessionID   string          `json:"sessionId,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	IsSidechain bool            `json:"isSidechain,omitempty"`
	CWD         string          `json:"cwd,omitempty"`
	GitBranch   string          `json:"gitBranch,omitempty"`
	Version     string          `json:"version,omitempty"`

	// Flat tool records
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// EventTypes are the entry types that carry conversation content
var EventTypes = map[string]bool{
	"user":        true,
	"assistant":   true,
	"system":      true,
	"tool_call":   true,
	"tool_result": true,
	"error":       true,
}

// metadataTypes never carry conversation content
var metadataTypes = map[string]bool{
	"summary":               true,
	"file-history-snapshot": true,
	"queue-operation":       true,
}

// DecodeLine parses one JSONL line
func DecodeLine(line []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &e, nil
}

// IsMetadata reports entries that produce no event: bookkeeping types, and
// untimestamped entries of a non-event type
func (e *Entry) IsMetadata() bool {
	if metadataTypes[e.Type] {
		return true
	}
	return e.Timestamp == "" && !EventTypes[e.Type]
}

// Time parses the entry timestamp
func (e *Entry) Time() (time.Time, error) {
	if e.Timestamp == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	return t.UTC(), nil
}

// BlockType is the type of a message content block
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one element of message.content
type Block struct {
	Type      BlockType
	Text      string
	ToolName  string
	ToolUseID string
	Input     json.RawMessage
	IsError   bool
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content"`
}

// Role returns message.role, if any
func (e *Entry) Role() string {
	var m rawMessage
	if json.Unmarshal(e.Message, &m) != nil {
		return ""
	}
	return m.Role
}

// Model returns the model that produced an assistant message
func (e *Entry) Model() string {
	var m rawMessage
	if json.Unmarshal(e.Message, &m) != nil {
		return ""
	}
	return m.Model
}

// Blocks returns message.content as blocks. The older string form yields one text block.
func (e *Entry) Blocks() ([]Block, error) {
	var m rawMessage
	if err := json.Unmarshal(e.Message, &m); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return decodeBlocks(m.Content)
}

func decodeBlocks(content json.RawMessage) ([]Block, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil, nil
	}

	// Fall back to string format (older format)
	if content[0] == '"' {
		var s string
		if err := json.Unmarshal(content, &s); err != nil {
			return nil, err
		}
		return []Block{{Type: BlockText, Text: s}}, nil
	}

	var raw []rawBlock
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("invalid content blocks: %w", err)
	}

	blocks := make([]Block, 0, len(raw))
	for _, rb := range raw {
		b := Block{Type: BlockType(rb.Type)}
		switch b.Type {
		case BlockText:
			b.Text = rb.Text
		case BlockThinking:
			b.Text = rb.Thinking
		case BlockToolUse:
			b.ToolName = rb.Name
			b.ToolUseID = rb.ID
			b.Input = rb.Input
		case BlockToolResult:
			b.ToolUseID = rb.ToolUseID
			b.IsError = rb.IsError
			b.Text = Text(rb.Content)
		default:
			// Images and other attachments carry no text
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Text flattens a content value that is either a string or a list of text blocks
func Text(content json.RawMessage) string {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(content, &s) == nil {
		return s
	}
	var blocks []rawBlock
	if json.Unmarshal(content, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(content)
}

// IsAgentFile reports sidechain transcripts (agent-*.jsonl), whose sessionId
// points at the parent session
func IsAgentFile(stem string) bool {
	return strings.HasPrefix(stem, "agent-")
}
