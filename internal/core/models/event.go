package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is a single normalized record belonging to a Session
type Event struct {
	ID          int64
	SessionID   string
	Kind        EventKind
	Role        Role
	Content     string
	Timestamp   time.Time
	Seq         int    // position within the artifact, breaks timestamp ties
	NativeID    string // source-native record id, empty when the source has none
	ToolName    string
	ToolCallID  string
	IsError     bool
	Fingerprint string
	RawPayload  json.RawMessage
}

// Validate checks if the event has required fields
func (e *Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if !e.Role.Valid() {
		return fmt.Errorf("invalid role %q", e.Role)
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if len(e.RawPayload) > 0 && !json.Valid(e.RawPayload) {
		return errors.New("raw payload is not valid JSON")
	}
	return nil
}

// Fingerprint derives the idempotency key of an event. A native id wins;
// otherwise position and content hash identify the record, which cannot
// tell an in-place edit from a new record.
func Fingerprint(source Source, externalID, nativeID string, seq int, content []byte) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	h.Write([]byte{0})
	if nativeID != "" {
		h.Write([]byte("id:"))
		h.Write([]byte(nativeID))
	} else {
		h.Write([]byte("pos:"))
		h.Write([]byte(strconv.Itoa(seq)))
		h.Write([]byte{0})
		sum := sha256.Sum256(content)
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

const toolCallSep = " with arguments: "

// ToolCallContent renders the canonical text of a tool invocation
func ToolCallContent(name, args string) string {
	return "Called " + name + toolCallSep + args
}

// SplitToolCallContent is the inverse of ToolCallContent
func SplitToolCallContent(content string) (name, args string, ok bool) {
	rest, found := strings.CutPrefix(content, "Called ")
	if !found {
		return "", "", false
	}
	name, args, ok = strings.Cut(rest, toolCallSep)
	return name, args, ok
}
