package ccsessions

import (
	"bufio"
	"os"
	"testing"
	"time"
)

func decodeSample(t *testing.T) []*Entry {
	t.Helper()
	f, err := os.Open("testdata/sample.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		e, err := DecodeLine(scanner.Bytes())
		if err != nil {
			t.Fatalf("DecodeLine() error = %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestDecodeLine(t *testing.T) {
	entries := decodeSample(t)
	if len(entries) != 5 {
		t.Fatalf("entry count = %d, want 5", len(entries))
	}

	// Check summary
	if entries[0].Summary != "Test session" {
		t.Errorf("Summary = %v, want 'Test session'", entries[0].Summary)
	}
	if !entries[0].IsMetadata() || !entries[4].IsMetadata() {
		t.Error("summary and file-history-snapshot should be metadata")
	}
	if entries[1].IsMetadata() {
		t.Error("user entry should not be metadata")
	}

	ts, err := entries[2].Time()
	if err != nil {
		t.Fatalf("Time() error = %v", err)
	}
	if want := time.Date(2025, 1, 9, 12, 0, 5, 250e6, time.UTC); !ts.Equal(want) {
		t.Errorf("Time() = %v, want %v", ts, want)
	}
	if entries[2].Model() != "claude-sonnet-4-20250514" {
		t.Errorf("Model() = %q", entries[2].Model())
	}
}

func TestDecodeLine_Invalid(t *testing.T) {
	if _, err := DecodeLine([]byte(`{"type":`)); err == nil {
		t.Error("DecodeLine() should return error for truncated JSON")
	}
}

func TestBlocks(t *testing.T) {
	entries := decodeSample(t)

	blocks, err := entries[1].Blocks()
	if err != nil {
		t.Fatalf("Blocks() error = %v", err)
	}
	if len(blocks) != 1 || blocks[0].Type != BlockText || blocks[0].Text != "Fix the failing test" {
		t.Errorf("string content blocks = %+v", blocks)
	}

	blocks, err = entries[2].Blocks()
	if err != nil {
		t.Fatalf("Blocks() error = %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("block count = %d, want 3", len(blocks))
	}
	if blocks[0].Type != BlockThinking || blocks[0].Text != "Look at the test first" {
		t.Errorf("thinking block = %+v", blocks[0])
	}
	if blocks[2].Type != BlockToolUse || blocks[2].ToolName != "Read" || blocks[2].ToolUseID != "toolu_1" {
		t.Errorf("tool_use block = %+v", blocks[2])
	}

	blocks, err = entries[3].Blocks()
	if err != nil {
		t.Fatalf("Blocks() error = %v", err)
	}
	if len(blocks) != 1 || blocks[0].Type != BlockToolResult || blocks[0].Text != "package demo" {
		t.Errorf("tool_result block = %+v", blocks)
	}
}

func TestTimeErrors(t *testing.T) {
	if _, err := (&Entry{}).Time(); err == nil {
		t.Error("Time() should fail without timestamp")
	}
	if _, err := (&Entry{Timestamp: "yesterday"}).Time(); err == nil {
		t.Error("Time() should fail on garbage")
	}
}
