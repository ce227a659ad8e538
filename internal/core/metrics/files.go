package metrics

import (
	"encoding/json"
	"strings"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// toolInput covers the argument spellings used by the supported tools
type toolInput struct {
	FilePath  string          `json:"file_path"`
	FilePath2 string          `json:"filePath"`
	Path      string          `json:"path"`
	Filename  string          `json:"filename"`
	OldString string          `json:"old_string"`
	NewString string          `json:"new_string"`
	OldStr2   string          `json:"oldString"`
	NewStr2   string          `json:"newString"`
	Content   string          `json:"content"`
	Edits     []toolEdit      `json:"edits"`
	Command   json.RawMessage `json:"command"`
	Input     string          `json:"input"`
	Patch     string          `json:"patch"`
}

type toolEdit struct {
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// extractFileTouches derives file operations and line churn from tool call arguments
func extractFileTouches(sessionID string, events []models.Event) []models.FileTouch {
	var touches []models.FileTouch
	for _, e := range events {
		if e.Kind != models.KindToolCall {
			continue
		}
		name, args, ok := models.SplitToolCallContent(e.Content)
		if !ok {
			continue
		}
		if e.ToolName != "" {
			name = e.ToolName
		}

		var in toolInput
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			continue
		}

		if patch := in.patchText(); patch != "" {
			for _, t := range parsePatch(patch) {
				t.SessionID = sessionID
				t.TouchedAt = e.Timestamp
				touches = append(touches, t)
			}
			continue
		}

		path := firstNonEmpty(in.FilePath, in.FilePath2, in.Path, in.Filename)
		if path == "" {
			continue
		}
		op := classifyOperation(name)
		if op == "" {
			continue
		}

		t := models.FileTouch{SessionID: sessionID, FilePath: path, Operation: op, TouchedAt: e.Timestamp}
		switch op {
		case "edit":
			t.LinesRemoved = countLines(firstNonEmpty(in.OldString, in.OldStr2))
			t.LinesAdded = countLines(firstNonEmpty(in.NewString, in.NewStr2))
			for _, edit := range in.Edits {
				t.LinesRemoved += countLines(edit.OldString)
				t.LinesAdded += countLines(edit.NewString)
			}
		case "write":
			t.LinesAdded = countLines(in.Content)
		}
		touches = append(touches, t)
	}
	return touches
}

// patchText returns apply_patch text passed directly or as a shell command
func (in toolInput) patchText() string {
	if strings.Contains(in.Patch, "*** Begin Patch") {
		return in.Patch
	}
	if strings.Contains(in.Input, "*** Begin Patch") {
		return in.Input
	}
	var argv []string
	if len(in.Command) > 0 && json.Unmarshal(in.Command, &argv) == nil {
		for _, a := range argv {
			if strings.Contains(a, "*** Begin Patch") {
				return a
			}
		}
	}
	return ""
}

// parsePatch reads the apply_patch envelope: *** Add/Update/Delete File headers and +/- lines
func parsePatch(patch string) []models.FileTouch {
	var touches []models.FileTouch
	var cur *models.FileTouch
	flush := func() {
		if cur != nil {
			touches = append(touches, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "*** Add File: "):
			flush()
			cur = &models.FileTouch{FilePath: strings.TrimPrefix(line, "*** Add File: "), Operation: "write"}
		case strings.HasPrefix(line, "*** Update File: "):
			flush()
			cur = &models.FileTouch{FilePath: strings.TrimPrefix(line, "*** Update File: "), Operation: "edit"}
		case strings.HasPrefix(line, "*** Delete File: "):
			flush()
			cur = &models.FileTouch{FilePath: strings.TrimPrefix(line, "*** Delete File: "), Operation: "delete"}
		case strings.HasPrefix(line, "***"):
			// End Patch, Move to, End of File
		case cur == nil:
		case strings.HasPrefix(line, "+"):
			cur.LinesAdded++
		case strings.HasPrefix(line, "-"):
			cur.LinesRemoved++
		}
	}
	flush()
	return touches
}

func classifyOperation(tool string) string {
	t := strings.ToLower(tool)
	switch {
	case strings.Contains(t, "edit"), strings.Contains(t, "replace"), strings.Contains(t, "patch"):
		return "edit"
	case strings.Contains(t, "write"), strings.Contains(t, "create"):
		return "write"
	case strings.Contains(t, "read"), strings.Contains(t, "view"), t == "cat":
		return "read"
	}
	return ""
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
