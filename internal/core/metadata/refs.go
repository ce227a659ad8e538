// Package metadata pulls issue ids and file path mentions out of session events.
package metadata

import (
	"regexp"
	"sort"
	"strings"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// IssueRef is one issue id mentioned in a session
type IssueRef struct {
	ID         string `json:"id"`
	Mentions   int    `json:"mentions"`
	FirstEvent int    `json:"first_event"`
	LastEvent  int    `json:"last_event"`
}

// FileRef is one file path mentioned in a session
type FileRef struct {
	Path     string `json:"path"`
	Mentions int    `json:"mentions"`
	// LastModifiedEvent is -1 when no mention reads like a modification
	LastModifiedEvent int `json:"last_modified_event"`
}

// References lists the issues and files of a session, most mentioned first
type References struct {
	Issues []IssueRef `json:"issues"`
	Files  []FileRef  `json:"files"`
}

var (
	issuePatterns = []*regexp.Regexp{
		// Linear/JIRA style: ENA-6530, ena-6530
		regexp.MustCompile(`\b([A-Za-z]{2,10}-\d+)\b`),
		// GitHub style, at least 2 digits
		regexp.MustCompile(`#(\d{2,})\b`),
		// "issue: 1234", "issue #1234"
		regexp.MustCompile(`(?i)\bissue[:\s]+#?(\d+)`),
	}

	filePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"([a-zA-Z0-9_\-/.]+\.[a-zA-Z0-9]+)"`),
		regexp.MustCompile("`([a-zA-Z0-9_\\-/.]+\\.[a-zA-Z0-9]+)`"),
		// Unquoted paths need a slash and an extension; a trailing :line is dropped
		regexp.MustCompile(`\b([a-zA-Z0-9_\-]+(?:/[a-zA-Z0-9_\-.]+)*/[a-zA-Z0-9_\-]+\.[a-zA-Z0-9]{2,5})\b`),
	}

	falsePositiveIssues = map[string]bool{
		"utf-8": true, "iso-8859": true, "us-ascii": true, "x-www": true,
		"en-us": true, "fr-fr": true, "de-de": true, "sha-256": true, "sha-1": true,
	}

	validExts = []string{
		".go", ".ex", ".exs", ".heex",
		".js", ".ts", ".jsx", ".tsx", ".mjs",
		".py", ".rb", ".java", ".c", ".cpp", ".h", ".hpp",
		".rs", ".php", ".swift", ".kt",
		".json", ".jsonl", ".yaml", ".yml", ".toml", ".ini", ".xml", ".sql", ".env",
		".md", ".txt", ".rst",
		".html", ".css", ".scss",
		".sh", ".bash", ".zsh", ".fish",
		".graphql", ".proto", ".mod", ".sum",
	}

	modKeywords = []string{
		"edit", "modify", "update", "change", "write", "create",
		"add", "remove", "delete", "fix", "patch",
	}
)

// Extract scans every event's content. Event positions are indices into events.
func Extract(events []models.Event) *References {
	issues := map[string]*IssueRef{}
	files := map[string]*FileRef{}

	for i, e := range events {
		for _, id := range issueIDs(e.Content) {
			if ref, ok := issues[id]; ok {
				ref.Mentions++
				ref.LastEvent = i
				continue
			}
			issues[id] = &IssueRef{ID: id, Mentions: 1, FirstEvent: i, LastEvent: i}
		}

		for _, path := range filePaths(e.Content) {
			modified := e.Kind == models.KindToolCall || isModificationContext(e.Content, path)
			ref, ok := files[path]
			if !ok {
				ref = &FileRef{Path: path, LastModifiedEvent: -1}
				files[path] = ref
			}
			ref.Mentions++
			if modified {
				ref.LastModifiedEvent = i
			}
		}
	}

	refs := &References{Issues: []IssueRef{}, Files: []FileRef{}}
	for _, ref := range issues {
		refs.Issues = append(refs.Issues, *ref)
	}
	for _, ref := range files {
		refs.Files = append(refs.Files, *ref)
	}
	sort.Slice(refs.Issues, func(a, b int) bool {
		if refs.Issues[a].Mentions != refs.Issues[b].Mentions {
			return refs.Issues[a].Mentions > refs.Issues[b].Mentions
		}
		return refs.Issues[a].ID < refs.Issues[b].ID
	})
	sort.Slice(refs.Files, func(a, b int) bool {
		if refs.Files[a].Mentions != refs.Files[b].Mentions {
			return refs.Files[a].Mentions > refs.Files[b].Mentions
		}
		return refs.Files[a].Path < refs.Files[b].Path
	})
	return refs
}

// issueIDs returns the distinct normalized issue ids of text
func issueIDs(text string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, pattern := range issuePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			id := strings.ToLower(match[1])
			if pattern != issuePatterns[0] {
				id = "#" + id
			}
			if !seen[id] && isValidIssueID(id) {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func isValidIssueID(id string) bool {
	if len(id) < 3 || falsePositiveIssues[id] {
		return false
	}
	if strings.HasPrefix(id, "#") {
		return true
	}
	prefix, _, _ := strings.Cut(id, "-")
	return len(prefix) >= 2
}

// filePaths returns the distinct file paths of text
func filePaths(text string) []string {
	seen := map[string]bool{}
	var paths []string
	for _, pattern := range filePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			path := strings.TrimSpace(match[1])
			if !seen[path] && isValidFilePath(path) {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	return paths
}

func isValidFilePath(path string) bool {
	if len(path) < 5 || strings.Contains(path, "://") || strings.ContainsAny(path, "@ ") {
		return false
	}
	lower := strings.ToLower(path)
	for _, ext := range validExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// isModificationContext looks for a modification keyword within 100 bytes of the path
func isModificationContext(text, path string) bool {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(path))
	if idx == -1 {
		return false
	}
	start := max(idx-100, 0)
	end := min(idx+len(path)+100, len(lower))
	window := lower[start:end]
	for _, keyword := range modKeywords {
		if strings.Contains(window, keyword) {
			return true
		}
	}
	return false
}
