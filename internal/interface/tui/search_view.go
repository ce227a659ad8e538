package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		m.mode = listView
		m.searchInput.SetValue("")
		m.searchResults = nil
		m.searchSelectedIdx = 0
		m.searchViewOffset = 0
		return m, nil

	case "enter":
		if len(m.searchResults) > 0 && m.searchSelectedIdx < len(m.searchResults) {
			return m, loadSessionDetail(m.db, m.searchResults[m.searchSelectedIdx].SessionID)
		}
		return m, nil

	// j/k stay typeable; ctrl+k is left to the input (kills rest of line)
	case "ctrl+j", "down":
		if len(m.searchResults) > 0 {
			m.searchSelectedIdx = min(m.searchSelectedIdx+1, len(m.searchResults)-1)
			return adjustSearchViewport(m), nil
		}
		return m, nil

	case "up":
		if len(m.searchResults) > 0 {
			m.searchSelectedIdx = max(m.searchSelectedIdx-1, 0)
			return adjustSearchViewport(m), nil
		}
		return m, nil
	}

	m.searchInput, cmd = m.searchInput.Update(msg)

	// Live search on every keystroke
	m.searchSelectedIdx = 0
	m.searchViewOffset = 0
	return m, tea.Batch(cmd, performSearch(m.db, m.searchInput.Value()))
}

func (m Model) viewSearch() string {
	var b strings.Builder

	b.WriteString(searchHeaderStyle.Render("Search: "))
	b.WriteString(m.searchInput.View())
	b.WriteString("\n")
	b.WriteString(strings.Repeat("─", 80))
	b.WriteString("\n\n")

	switch {
	case m.searchResults == nil:
		b.WriteString(searchMetaStyle.Render("Type to search (minimum 2 characters)"))
	case len(m.searchResults) == 0:
		b.WriteString(searchMetaStyle.Render("No results found"))
	default:
		b.WriteString(searchMetaStyle.Render(fmt.Sprintf("Found %d sessions:", len(m.searchResults))))
		b.WriteString("\n\n")

		startIdx := m.searchViewOffset
		endIdx := min(startIdx+visibleSearchResults(m.height), len(m.searchResults))

		for i := startIdx; i < endIdx; i++ {
			result := m.searchResults[i]

			title := result.Title
			if title == "" && len(result.Matches) > 0 {
				title = firstLine(result.Matches[0].Snippet, 60)
			}
			if title == "" {
				title = "[No title]"
			}
			title = firstLine(title, 80)

			prefix := "  "
			if i == m.searchSelectedIdx {
				prefix = "► "
				title = searchSelectedStyle.Render(title)
			} else {
				title = searchMatchStyle.Render(title)
			}

			noun := "matches"
			if len(result.Matches) == 1 {
				noun = "match"
			}
			b.WriteString(fmt.Sprintf("%s%s %s %s | %s\n", prefix,
				sourceStyle(result.Source).Render(string(result.Source)), title,
				searchMetaStyle.Render(fmt.Sprintf("(%d %s)", len(result.Matches), noun)),
				searchMetaStyle.Render(formatTime(result.UpdatedAt))))
			b.WriteString(fmt.Sprintf("  %s\n", searchMetaStyle.Render(result.Project)))

			for j, match := range result.Matches {
				label := string(match.Kind)
				if match.Role != "" {
					label += "/" + string(match.Role)
				}
				b.WriteString(fmt.Sprintf("    %s ", searchMetaStyle.Render("["+label+"]")))
				b.WriteString(highlightSnippet(firstLine(match.Snippet, 100)))
				if j < len(result.Matches)-1 {
					b.WriteString("\n")
				}
			}
			b.WriteString("\n\n")
		}

		if startIdx > 0 {
			b.WriteString(searchMetaStyle.Render(fmt.Sprintf("... %d results above\n", startIdx)))
		}
		if endIdx < len(m.searchResults) {
			b.WriteString(searchMetaStyle.Render(fmt.Sprintf("... %d results below\n", len(m.searchResults)-endIdx)))
		}
	}

	b.WriteString("\n\n")
	if len(m.searchResults) > 0 {
		b.WriteString("Ctrl+j or ↑↓: navigate | Enter: open | Ctrl+k: kill line | esc: back")
	} else {
		b.WriteString("Type to search (min 2 chars) | Ctrl+k: kill line | esc: back")
	}
	b.WriteString("\n")
	b.WriteString(searchMetaStyle.Render("Filters: source:codex | project:api | kind:error | after:yesterday | before:2025-11-01"))

	return b.String()
}

// highlightSnippet styles the [bracketed] terms marked by the FTS snippet
func highlightSnippet(snippet string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(snippet, '[')
		if start < 0 {
			break
		}
		end := strings.IndexByte(snippet[start:], ']')
		if end < 0 {
			break
		}
		end += start
		b.WriteString(snippet[:start])
		b.WriteString(searchMatchStyle.Render(snippet[start+1 : end]))
		snippet = snippet[end+1:]
	}
	b.WriteString(snippet)
	return b.String()
}
