package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// headerLines is the number of rendered lines before the first event
const headerLines = 6

func createViewport(detail *models.SessionDetail, width, height int) viewport.Model {
	vp := viewport.New(width, height-3)
	vp.SetContent(renderConversation(detail, "", -1, width).content)
	return vp
}

type renderResult struct {
	content string
}

func metricsLine(m *models.SessionMetrics) string {
	if m == nil {
		return "Metrics: not computed"
	}
	parts := []string{
		fmt.Sprintf("%d messages", m.MessageCount),
		fmt.Sprintf("%d tool calls", m.ToolCallCount),
		fmt.Sprintf("%d errors", m.ErrorCount),
		fmt.Sprintf("%s tokens", humanize.Comma(int64(m.InputTokens+m.OutputTokens))),
	}
	if m.EstimatedCost != nil {
		parts = append(parts, fmt.Sprintf("$%.4f", *m.EstimatedCost))
	}
	if m.Model != "" {
		parts = append(parts, m.Model)
	}
	return "Metrics: " + strings.Join(parts, " | ")
}

// renderConversation renders the header and every event. When query is set,
// every occurrence is highlighted and the line at matchLine gets the current style.
func renderConversation(detail *models.SessionDetail, query string, matchLine int, width int) renderResult {
	var b strings.Builder

	title := detail.Session.Title
	if title == "" {
		title = detail.Session.ExternalID
	}
	b.WriteString(titleStyle.Render("Session: "+firstLine(title, 100)) + "\n")
	b.WriteString(fmt.Sprintf("Source: %s | ID: %s\n", detail.Session.Source, detail.Session.ExternalID))
	b.WriteString(fmt.Sprintf("Project: %s\n", detail.Session.Project))
	b.WriteString(metricsLine(detail.Metrics) + "\n")
	b.WriteString(strings.Repeat("─", width) + "\n\n")

	wrapWidth := width - 10
	if wrapWidth < 40 {
		wrapWidth = 40
	}

	for _, e := range detail.Events {
		style, label := eventStyle(e)

		b.WriteString(style.Render(fmt.Sprintf("▸ %s", label)))
		b.WriteString(" ")
		b.WriteString(timestampStyle.Render(formatTime(e.Timestamp)))
		b.WriteString("\n")

		content := e.Content
		if e.Kind == models.KindToolCall {
			if _, args, ok := models.SplitToolCallContent(content); ok && args != "" {
				content = args
			}
		}
		b.WriteString(wordwrap.String(content, wrapWidth))
		b.WriteString("\n\n")
		b.WriteString(strings.Repeat("─", width) + "\n\n")
	}

	baseContent := b.String()
	if query == "" {
		return renderResult{content: baseContent}
	}

	lines := strings.Split(baseContent, "\n")
	for i, line := range lines {
		lines[i] = highlightLineWithStyle(line, query, i == matchLine)
	}
	return renderResult{content: strings.Join(lines, "\n")}
}

func (m Model) currentMatchLine() int {
	if m.inSessionMatchIdx >= 0 && m.inSessionMatchIdx < len(m.matchLines) {
		return m.matchLines[m.inSessionMatchIdx]
	}
	return -1
}

func (m *Model) rerender() {
	if m.currentSession == nil {
		return
	}
	query := ""
	if m.inSessionSearchMode {
		query = m.inSessionSearch.Value()
	}
	m.viewport.SetContent(renderConversation(m.currentSession, query, m.currentMatchLine(), m.width).content)
}

func (m *Model) exitInSessionSearch() {
	m.inSessionSearchMode = false
	m.inSessionNavigationMode = false
	m.inSessionSearch.SetValue("")
	m.inSessionSearch.Blur()
	m.matchLines = nil
	m.inSessionMatchIdx = 0
	m.rerender()
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.inSessionSearchMode {
		// Navigation mode (after Enter) cycles matches with n/p
		if m.inSessionNavigationMode {
			switch msg.String() {
			case "esc":
				m.exitInSessionSearch()
			case "n":
				if len(m.matchLines) > 0 {
					m.inSessionMatchIdx = (m.inSessionMatchIdx + 1) % len(m.matchLines)
					m.rerender()
					scrollToMatchSmart(&m)
				}
			case "p":
				if len(m.matchLines) > 0 {
					m.inSessionMatchIdx = (m.inSessionMatchIdx - 1 + len(m.matchLines)) % len(m.matchLines)
					m.rerender()
					scrollToMatchSmart(&m)
				}
			case "j", "down":
				m.viewport.LineDown(1)
			case "k", "up":
				m.viewport.LineUp(1)
			}
			return m, nil
		}

		switch msg.String() {
		case "esc":
			m.exitInSessionSearch()
			return m, nil

		case "enter":
			if len(m.matchLines) > 0 {
				m.inSessionNavigationMode = true
				m.rerender()
			}
			return m, nil

		case "down":
			m.viewport.LineDown(1)
			return m, nil

		case "up":
			m.viewport.LineUp(1)
			return m, nil
		}

		var cmd tea.Cmd
		m.inSessionSearch, cmd = m.inSessionSearch.Update(msg)

		// Live highlighting, jumping to the first match on every keystroke
		m.matchLines = findMatchesInRenderedContent(m.currentSession, m.inSessionSearch.Value(), m.width)
		if len(m.matchLines) > 0 {
			m.inSessionMatchIdx = 0
		} else {
			m.inSessionMatchIdx = -1
		}
		m.rerender()
		scrollToMatchAlways(&m)
		return m, cmd
	}

	switch msg.String() {
	case "esc":
		m.mode = listView
		return m, nil

	case "y":
		if m.currentSession != nil {
			return m, copyExport(m.currentSession, m.exportTemplate)
		}
		return m, nil

	case "ctrl+f", "/":
		m.inSessionSearchMode = true
		m.status = ""
		m.inSessionSearch.Focus()
		return m, nil

	case "j", "down":
		m.viewport.LineDown(1)
		return m, nil

	case "k", "up":
		m.viewport.LineUp(1)
		return m, nil

	case "d":
		m.viewport.HalfViewDown()
		return m, nil

	case "u":
		m.viewport.HalfViewUp()
		return m, nil

	case "g":
		m.viewport.GotoTop()
		return m, nil

	case "G":
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// highlightLineWithStyle highlights all occurrences of query in a single line
func highlightLineWithStyle(text, query string, isCurrent bool) string {
	if query == "" {
		return text
	}

	// Lowercasing can change byte lengths outside ASCII
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		return text
	}
	lowerQuery := strings.ToLower(query)

	var result strings.Builder
	lastIdx := 0
	matchCount := 0

	for {
		idx := strings.Index(lower[lastIdx:], lowerQuery)
		if idx == -1 {
			result.WriteString(text[lastIdx:])
			break
		}
		idx += lastIdx
		result.WriteString(text[lastIdx:idx])

		// The current line highlights its first match as current
		var style lipgloss.Style
		if isCurrent && matchCount == 0 {
			style = searchCurrentMatchStyle
		} else {
			style = searchMatchStyle
		}
		result.WriteString(style.Render(text[idx : idx+len(lowerQuery)]))

		lastIdx = idx + len(lowerQuery)
		matchCount++
	}

	return result.String()
}

// findMatchesInRenderedContent renders the conversation without highlighting
// and returns the indices of lines containing query, skipping the header.
func findMatchesInRenderedContent(detail *models.SessionDetail, query string, width int) []int {
	if query == "" || detail == nil {
		return nil
	}

	lines := strings.Split(renderConversation(detail, "", -1, width).content, "\n")
	queryLower := strings.ToLower(query)

	var matchLines []int
	for i, line := range lines {
		if i >= headerLines && strings.Contains(strings.ToLower(line), queryLower) {
			matchLines = append(matchLines, i)
		}
	}
	return matchLines
}

// scrollToMatchSmart scrolls only when the current match is off screen,
// leaving 3 lines of context above it
func scrollToMatchSmart(m *Model) {
	matchLine := m.currentMatchLine()
	if matchLine < 0 {
		return
	}
	if matchLine >= m.viewport.YOffset && matchLine < m.viewport.YOffset+m.viewport.Height {
		return
	}
	m.viewport.SetYOffset(max(matchLine-3, 0))
}

// scrollToMatchAlways positions the current match 3 lines from the top
func scrollToMatchAlways(m *Model) {
	matchLine := m.currentMatchLine()
	if matchLine < 0 {
		return
	}
	m.viewport.SetYOffset(max(matchLine-3, 0))
}

func (m Model) viewDetail() string {
	if m.currentSession == nil {
		return "No session loaded"
	}

	content := m.viewport.View()

	if m.inSessionSearchMode {
		searchBox := "\n" + m.inSessionSearch.View()
		if len(m.matchLines) > 0 {
			searchBox += fmt.Sprintf(" [%d/%d matches]", m.inSessionMatchIdx+1, len(m.matchLines))
		} else if m.inSessionSearch.Value() != "" {
			searchBox += " [no matches]"
		}
		if m.inSessionNavigationMode {
			searchBox += "\nn/p: next/prev | ↑↓: scroll | esc: exit"
		} else {
			searchBox += "\nEnter: navigate mode | ↑↓: scroll | esc: exit"
		}
		return content + searchBox
	}

	footer := fmt.Sprintf("\n%3.f%%", m.viewport.ScrollPercent()*100)
	if m.status != "" {
		footer += " " + m.status
	}
	footer += "\ny: copy markdown | /: search | j/k: scroll | d/u: half page | g/G: top/bottom | esc: back | q: quit"
	return content + footer
}
