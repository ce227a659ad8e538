package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) updateHelp(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "?":
		m.mode = m.prevMode
	}
	return m, nil
}

func (m Model) viewHelp() string {
	help := `
agentrider - Help
═════════════════

SESSION LIST VIEW
─────────────────
  ↑/↓, j/k     Navigate sessions
  Enter        View session details
  /            Search events across all sources
  s            Sync every source incrementally
  ?            Show this help
  q            Quit

SESSION DETAIL VIEW
───────────────────
  y            Copy session as markdown
  /            Search within session
  n/p          Next/previous match (after Enter)
  j/k          Scroll line by line
  d/u          Scroll half page
  g/G          Jump to top/bottom
  esc          Back to session list
  q            Quit

SEARCH VIEW
───────────
  Type         Enter search query (live)
  source:X     Restrict to claude, codex, opencode or crush
  kind:X       Restrict to message, tool_call, tool_result, error, system
  after:X      Dates like 7d, yesterday, 2025-01-02
  Enter        Open selected session
  ↑/↓          Navigate results
  esc          Back to session list

Press esc or ? to go back
`

	return helpStyle.Render(help)
}
