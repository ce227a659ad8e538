package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
)

type sessionListItem struct {
	session sessionItem
}

func (i sessionListItem) FilterValue() string {
	return i.session.Title + " " + i.session.Project
}

func (i sessionListItem) Title() string {
	if i.session.Title != "" {
		return i.session.Title
	}
	id := i.session.ExternalID
	if len(id) > 12 {
		id = id[:12] + "..."
	}
	return id
}

func (i sessionListItem) Description() string {
	return fmt.Sprintf("%s | %s | %d events | Updated: %s",
		i.session.Source, i.session.Project, i.session.EventCount, formatTime(i.session.UpdatedAt))
}

// sessionDelegate renders each session on two lines with a source badge
type sessionDelegate struct {
	list.DefaultDelegate
}

func (d sessionDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	s, ok := item.(sessionListItem)
	if !ok {
		d.DefaultDelegate.Render(w, m, index, item)
		return
	}

	title := s.Title()
	desc := s.Description()
	badge := sourceStyle(s.session.Source).Render(fmt.Sprintf("%-8s", s.session.Source))

	if index == m.Index() {
		title = selectedItemStyle.Render(title)
		desc = selectedItemStyle.Faint(true).Render(desc)
	} else {
		title = itemStyle.Render(title)
		desc = itemStyle.Render(desc)
	}

	fmt.Fprintf(w, "%s %s\n%s", badge, title, desc)
}

func createSessionList(sessions []sessionItem, width, height int) list.Model {
	items := make([]list.Item, len(sessions))
	for i, s := range sessions {
		items[i] = sessionListItem{session: s}
	}

	delegate := sessionDelegate{DefaultDelegate: list.NewDefaultDelegate()}

	l := list.New(items, delegate, width, height-1) // Reserve 1 line for help text only
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false) // Dedicated search with /

	return l
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if selected, ok := m.list.SelectedItem().(sessionListItem); ok {
			return m, loadSessionDetail(m.db, selected.session.ID)
		}
		return m, nil

	case "/":
		m.mode = searchView
		m.searchInput.Focus()
		return m, nil

	case "s":
		if m.importer == nil || m.syncing {
			return m, nil
		}
		m.syncing = true
		m.status = ""
		m.savedCursorIndex = m.list.Index()
		m.syncUpdates = make(chan tea.Msg, 16)
		return m, startSync(m.importer, m.syncUpdates)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) viewList() string {
	var helpText string
	switch {
	case m.syncing && m.syncTotal > 0:
		progressBar := renderProgressBar(m.syncCurrent, m.syncTotal, m.width)
		sessionInfo := ""
		if m.syncCurrentFile != "" {
			sessionInfo = " | " + firstLine(m.syncCurrentFile, 57)
		}
		helpText = progressBar + sessionInfo
	case m.syncing:
		helpText = "⏳ Syncing..."
	case m.status != "":
		helpText = m.status + " • ? help"
	default:
		helpText = "↑/k up • ↓/j down • / search • s sync • q quit • ? more"
	}

	if len(m.sessions) == 0 {
		return "No sessions found. Press 's' to sync.\n\n" + helpText
	}

	return m.list.View() + "\n" + helpText
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return humanize.Time(t)
}
