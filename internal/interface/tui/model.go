package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/neilberkman/agentrider/internal/core/db"
	"github.com/neilberkman/agentrider/internal/core/importer"
	"github.com/neilberkman/agentrider/internal/core/models"
)

type viewMode int

const (
	listView viewMode = iota
	detailView
	searchView
	helpView
)

// Model is the session browser
type Model struct {
	db             *db.DB
	importer       *importer.Importer
	exportTemplate string

	mode     viewMode
	prevMode viewMode
	list     list.Model
	viewport viewport.Model
	width    int
	height   int
	err      error
	status   string

	sessions       []sessionItem
	currentSession *models.SessionDetail

	// Search view
	searchInput       textinput.Model
	searchResults     []searchResult
	searchSelectedIdx int
	searchViewOffset  int

	// In-session search
	inSessionSearch         textinput.Model
	inSessionSearchMode     bool
	inSessionNavigationMode bool
	matchLines              []int
	inSessionMatchIdx       int

	// Sync state
	syncing          bool
	syncUpdates      chan tea.Msg
	syncCurrent      int
	syncTotal        int
	syncCurrentFile  string
	savedCursorIndex int
}

type sessionItem struct {
	ID         string
	ExternalID string
	Source     models.Source
	Title      string
	Project    string
	EventCount int
	UpdatedAt  time.Time
}

type searchResult struct {
	SessionID string
	Source    models.Source
	Title     string
	Project   string
	UpdatedAt time.Time
	Matches   []matchInfo
}

type matchInfo struct {
	Kind    models.EventKind
	Role    models.Role
	Snippet string
}

// New creates the browser. imp may be nil, which disables the sync key.
func New(database *db.DB, imp *importer.Importer, exportTemplate string) Model {
	search := textinput.New()
	search.Placeholder = "search events (source:codex kind:error after:7d ...)"
	search.CharLimit = 200
	search.Focus()

	inSession := textinput.New()
	inSession.Placeholder = "find in session"
	inSession.CharLimit = 100

	return Model{
		db:              database,
		importer:        imp,
		exportTemplate:  exportTemplate,
		mode:            listView,
		searchInput:     search,
		inSessionSearch: inSession,
	}
}

func (m Model) Init() tea.Cmd {
	return loadSessions(m.db)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.sessions != nil {
			m.list.SetSize(msg.Width, msg.Height-1)
		}
		if m.currentSession != nil {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 3
			m.viewport.SetContent(renderConversation(m.currentSession, "", -1, m.width).content)
		}
		return m, nil

	case tea.MouseMsg:
		switch m.mode {
		case detailView:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case searchView:
			if msg.Button == tea.MouseButtonWheelDown || msg.Button == tea.MouseButtonWheelUp {
				return handleSearchMouseWheel(m, msg.Button == tea.MouseButtonWheelDown), nil
			}
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		// Text inputs own every other key while focused
		typing := m.mode == searchView || (m.mode == detailView && m.inSessionSearchMode && !m.inSessionNavigationMode)
		if !typing {
			switch msg.String() {
			case "q":
				if m.mode == listView {
					return m, tea.Quit
				}
				m.mode = listView
				return m, nil
			case "?":
				if m.mode != helpView {
					m.prevMode = m.mode
					m.mode = helpView
				}
				return m, nil
			}
		}

		switch m.mode {
		case listView:
			return m.updateList(msg)
		case detailView:
			return m.updateDetail(msg)
		case searchView:
			return m.updateSearch(msg)
		case helpView:
			return m.updateHelp(msg)
		}

	case sessionsLoadedMsg:
		m.sessions = msg.sessions
		m.list = createSessionList(msg.sessions, m.width, m.height)
		if m.savedCursorIndex > 0 && m.savedCursorIndex < len(msg.sessions) {
			m.list.Select(m.savedCursorIndex)
		}
		return m, nil

	case sessionDetailLoadedMsg:
		m.currentSession = msg.detail
		m.viewport = createViewport(msg.detail, m.width, m.height)
		m.inSessionSearchMode = false
		m.inSessionNavigationMode = false
		m.matchLines = nil
		m.status = ""
		m.mode = detailView
		return m, nil

	case searchResultsMsg:
		// Drop stale results from earlier keystrokes
		if msg.query != m.searchInput.Value() {
			return m, nil
		}
		m.searchResults = msg.results
		return adjustSearchViewport(m), nil

	case syncProgressMsg:
		m.syncCurrent = msg.current
		m.syncTotal = msg.total
		m.syncCurrentFile = msg.artifact
		return m, waitForSync(m.syncUpdates)

	case syncDoneMsg:
		m.syncing = false
		m.syncUpdates = nil
		m.syncTotal = 0
		m.status = msg.status()
		return m, loadSessions(m.db)

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.err != nil {
		return "Error: " + m.err.Error() + "\n\nPress ctrl+c to quit"
	}

	switch m.mode {
	case listView:
		return m.viewList()
	case detailView:
		return m.viewDetail()
	case searchView:
		return m.viewSearch()
	case helpView:
		return m.viewHelp()
	}

	return ""
}
