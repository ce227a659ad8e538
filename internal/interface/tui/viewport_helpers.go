package tui

const (
	linesPerResult = 7 // header + project + 3 matches + spacing
	reservedLines  = 8 // search header and footer
)

func visibleSearchResults(height int) int {
	return max((height-reservedLines)/linesPerResult, 2)
}

// adjustSearchViewport keeps the selected search result inside the visible window
func adjustSearchViewport(m Model) Model {
	maxVisibleResults := visibleSearchResults(m.height)

	if m.searchSelectedIdx >= m.searchViewOffset+maxVisibleResults {
		m.searchViewOffset = m.searchSelectedIdx - maxVisibleResults + 1
	}
	if m.searchSelectedIdx < m.searchViewOffset {
		m.searchViewOffset = m.searchSelectedIdx
	}
	return m
}

// handleSearchMouseWheel moves the search selection one result per wheel step
func handleSearchMouseWheel(m Model, wheelDown bool) Model {
	if len(m.searchResults) == 0 {
		return m
	}
	if wheelDown {
		m.searchSelectedIdx = min(m.searchSelectedIdx+1, len(m.searchResults)-1)
	} else {
		m.searchSelectedIdx = max(m.searchSelectedIdx-1, 0)
	}
	return adjustSearchViewport(m)
}
