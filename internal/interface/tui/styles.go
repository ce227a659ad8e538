package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// Global styles used across views
var (
	// List view styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	itemStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(1).
				Foreground(lipgloss.Color("170")).
				Bold(true)

	// Detail view styles
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("cyan")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow")).
			Bold(true)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("111")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("246")) // Lighter gray that works better in dark terminals

	// Search view styles
	searchHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205"))

	searchMatchStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("240")).
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	searchCurrentMatchStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("226")).
				Foreground(lipgloss.Color("0")).
				Bold(true)

	searchMetaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("246"))

	searchSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("170")).
				Bold(true)

	// Help view styles
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

var sourceColors = map[models.Source]lipgloss.Color{
	models.SourceClaude:   lipgloss.Color("173"),
	models.SourceCodex:    lipgloss.Color("39"),
	models.SourceOpenCode: lipgloss.Color("141"),
	models.SourceCrush:    lipgloss.Color("204"),
}

func sourceStyle(s models.Source) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	if c, ok := sourceColors[s]; ok {
		style = style.Foreground(c)
	}
	return style
}

// eventStyle picks the header style and label of an event
func eventStyle(e models.Event) (lipgloss.Style, string) {
	switch e.Kind {
	case models.KindToolCall:
		if e.ToolName != "" {
			return toolStyle, "TOOL CALL " + e.ToolName
		}
		return toolStyle, "TOOL CALL"
	case models.KindToolResult:
		if e.IsError {
			return errorStyle, "TOOL RESULT (error)"
		}
		return toolStyle, "TOOL RESULT"
	case models.KindError:
		return errorStyle, "ERROR"
	case models.KindSystem:
		return systemStyle, "SYSTEM"
	}
	switch e.Role {
	case models.RoleUser:
		return userStyle, "USER"
	case models.RoleAssistant:
		return assistantStyle, "ASSISTANT"
	case models.RoleSystem:
		return systemStyle, "SYSTEM"
	}
	return lipgloss.NewStyle(), "MESSAGE"
}
