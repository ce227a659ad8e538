package tui

import (
	"fmt"
	"strings"
)

// renderProgressBar creates a visual progress bar like the CLI
func renderProgressBar(current, total int, width int) string {
	if total == 0 {
		return ""
	}
	if current > total {
		current = total
	}

	pct := float64(current) / float64(total) * 100

	// Leave space for percentage and counts
	barWidth := width - 30
	if barWidth > 50 {
		barWidth = 50
	}
	if barWidth < 20 {
		barWidth = 20
	}

	filled := barWidth * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	return fmt.Sprintf("[%s] %3.0f%% (%d/%d)", bar, pct, current, total)
}
