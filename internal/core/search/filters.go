package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// ParseQuery extracts inline filters from a search string
// Supports:
//   - source:<name> - filter by source (claude, codex, opencode, crush)
//   - project:<path> - filter by project substring
//   - kind:<kind> - filter by event kind
//   - after:yesterday, before:2024-11-01 - date ranges, date: is an alias of after:
//
// Unrecognized or unparsable filter tokens are kept as search text.
func ParseQuery(text string, now time.Time) Query {
	var q Query
	var textParts []string

	for _, token := range strings.Fields(text) {
		key, value, found := strings.Cut(token, ":")
		if !found || value == "" {
			textParts = append(textParts, token)
			continue
		}

		switch strings.ToLower(key) {
		case "source":
			if s, err := models.ParseSource(value); err == nil {
				q.Source = s
				continue
			}
		case "project":
			q.Project = value
			continue
		case "kind":
			if k, err := models.ParseKind(value); err == nil {
				q.Kind = k
				continue
			}
		case "after", "date", "since":
			if t, err := ParseSince(value, now); err == nil {
				q.Since = t
				continue
			}
		case "before", "until":
			if t, err := ParseSince(value, now); err == nil {
				q.Until = t
				continue
			}
		}
		textParts = append(textParts, token)
	}

	q.Text = strings.Join(textParts, " ")
	return q
}

var dateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// ParseSince resolves a time expression relative to now: Nd, Nh, Nw, Nm (30 days),
// an absolute date, or natural language such as "yesterday" or "last-week"
func ParseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if d, ok := relativeDuration(value); ok {
		return now.Add(-d), nil
	}

	for _, format := range dateFormats {
		if t, err := time.ParseInLocation(format, value, now.Location()); err == nil {
			return t, nil
		}
	}

	// Try natural language parsing last
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(strings.ReplaceAll(value, "-", " "), now)
	if err == nil && result != nil {
		return result.Time, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression %q", value)
}

func relativeDuration(value string) (time.Duration, bool) {
	if len(value) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	var unit time.Duration
	switch value[len(value)-1] {
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	case 'm':
		unit = 30 * 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}
