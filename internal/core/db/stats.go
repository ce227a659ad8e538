package db

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Stats represents database statistics
type Stats struct {
	TotalSessions          int
	TotalEvents            int
	TotalToolCalls         int
	SessionsBySource       map[string]int
	OldestSession          time.Time
	NewestSession          time.Time
	MostActiveProject      string
	MostActiveProjectCount int
}

// GetStats returns comprehensive database statistics
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{SessionsBySource: make(map[string]int)}

	// Total sessions
	err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&stats.TotalSessions)
	if err != nil {
		return nil, err
	}

	// Total events
	err = db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents)
	if err != nil {
		return nil, err
	}

	// Total tool calls
	err = db.QueryRow("SELECT COUNT(*) FROM tool_calls").Scan(&stats.TotalToolCalls)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query("SELECT source, COUNT(*) FROM sessions GROUP BY source")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.SessionsBySource[source] = n
	}
	_ = rows.Close()

	// Date range (only if we have sessions)
	if stats.TotalSessions > 0 {
		var minCreated, maxUpdated sql.NullString
		err = db.QueryRow("SELECT MIN(created_at), MAX(updated_at) FROM sessions").Scan(&minCreated, &maxUpdated)
		if err != nil {
			return nil, err
		}
		if minCreated.Valid {
			stats.OldestSession = ParseTime(minCreated.String)
		}
		if maxUpdated.Valid {
			stats.NewestSession = ParseTime(maxUpdated.String)
		}

		// Most active project
		var mostActiveProject sql.NullString
		err = db.QueryRow(`
			SELECT project, COUNT(*) as count
			FROM sessions
			WHERE project IS NOT NULL
			GROUP BY project
			ORDER BY count DESC
			LIMIT 1
		`).Scan(&mostActiveProject, &stats.MostActiveProjectCount)

		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}

		if mostActiveProject.Valid {
			stats.MostActiveProject = mostActiveProject.String
		}
	}

	return stats, nil
}

// StatTable is the result of AggregateStats: one row per key, one value per column
type StatTable struct {
	Dimension string
	Columns   []string
	Rows      []StatRow
}

// StatRow is one aggregate bucket
type StatRow struct {
	Key    string
	Values []float64
}

type dimension struct {
	columns []string
	// query has %s for the time-range predicate on timeCol
	query   string
	timeCol string
}

var dimensions = map[string]dimension{
	"day": {
		columns: []string{"events", "sessions"},
		timeCol: "e.timestamp",
		query: `SELECT substr(e.timestamp, 1, 10), COUNT(*), COUNT(DISTINCT e.session_id)
			FROM events e WHERE %s GROUP BY 1 ORDER BY 1`,
	},
	"source": {
		columns: []string{"sessions", "events"},
		timeCol: "e.timestamp",
		query: `SELECT s.source, COUNT(DISTINCT s.id), COUNT(e.id)
			FROM events e JOIN sessions s ON s.id = e.session_id WHERE %s GROUP BY 1 ORDER BY 3 DESC`,
	},
	"project": {
		columns: []string{"sessions", "events"},
		timeCol: "e.timestamp",
		query: `SELECT COALESCE(s.project, '(none)'), COUNT(DISTINCT s.id), COUNT(e.id)
			FROM events e JOIN sessions s ON s.id = e.session_id WHERE %s GROUP BY 1 ORDER BY 3 DESC LIMIT 50`,
	},
	"kind": {
		columns: []string{"events", "sessions"},
		timeCol: "e.timestamp",
		query: `SELECT e.kind, COUNT(*), COUNT(DISTINCT e.session_id)
			FROM events e WHERE %s GROUP BY 1 ORDER BY 2 DESC`,
	},
	"errors": {
		columns: []string{"errors", "sessions"},
		timeCol: "e.timestamp",
		query: `SELECT substr(e.timestamp, 1, 10), COUNT(*), COUNT(DISTINCT e.session_id)
			FROM events e WHERE (e.kind = 'error' OR e.is_error = 1) AND %s GROUP BY 1 ORDER BY 1`,
	},
	"top-errors": {
		columns: []string{"count"},
		timeCol: "e.timestamp",
		query: `SELECT substr(replace(COALESCE(e.content, ''), char(10), ' '), 1, 120), COUNT(*)
			FROM events e WHERE (e.kind = 'error' OR e.is_error = 1) AND %s GROUP BY 1 ORDER BY 2 DESC LIMIT 20`,
	},
	"tools": {
		columns: []string{"calls", "failures", "avg_ms"},
		timeCol: "t.started_at",
		query: `SELECT t.tool_name, COUNT(*), SUM(CASE WHEN t.success THEN 0 ELSE 1 END), COALESCE(AVG(t.duration_ms), 0)
			FROM tool_calls t WHERE %s GROUP BY 1 ORDER BY 2 DESC LIMIT 50`,
	},
	"latency": {
		columns: []string{"slow_calls", "max_ms", "avg_ms"},
		timeCol: "t.started_at",
		query: `SELECT t.tool_name, COUNT(*), MAX(t.duration_ms), AVG(t.duration_ms)
			FROM tool_calls t WHERE t.duration_ms >= 5000 AND %s GROUP BY 1 ORDER BY 3 DESC LIMIT 50`,
	},
	"files": {
		columns: []string{"touches", "lines_added", "lines_removed"},
		timeCol: "f.touched_at",
		query: `SELECT f.file_path, COUNT(*), SUM(f.lines_added), SUM(f.lines_removed)
			FROM files_touched f WHERE %s GROUP BY 1 ORDER BY 2 DESC LIMIT 25`,
	},
	"churn": {
		columns: []string{"lines_added", "lines_removed"},
		timeCol: "f.touched_at",
		query: `SELECT substr(f.touched_at, 1, 10), SUM(f.lines_added), SUM(f.lines_removed)
			FROM files_touched f WHERE %s GROUP BY 1 ORDER BY 1`,
	},
	"cost": {
		columns: []string{"sessions", "input_tokens", "output_tokens", "cost"},
		timeCol: "s.updated_at",
		query: `SELECT COALESCE(m.model, '(unknown)'), COUNT(*), SUM(m.input_tokens), SUM(m.output_tokens), COALESCE(SUM(m.estimated_cost), 0)
			FROM session_metrics m JOIN sessions s ON s.id = m.session_id WHERE %s GROUP BY 1 ORDER BY 5 DESC`,
	},
}

// Dimensions lists the names accepted by AggregateStats
func Dimensions() []string {
	names := make([]string, 0, len(dimensions))
	for name := range dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateStats groups activity by dimension within [since, until); zero times are open bounds
func (db *DB) AggregateStats(dim string, since, until time.Time) (*StatTable, error) {
	d, ok := dimensions[dim]
	if !ok {
		return nil, fmt.Errorf("unknown stats dimension %q (expected one of %s)", dim, strings.Join(Dimensions(), ", "))
	}

	var conds []string
	var args []interface{}
	if !since.IsZero() {
		conds = append(conds, d.timeCol+" >= ?")
		args = append(args, FormatTime(since))
	}
	if !until.IsZero() {
		conds = append(conds, d.timeCol+" < ?")
		args = append(args, FormatTime(until))
	}
	where := "1=1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	rows, err := db.Query(fmt.Sprintf(d.query, where), args...)
	if err != nil {
		return nil, fmt.Errorf("stats %s: %w", dim, err)
	}
	defer rows.Close()

	table := &StatTable{Dimension: dim, Columns: d.columns}
	for rows.Next() {
		var key sql.NullString
		values := make([]sql.NullFloat64, len(d.columns))
		dest := []interface{}{&key}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := StatRow{Key: key.String, Values: make([]float64, len(values))}
		for i, v := range values {
			row.Values[i] = v.Float64
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}
