package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neilberkman/agentrider/internal/core/metrics"
	"github.com/neilberkman/agentrider/internal/core/models"
)

// recomputeMetrics rebuilds derived rows for one session inside tx
func recomputeMetrics(tx *sql.Tx, session *models.Session, now time.Time) error {
	events, err := loadEvents(tx, session.ID)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	res := metrics.Compute(*session, events, now)

	if _, err := tx.Exec(`DELETE FROM tool_calls WHERE session_id = ?`, session.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM files_touched WHERE session_id = ?`, session.ID); err != nil {
		return err
	}

	for _, c := range res.ToolCalls {
		var completed interface{}
		if c.CompletedAt != nil {
			completed = FormatTime(*c.CompletedAt)
		}
		_, err := tx.Exec(`
			INSERT INTO tool_calls (session_id, call_id, tool_name, started_at, completed_at, duration_ms, success, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, session.ID, nullString(c.CallID), c.ToolName, FormatTime(c.StartedAt), completed, c.DurationMs, c.Success, nullString(c.ErrorMessage))
		if err != nil {
			return fmt.Errorf("insert tool call: %w", err)
		}
	}

	for _, f := range res.Files {
		_, err := tx.Exec(`
			INSERT INTO files_touched (session_id, file_path, operation, lines_added, lines_removed, touched_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, session.ID, f.FilePath, f.Operation, f.LinesAdded, f.LinesRemoved, FormatTime(f.TouchedAt))
		if err != nil {
			return fmt.Errorf("insert file touch: %w", err)
		}
	}

	m := res.Metrics
	_, err = tx.Exec(`
		INSERT INTO session_metrics (
			session_id, message_count, user_count, assistant_count, tool_call_count, tool_result_count,
			error_count, system_count, duration_seconds, tool_success, tool_failures, files_touched,
			lines_added, lines_removed, model, provider, input_tokens, output_tokens, estimated_cost,
			total_latency_ms, avg_latency_ms, p50_latency_ms, p95_latency_ms, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			message_count = excluded.message_count,
			user_count = excluded.user_count,
			assistant_count = excluded.assistant_count,
			tool_call_count = excluded.tool_call_count,
			tool_result_count = excluded.tool_result_count,
			error_count = excluded.error_count,
			system_count = excluded.system_count,
			duration_seconds = excluded.duration_seconds,
			tool_success = excluded.tool_success,
			tool_failures = excluded.tool_failures,
			files_touched = excluded.files_touched,
			lines_added = excluded.lines_added,
			lines_removed = excluded.lines_removed,
			model = excluded.model,
			provider = excluded.provider,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			estimated_cost = excluded.estimated_cost,
			total_latency_ms = excluded.total_latency_ms,
			avg_latency_ms = excluded.avg_latency_ms,
			p50_latency_ms = excluded.p50_latency_ms,
			p95_latency_ms = excluded.p95_latency_ms,
			computed_at = excluded.computed_at
	`,
		session.ID, m.MessageCount, m.UserCount, m.AssistantCount, m.ToolCallCount, m.ToolResultCount,
		m.ErrorCount, m.SystemCount, m.DurationSeconds, m.ToolSuccess, m.ToolFailures, m.FilesTouched,
		m.LinesAdded, m.LinesRemoved, nullString(m.Model), nullString(m.Provider), m.InputTokens, m.OutputTokens,
		m.EstimatedCost, m.TotalLatencyMs, m.AvgLatencyMs, m.P50LatencyMs, m.P95LatencyMs, FormatTime(m.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}

// GetSessionMetrics returns the stored metrics for a session
func (db *DB) GetSessionMetrics(sessionID string) (*models.SessionMetrics, error) {
	var m models.SessionMetrics
	var model, provider sql.NullString
	var cost sql.NullFloat64
	var computedAt string
	err := db.QueryRow(`
		SELECT session_id, message_count, user_count, assistant_count, tool_call_count, tool_result_count,
			error_count, system_count, duration_seconds, tool_success, tool_failures, files_touched,
			lines_added, lines_removed, model, provider, input_tokens, output_tokens, estimated_cost,
			total_latency_ms, avg_latency_ms, p50_latency_ms, p95_latency_ms, computed_at
		FROM session_metrics WHERE session_id = ?
	`, sessionID).Scan(
		&m.SessionID, &m.MessageCount, &m.UserCount, &m.AssistantCount, &m.ToolCallCount, &m.ToolResultCount,
		&m.ErrorCount, &m.SystemCount, &m.DurationSeconds, &m.ToolSuccess, &m.ToolFailures, &m.FilesTouched,
		&m.LinesAdded, &m.LinesRemoved, &model, &provider, &m.InputTokens, &m.OutputTokens, &cost,
		&m.TotalLatencyMs, &m.AvgLatencyMs, &m.P50LatencyMs, &m.P95LatencyMs, &computedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("metrics for %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m.Model = model.String
	m.Provider = provider.String
	if cost.Valid {
		c := cost.Float64
		m.EstimatedCost = &c
	}
	m.ComputedAt = ParseTime(computedAt)
	return &m, nil
}

// RecomputeAll rebuilds metrics for every session, one transaction per session.
// progress, when non-nil, is called after each session.
func (db *DB) RecomputeAll(ctx context.Context, progress func(done, total int)) (int, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.pk`)
	if err != nil {
		return 0, err
	}
	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		sessions = append(sessions, s)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	done := 0
	for i := range sessions {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		tx, err := db.BeginTx(ctx)
		if err != nil {
			return done, writeErr("begin", err)
		}
		if err := recomputeMetrics(tx, &sessions[i], time.Now()); err != nil {
			_ = tx.Rollback()
			return done, writeErr("recompute "+sessions[i].ID, err)
		}
		if err := tx.Commit(); err != nil {
			return done, writeErr("commit", err)
		}
		done++
		if progress != nil {
			progress(done, len(sessions))
		}
	}
	return done, nil
}
