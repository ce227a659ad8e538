package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// LEVEL  2025-01-09T12:34:56 +12ms service=x key=value ...
var (
	logLinePattern   = regexp.MustCompile(`^(ERROR|WARN|INFO|DEBUG)\s+(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?)\s+\+\d+ms\s+(.*)$`)
	logSessionKey    = regexp.MustCompile(`(?:^|\s)(?:sessionID|session\.id)=(\S+)`)
	logSessionIDOnly = regexp.MustCompile(`(?:^|\s)id=(ses_\S+)`)
	logService       = regexp.MustCompile(`(?:^|\s)service=(\S+)`)
)

const logTimeLayout = "2006-01-02T15:04:05"

func discoverLogs(dir string) ([]Artifact, error) {
	paths, err := logFiles(dir)
	if err != nil {
		return nil, err
	}
	artifacts := make([]Artifact, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			// Rotated away since the glob
			continue
		}
		artifacts = append(artifacts, Artifact{
			Source:  models.SourceOpenCode,
			ID:      path,
			Path:    path,
			Marker:  fileMarker(info.ModTime(), info.Size()),
			Kind:    KindLog,
			ModTime: info.ModTime(),
		})
	}
	return artifacts, nil
}

// parseLog turns ERROR and WARN lines that name a session into events on that
// session. Lines without the header are continuations and are ignored.
func (o *OpenCode) parseLog(ctx context.Context, artifact Artifact, cursor Cursor) (*ParseResult, error) {
	drafts := map[string]*SessionDraft{}
	var order []string
	spans := map[string]*span{}
	failed := 0
	base := filepath.Base(artifact.Path)

	next, partial, err := readLines(artifact.Path, cursor, nil, func(line []byte, lineNo int) {
		if ctx.Err() != nil {
			return
		}
		m := logLinePattern.FindSubmatch(line)
		if m == nil {
			return
		}
		level, rest := string(m[1]), string(m[3])
		if level != "ERROR" && level != "WARN" {
			return
		}
		sessionID := logSession(rest)
		if sessionID == "" {
			return
		}
		ts, err := time.ParseInLocation(logTimeLayout, string(m[2]), time.Local)
		if err != nil {
			failed++
			o.logger.Debug("skipping log line", zap.Error(&ParseError{Path: artifact.Path, Line: lineNo, Err: err}))
			return
		}
		ts = ts.UTC()

		d, ok := drafts[sessionID]
		if !ok {
			d = &SessionDraft{Session: models.Session{Source: models.SourceOpenCode, ExternalID: sessionID}}
			drafts[sessionID] = d
			spans[sessionID] = &span{}
			order = append(order, sessionID)
		}
		spans[sessionID].add(ts)

		e := models.Event{
			Kind:      models.KindSystem,
			Role:      models.RoleSystem,
			Content:   rest,
			Timestamp: ts,
			Seq:       lineSeq(lineNo, 0),
			NativeID:  fmt.Sprintf("%s:%d", base, lineNo),
			RawPayload: payload{}.
				set("log", base).
				set("level", level).
				set("service", firstGroup(logService, rest)).
				set("line", string(line)).
				raw(),
		}
		if level == "ERROR" {
			e.Kind = models.KindError
			e.Role = models.RoleNone
			e.IsError = true
		}
		d.Events = append(d.Events, e)
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ParseResult{Failed: failed, Cursor: next, Partial: partial}
	for _, id := range order {
		d := drafts[id]
		d.Session.CreatedAt, d.Session.UpdatedAt = spans[id].bounds(artifact.ModTime)
		result.Sessions = append(result.Sessions, *d)
	}
	return result, nil
}

func logSession(rest string) string {
	if id := firstGroup(logSessionKey, rest); id != "" {
		return id
	}
	return firstGroup(logSessionIDOnly, rest)
}

func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
