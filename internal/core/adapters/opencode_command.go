package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ocListItem is one row of `opencode session list --format json`
type ocListItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Created   int64  `json:"created"`
	Updated   int64  `json:"updated"`
	ProjectID string `json:"projectId,omitempty"`
	Directory string `json:"directory,omitempty"`
}

func (o *OpenCode) listSessions(ctx context.Context) ([]ocListItem, error) {
	out, err := o.run(ctx, "session", "list", "--format", "json")
	if err != nil {
		return nil, err
	}
	var items []ocListItem
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, &ExternalToolError{Command: o.commandLine("session", "list"), Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	return items, nil
}

func (o *OpenCode) export(ctx context.Context, sessionID string) (*ocDocument, error) {
	out, err := o.run(ctx, "export", sessionID)
	if err != nil {
		return nil, err
	}
	var doc ocDocument
	if err := json.Unmarshal(exportJSON(out), &doc); err != nil {
		return nil, &ExternalToolError{Command: o.commandLine("export", sessionID), Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	return &doc, nil
}

// run executes the CLI with the configured timeout and returns stdout
func (o *OpenCode) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, o.opts.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", o.opts.Timeout, ctx.Err())
		}
		return nil, &ExternalToolError{Command: o.commandLine(args...), Err: err, Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

func (o *OpenCode) commandLine(args ...string) string {
	return o.opts.Command + " " + strings.Join(args, " ")
}

// exportJSON drops any banner the CLI prints before the document
func exportJSON(out []byte) []byte {
	if i := bytes.IndexByte(out, '{'); i > 0 {
		return out[i:]
	}
	return out
}
