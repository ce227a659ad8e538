package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/agentrider/internal/core/models"
)

// buildStorage lays out one session with a user and an assistant message
func buildStorage(t *testing.T, root string) string {
	t.Helper()
	sessionPath := filepath.Join(root, "session", "proj_1", "ses_1.json")
	writeFile(t, sessionPath, `{"id":"ses_1","projectID":"proj_1","directory":"/work/app","title":"Add caching","time":{"created":1736424000000,"updated":1736424060000}}`)
	writeFile(t, filepath.Join(root, "message", "ses_1", "msg_1.json"),
		`{"id":"msg_1","sessionID":"ses_1","role":"user","time":{"created":1736424000000}}`)
	writeFile(t, filepath.Join(root, "message", "ses_1", "msg_2.json"),
		`{"id":"msg_2","sessionID":"ses_1","role":"assistant","modelID":"claude-sonnet-4","providerID":"anthropic","cost":0.25,"tokens":{"input":1000,"output":200,"reasoning":0},"time":{"created":1736424010000,"completed":1736424050000}}`)
	writeFile(t, filepath.Join(root, "part", "msg_1", "prt_1.json"),
		`{"id":"prt_1","messageID":"msg_1","type":"text","text":"Cache the lookups"}`)
	writeFile(t, filepath.Join(root, "part", "msg_2", "prt_2.json"),
		`{"id":"prt_2","messageID":"msg_2","type":"text","text":"Reading the store."}`)
	writeFile(t, filepath.Join(root, "part", "msg_2", "prt_3.json"),
		`{"id":"prt_3","messageID":"msg_2","type":"tool","tool":"read","callID":"c1","state":{"status":"completed","input":{"filePath":"/work/app/store.go"},"output":"package store","time":{"start":1736424011000,"end":1736424012500}}}`)
	writeFile(t, filepath.Join(root, "part", "msg_2", "prt_4.json"),
		`{"id":"prt_4","messageID":"msg_2","type":"tool","tool":"bash","callID":"c2","state":{"status":"error","input":{"command":"go test"},"error":"exit 1","time":{"start":1736424020000,"end":1736424030000}}}`)
	return sessionPath
}

func TestOpenCodeStorage(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "storage")
	sessionPath := buildStorage(t, storage)
	o := NewOpenCode(OpenCodeOptions{StorageDir: storage}, nil)

	artifacts, err := o.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, KindStorage, artifacts[0].Kind)
	assert.Equal(t, sessionPath, artifacts[0].Path)

	result, err := o.Parse(context.Background(), artifacts[0], Cursor{})
	require.NoError(t, err)
	require.Len(t, result.Sessions, 1)

	s := result.Sessions[0].Session
	assert.Equal(t, "ses_1", s.ExternalID)
	assert.Equal(t, "Add caching", s.Title)
	assert.Equal(t, "/work/app", s.Project)
	assert.Equal(t, time.UnixMilli(1736424000000).UTC(), s.CreatedAt)
	assert.JSONEq(t,
		`{"project_id":"proj_1","model":"claude-sonnet-4","provider":"anthropic","cost":0.25,"prompt_tokens":1000,"completion_tokens":200}`,
		string(s.RawPayload))

	events := result.Sessions[0].Events
	require.Len(t, events, 6)
	assert.Equal(t, "Cache the lookups", events[0].Content)
	assert.Equal(t, models.RoleUser, events[0].Role)
	assert.Equal(t, "msg_2", events[1].NativeID)

	call, res := events[2], events[3]
	assert.Equal(t, models.KindToolCall, call.Kind)
	assert.Equal(t, "read", call.ToolName)
	assert.Equal(t, "c1", call.ToolCallID)
	assert.Equal(t, "prt_3", call.NativeID)
	assert.Equal(t, models.KindToolResult, res.Kind)
	assert.Equal(t, "prt_3:result", res.NativeID)
	assert.Equal(t, 1500*time.Millisecond, res.Timestamp.Sub(call.Timestamp))

	assert.True(t, events[4].IsError)
	assert.True(t, events[5].IsError)
	assert.Equal(t, "exit 1", events[5].Content)
}

func TestOpenCodeLogs(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")
	logPath := filepath.Join(logDir, "2025-01-09T120000.log")
	writeFile(t, logPath, jsonl(
		`INFO  2025-01-09T12:00:00 +1ms service=server method=GET path=/session`,
		`ERROR 2025-01-09T12:00:01 +3ms service=session sessionID=ses_1 error=ProviderAuthError`,
		`  at stack frame`,
		`WARN  2025-01-09T12:00:02 +1ms service=bus type=session.updated id=ses_2 retrying`,
		`ERROR 2025-01-09T12:00:03 +1ms service=lsp no session here`,
		`ERROR 2025-13-45T99:00:00 +1ms service=session sessionID=ses_1 broken clock`,
	))
	o := NewOpenCode(OpenCodeOptions{LogDir: logDir}, nil)

	artifacts, err := o.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, KindLog, artifacts[0].Kind)

	result, err := o.Parse(context.Background(), artifacts[0], Cursor{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 6, result.Cursor.Line)
	require.Len(t, result.Sessions, 2)

	first := result.Sessions[0]
	assert.Equal(t, "ses_1", first.Session.ExternalID)
	require.Len(t, first.Events, 1)
	assert.Equal(t, models.KindError, first.Events[0].Kind)
	assert.True(t, first.Events[0].IsError)
	assert.Contains(t, first.Events[0].Content, "ProviderAuthError")

	second := result.Sessions[1]
	assert.Equal(t, "ses_2", second.Session.ExternalID)
	require.Len(t, second.Events, 1)
	assert.Equal(t, models.KindSystem, second.Events[0].Kind)
}

func TestOpenCodeLogs_Vanished(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")
	logPath := filepath.Join(logDir, "old.log")
	writeFile(t, logPath, "INFO  2025-01-09T12:00:00 +1ms service=x\n")
	o := NewOpenCode(OpenCodeOptions{LogDir: logDir}, nil)

	artifacts, err := o.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.NoError(t, os.Remove(logPath))

	_, err = o.Parse(context.Background(), artifacts[0], Cursor{})
	assert.True(t, errors.Is(err, ErrArtifactGone), "got %v", err)
}

func TestOpenCodeDiscover_NothingPresent(t *testing.T) {
	dir := t.TempDir()
	o := NewOpenCode(OpenCodeOptions{
		StorageDir: filepath.Join(dir, "storage"),
		LogDir:     filepath.Join(dir, "log"),
		Command:    filepath.Join(dir, "no-such-binary"),
	}, nil)

	_, err := o.Discover(context.Background())
	var de *DiscoveryError
	assert.True(t, errors.As(err, &de), "got %v", err)
}

// fakeOpenCode writes a shell script standing in for the opencode CLI
func fakeOpenCode(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "opencode")
	writeFile(t, path, "#!/bin/sh\n"+body)
	require.NoError(t, os.Chmod(path, 0o755))
	return path
}

const fakeExport = `{"info":{"id":"ses_1","title":"From CLI","directory":"/work/cli","time":{"created":1736424000000,"updated":1736424100000}},` +
	`"messages":[{"info":{"id":"msg_9","sessionID":"ses_1","role":"user","time":{"created":1736424000000}},"parts":[{"id":"prt_9","type":"text","text":"hello from the cli"}]}]}`

func TestOpenCodeCommand(t *testing.T) {
	cmd := fakeOpenCode(t, `case "$1" in
session) echo '[{"id":"ses_1","title":"From CLI","created":1736424000000,"updated":1736424100000,"directory":"/work/cli"}]' ;;
export) echo 'Exporting session: '"$2"; echo '`+fakeExport+`' ;;
*) exit 2 ;;
esac
`)
	storage := filepath.Join(t.TempDir(), "storage")
	buildStorage(t, storage)
	o := NewOpenCode(OpenCodeOptions{StorageDir: storage, Command: cmd, Timeout: 5 * time.Second}, nil)

	artifacts, err := o.Discover(context.Background())
	require.NoError(t, err)
	// ses_1 is covered by the command, so the storage copy is not emitted
	require.Len(t, artifacts, 1)
	assert.Equal(t, KindExport, artifacts[0].Kind)
	assert.Equal(t, "export:ses_1", artifacts[0].ID)
	assert.Equal(t, "1736424100000", artifacts[0].Marker)

	result, err := o.Parse(context.Background(), artifacts[0], Cursor{})
	require.NoError(t, err)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, "From CLI", result.Sessions[0].Session.Title)
	require.Len(t, result.Sessions[0].Events, 1)
	assert.Equal(t, "hello from the cli", result.Sessions[0].Events[0].Content)
}

func TestOpenCodeCommand_Failure(t *testing.T) {
	cmd := fakeOpenCode(t, "echo 'database locked' >&2\nexit 1\n")
	storage := filepath.Join(t.TempDir(), "storage")
	buildStorage(t, storage)
	o := NewOpenCode(OpenCodeOptions{StorageDir: storage, Command: cmd, Timeout: 5 * time.Second}, nil)

	// The storage tree still covers the session
	artifacts, err := o.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, KindStorage, artifacts[0].Kind)

	_, err = o.Parse(context.Background(), Artifact{Kind: KindExport, ID: "export:ses_1"}, Cursor{})
	var te *ExternalToolError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Contains(t, te.Stderr, "database locked")
}

func TestOpenCodeCommand_Timeout(t *testing.T) {
	cmd := fakeOpenCode(t, "exec sleep 5\n")
	o := NewOpenCode(OpenCodeOptions{Command: cmd, Timeout: 100 * time.Millisecond}, nil)

	start := time.Now()
	_, err := o.Parse(context.Background(), Artifact{Kind: KindExport, ID: "export:ses_1"}, Cursor{})
	var te *ExternalToolError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestOpenCodeCommand_MalformedJSON(t *testing.T) {
	cmd := fakeOpenCode(t, "echo 'not json'\n")
	o := NewOpenCode(OpenCodeOptions{Command: cmd, Timeout: 5 * time.Second}, nil)

	_, err := o.listSessions(context.Background())
	var te *ExternalToolError
	assert.True(t, errors.As(err, &te), "got %v", err)
}

func TestOpenCodeHealthCheck(t *testing.T) {
	dir := t.TempDir()
	storage := filepath.Join(dir, "storage")
	logDir := filepath.Join(dir, "log")
	authPath := filepath.Join(dir, "auth.json")
	missing := filepath.Join(dir, "no-such-binary")

	h := NewOpenCode(OpenCodeOptions{StorageDir: storage, LogDir: logDir, Command: missing}, nil).HealthCheck(context.Background())
	assert.Equal(t, models.HealthUnhealthy, h.Status)

	writeFile(t, filepath.Join(logDir, "a.log"), "")
	h = NewOpenCode(OpenCodeOptions{StorageDir: storage, LogDir: logDir, Command: missing}, nil).HealthCheck(context.Background())
	assert.Equal(t, models.HealthDegraded, h.Status)

	buildStorage(t, storage)
	writeFile(t, authPath, `{"openai":{"type":"api","key":"k"},"anthropic":{"type":"oauth"}}`)
	h = NewOpenCode(OpenCodeOptions{StorageDir: storage, LogDir: logDir, AuthPath: authPath, Command: missing}, nil).HealthCheck(context.Background())
	assert.Equal(t, models.HealthHealthy, h.Status)
	assert.Contains(t, h.Message, "providers: anthropic, openai")
}

func TestEpochTime(t *testing.T) {
	assert.Equal(t, time.Unix(1736424000, 0).UTC(), epochTime(1736424000))
	assert.Equal(t, time.UnixMilli(1736424000123).UTC(), epochTime(1736424000123))
	assert.True(t, epochTime(0).IsZero())
}

func TestOpenCodeStorage_CorruptFilesSkipped(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "storage")
	buildStorage(t, storage)
	writeFile(t, filepath.Join(storage, "message", "ses_1", "msg_9.json"), `{"id":"msg_9",`)
	writeFile(t, filepath.Join(storage, "part", "msg_1", "prt_9.json"), `not json`)
	o := NewOpenCode(OpenCodeOptions{StorageDir: storage}, nil)

	artifacts, err := o.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	result, err := o.Parse(context.Background(), artifacts[0], Cursor{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Sessions, 1)
	assert.Len(t, result.Sessions[0].Events, 6)
}

func TestOpenCodeStorage_NoTimesDropped(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "storage")
	writeFile(t, filepath.Join(storage, "session", "proj_1", "ses_2.json"), `{"id":"ses_2","title":"untimed"}`)
	writeFile(t, filepath.Join(storage, "message", "ses_2", "msg_1.json"), `{"id":"msg_1","sessionID":"ses_2","role":"user"}`)
	writeFile(t, filepath.Join(storage, "part", "msg_1", "prt_1.json"), `{"id":"prt_1","messageID":"msg_1","type":"text","text":"hello"}`)
	o := NewOpenCode(OpenCodeOptions{StorageDir: storage}, nil)

	artifacts, err := o.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	result, err := o.Parse(context.Background(), artifacts[0], Cursor{})
	require.NoError(t, err)
	assert.Empty(t, result.Sessions, "no timestamp is invented for an untimed session")
	assert.Equal(t, 1, result.Failed)
}
