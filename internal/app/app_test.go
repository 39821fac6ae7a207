package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/fsm"
	"github.com/rbright/voxpage/internal/history"
	"github.com/rbright/voxpage/internal/ipc"
	"github.com/rbright/voxpage/internal/logging"
	"github.com/rbright/voxpage/internal/session"
	"github.com/rbright/voxpage/internal/sites"
	"github.com/rbright/voxpage/internal/speech"
	"github.com/stretchr/testify/require"
)

const replyPage = `<body><form>
<textarea id="reply" placeholder="Reply" data-rect="10,100,600,100"></textarea>
<button id="go" type="submit" data-rect="10,210,80,30">Post reply</button>
</form></body>`

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "voxpage")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerPrintsConfigWarnings(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte("{\n  \"colour\": \"blue\"\n}\n"), 0o600))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Contains(t, stderr.String(), `warning: line 2: unknown key "colour" ignored`)
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active voxpage session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "listening"}
		case "stop", "cancel", "toggle":
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	for _, cmd := range []string{"status", "stop", "cancel", "toggle"} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner.Stdout = stdout
		runner.Stderr = stderr

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
	}

	got := []string{<-commands, <-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "stop", "cancel", "toggle"}, got)
}

func TestRunnerForwardsLanguageWithArgument(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 1)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		return ipc.Response{OK: true, Message: "language " + req.Arg}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "language", "de-DE"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "language de-DE\n", stdout.String())
	require.Equal(t, ipc.Request{Command: "language", Arg: "de-DE"}, <-requests)
}

func TestRunnerStatusPrintsMessage(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "listening", Message: "language en-US"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "listening (language en-US)\n", stdout.String())
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxpage.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ipc.Serve(serverCtx, listener, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
			switch req.Command {
			case "status":
				return ipc.Response{OK: true, State: "listening"}
			default:
				return ipc.Response{OK: false, Error: "unsupported"}
			}
		}))
	}()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "listening", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "cancel"})
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	cancelServer()
	require.NoError(t, <-serverDone)
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxpage.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxpage.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("DEEPGRAM_API_KEY", "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] stt.api_key_env: DEEPGRAM_API_KEY is not set")
	require.Contains(t, stdout.String(), "browser.devtools")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerToggleOwnerPathReturnsErrorWhenEngineStartFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "warning: browser unavailable")
	require.Contains(t, stderr.String(), "error:")
	require.Contains(t, stderr.String(), "DEEPGRAM_API_KEY")

	// owner path should clean up runtime socket on exit
	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerToggleDictatesIntoPageAndRecordsHistory(t *testing.T) {
	paths := setupRunnerEnv(t)

	tree, err := dom.ParseHTML(strings.NewReader(replyPage), dom.ParseOptions{Host: "forum.example"})
	require.NoError(t, err)
	engine := &scriptedEngine{finals: []string{"hello   world"}}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Engine: engine, Page: tree}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "hello world")
	require.Equal(t, []string{"en-US"}, engine.languages())

	reply, err := tree.Query("//textarea[@id='reply']")
	require.NoError(t, err)
	require.Len(t, reply, 1)
	value, err := tree.Value(context.Background(), reply[0].ID())
	require.NoError(t, err)
	require.Contains(t, value, "hello world")

	stdout.Reset()
	stderr.Reset()
	runner = Runner{Stdout: &stdout, Stderr: &stderr}
	exitCode = runner.Execute(context.Background(), []string{"--config", paths.configPath, "history"})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stdout.String(), "forum.example")
	require.Contains(t, stdout.String(), "hello world")
	require.NotContains(t, stdout.String(), "[clipboard]")
}

func TestRunnerHistoryListsNewestFirstWithinLimit(t *testing.T) {
	paths := setupRunnerEnv(t)

	path, err := history.DefaultPath()
	require.NoError(t, err)
	store, err := history.Open(path, 0)
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range []string{"first note", "second note", "third note"} {
		_, err := store.Append(history.Entry{
			At:        base.Add(time.Duration(i) * time.Minute),
			Host:      "claude.ai",
			Language:  "en-US",
			Text:      text,
			Delivered: i != 2,
			Corrected: i == 1,
		})
		require.NoError(t, err)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "history", "--limit", "2"})
	require.Equal(t, 0, exitCode, stderr.String())

	out := stdout.String()
	require.NotContains(t, out, "first note")
	require.Less(t, strings.Index(out, "third note"), strings.Index(out, "second note"))
	require.Contains(t, out, "[clipboard]")
	require.Contains(t, out, "[corrected]")
}

func TestRunnerHistoryEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "history"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "no dictations recorded\n", stdout.String())
}

func TestRunnerTargetsRanksSavedPage(t *testing.T) {
	paths := setupRunnerEnv(t)
	htmlPath := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(htmlPath, []byte(replyPage), 0o600))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath, "targets", "--html", htmlPath, "--host", "forum.example",
	})
	require.Equal(t, 0, exitCode, stderr.String())

	out := stdout.String()
	require.Contains(t, out, "host: forum.example")
	require.Contains(t, out, "site: generic")
	require.Contains(t, out, "bound: <textarea #reply")
	require.Contains(t, out, "inputs (")
	require.Contains(t, out, "submit: <button #go")
}

func TestRunnerTargetsSavesLiveSnapshot(t *testing.T) {
	paths := setupRunnerEnv(t)
	tree, err := dom.ParseHTML(strings.NewReader(replyPage), dom.ParseOptions{Host: "forum.example"})
	require.NoError(t, err)
	savePath := filepath.Join(t.TempDir(), "snapshot.html")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr, Page: tree}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "targets", "--save", savePath})
	require.Equal(t, 0, exitCode, stderr.String())
	require.Contains(t, stderr.String(), "saved snapshot to "+savePath)

	saved, err := os.ReadFile(savePath)
	require.NoError(t, err)
	require.Contains(t, string(saved), `id="reply"`)
	require.Contains(t, stdout.String(), "bound: <textarea #reply")
}

func TestRunnerTargetsMissingSavedPage(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{
		"--config", paths.configPath, "targets", "--html", filepath.Join(t.TempDir(), "missing.html"),
	})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "open saved page")
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true, State: ""}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(logging.NewHandler(&logBuf, slog.LevelInfo))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		SessionID:  "s-1",
		State:      fsm.StateIdle,
		Language:   "en-US",
		Host:       "claude.ai",
		Site:       sites.Claude,
		Bound:      true,
		Delivered:  true,
		StartedAt:  started,
		FinishedAt: finished,
		Transcript: "hello",
	})

	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), "\"transcript_length\":5")
	require.Contains(t, logBuf.String(), "\"site\":\"claude\"")
	require.Contains(t, logBuf.String(), "\"duration_ms\":1500")
	require.Contains(t, logBuf.String(), "\"outcome\":{\"bound\":true")

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		State:      fsm.StateIdle,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        errors.New("boom"),
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, "voxpage.sock")
}

const runnerConfig = `{
  "browser": { "devtools_url": "http://127.0.0.1:1" },
  "indicator": { "enable": false, "sound_enable": false },
  "clipboard_cmd": "true",
}
`

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(runnerConfig), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}

// scriptedEngine emits one final result per run.
type scriptedEngine struct {
	mu     sync.Mutex
	finals []string
	starts []speech.Options
}

func (e *scriptedEngine) Start(_ context.Context, opts speech.Options) (speech.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.starts) >= len(e.finals) {
		return nil, speech.Failure(speech.CodeStartFailed, errors.New("no scripted result left"))
	}
	text := e.finals[len(e.starts)]
	e.starts = append(e.starts, opts)

	events := make(chan speech.Event, 2)
	events <- speech.Event{Kind: speech.EventStart}
	events <- speech.Event{Kind: speech.EventResult, Transcript: text, IsFinal: true}
	return &scriptedStream{events: events}, nil
}

func (e *scriptedEngine) languages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.starts))
	for _, s := range e.starts {
		out = append(out, s.Language)
	}
	return out
}

type scriptedStream struct {
	events chan speech.Event
}

func (s *scriptedStream) Events() <-chan speech.Event { return s.events }
func (s *scriptedStream) Stop()                       {}
func (s *scriptedStream) Abort()                      {}
