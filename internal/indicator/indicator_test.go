package indicator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbright/voxpage/internal/bus"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/fsm"
	"github.com/stretchr/testify/require"
)

func testIndicatorConfig() config.IndicatorConfig {
	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false
	cfg.ErrorTimeoutMS = 1600
	return cfg
}

func TestNotifierRendersNoticesThroughHyprctl(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	t.Setenv("LANG", "en_US.UTF-8")
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	notifier := New(testIndicatorConfig(), nil)
	ctx := context.Background()
	notifier.Show(ctx, bus.Notification{Key: bus.NoticeListening})
	notifier.OnState(ctx, bus.StateChange{From: fsm.StateListening, To: fsm.StateFinalizing})
	notifier.OnState(ctx, bus.StateChange{From: fsm.StateFinalizing, To: fsm.StateCommitting})
	notifier.Show(ctx, bus.Notification{Key: bus.NoticeEngineError, Detail: "network"})
	notifier.Show(ctx, bus.Notification{Key: bus.NoticeNoTarget})
	notifier.Show(ctx, bus.Notification{Key: bus.NoticeCommitted})

	lines := readLines(t, argsFile)
	require.Equal(t, []string{
		"--quiet dispatch notify 1 300000 rgb(89b4fa) Listening…",
		"--quiet dispatch notify 1 300000 rgb(89b4fa) Finishing…",
		"--quiet dispatch notify 3 1600 rgb(f38ba8) Speech recognition error: network",
		"--quiet dispatch notify 0 2500 rgb(f9e2af) No text field found",
		"--quiet dispatch dismissnotify",
	}, lines)
}

func TestNotifierPersistentPanelUsesLongTimeout(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	t.Setenv("LANG", "en_US.UTF-8")
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	cfg := testIndicatorConfig()
	cfg.ErrorTimeoutMS = 0
	notifier := New(cfg, nil)
	notifier.Show(context.Background(), bus.Notification{Key: bus.NoticePanel, Detail: "draft", Persistent: true})
	notifier.Show(context.Background(), bus.Notification{Key: bus.NoticeSafetyTimeout})

	lines := readLines(t, argsFile)
	require.Len(t, lines, 3)
	require.Equal(t, "--quiet dispatch notify 1 600000 rgb(a6e3a1) Copied to clipboard", lines[0])
	require.Equal(t, "draft", lines[1])
	require.Equal(t, "--quiet dispatch notify 3 1200 rgb(f38ba8) Dictation timed out", lines[2])
}

func TestNotifierDisabledSkipsHyprctlDispatch(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	cfg := testIndicatorConfig()
	cfg.Enable = false

	notifier := New(cfg, nil)
	notifier.Show(context.Background(), bus.Notification{Key: bus.NoticeListening})
	notifier.OnState(context.Background(), bus.StateChange{To: fsm.StateCorrecting})
	notifier.Show(context.Background(), bus.Notification{Key: bus.NoticeEngineError})
	notifier.Hide(context.Background())

	_, err := os.Stat(argsFile)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNotifierRunFollowsBus(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "hypr-args.log")
	t.Setenv("HYPR_ARGS_FILE", argsFile)
	t.Setenv("LANG", "en_US.UTF-8")
	installHyprctlStub(t, `
printf '%s\n' "$*" >> "${HYPR_ARGS_FILE}"
`)

	b := bus.New()
	notifier := New(testIndicatorConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		notifier.Run(ctx, b)
	}()

	require.Eventually(t, func() bool {
		return b.Notifications.Publish(bus.Notification{Key: bus.NoticeLanguageChanged, Detail: "de-DE"}) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(argsFile)
		return err == nil && strings.Contains(string(data), "Language: de-DE")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func installHyprctlStub(t *testing.T, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "hyprctl")
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
