// Package output copies finished dictation to the system clipboard for the
// copyable-panel fallback.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/voxpage/internal/config"
)

const (
	defaultCopyTimeout = 2 * time.Second
	stderrLimit        = 512
)

var errNoCommand = errors.New("clipboard command is empty")

// Clipboard pipes text into the configured clipboard command.
type Clipboard struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClipboard constructs a clipboard writer from clipboard_cmd.
func NewClipboard(cmd config.CommandConfig, logger *slog.Logger) *Clipboard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Clipboard{argv: cmd.Argv, timeout: defaultCopyTimeout, logger: logger}
}

// Copy writes text to the clipboard. Empty text is a no-op.
func (c *Clipboard) Copy(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	copyCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := pipeTo(copyCtx, c.argv, text); err != nil {
		c.logger.Error("clipboard copy failed", "command", c.command(), "error", err.Error())
		return fmt.Errorf("set clipboard: %w", err)
	}
	c.logger.Debug("clipboard set",
		"command", c.command(),
		"chars", len([]rune(text)),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (c *Clipboard) command() string {
	if len(c.argv) == 0 {
		return ""
	}
	return c.argv[0]
}

// pipeTo runs argv with input on stdin. A failing command's stderr is folded
// into the returned error.
func pipeTo(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return errNoCommand
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stderr = &stderr
	// wl-copy forks a server that holds stdout open.
	cmd.WaitDelay = 500 * time.Millisecond

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", argv[0], ctx.Err())
	}
	if msg := tail(stderr.String()); msg != "" {
		return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
	}
	return fmt.Errorf("%s: %w", argv[0], err)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		s = s[len(s)-stderrLimit:]
	}
	return s
}
