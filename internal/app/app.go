// Package app executes voxpage commands: it forwards to a live owner process
// over IPC or wires the runtime for one dictation.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/voxpage/internal/audio"
	"github.com/rbright/voxpage/internal/cli"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/doctor"
	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/ipc"
	"github.com/rbright/voxpage/internal/logging"
	"github.com/rbright/voxpage/internal/session"
	"github.com/rbright/voxpage/internal/speech"
	"github.com/rbright/voxpage/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Engine and Page replace the live speech pipeline and browser tab.
	Engine speech.Engine
	Page   dom.Page
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("voxpage"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("voxpage"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := logging.New(logging.Options{
		Level:      logging.ParseLevel(cfgLoaded.Config.Log.Level),
		MaxSizeMB:  cfgLoaded.Config.Log.MaxSizeMB,
		MaxBackups: cfgLoaded.Config.Log.MaxBackups,
		MaxAgeDays: cfgLoaded.Config.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, doctor.Options{})
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandStop})
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandCancel})
	case cli.CommandLanguage:
		return r.forwardOrFail(ctx, ipc.Request{Command: ipc.CommandLanguage, Arg: parsed.Language})
	case cli.CommandTargets:
		return r.commandTargets(ctx, cfgLoaded.Config, parsed, logger)
	case cli.CommandHistory:
		return r.commandHistory(parsed.Limit)
	case cli.CommandToggle:
		return r.commandToggle(ctx, cfgLoaded, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// commandDevices lists Pulse input sources, marking the default with *.
func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		var flags []string
		if d.Monitor {
			flags = append(flags, "monitor")
		}
		if !d.Available {
			flags = append(flags, "unavailable")
		}
		if d.Muted {
			flags = append(flags, "muted")
		}
		line := fmt.Sprintf("%s %s [%s]", mark, d, d.State)
		if len(flags) > 0 {
			line += " " + strings.Join(flags, ",")
		}
		fmt.Fprintln(r.Stdout, line)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus})
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		if resp.Message != "" {
			fmt.Fprintf(r.Stdout, "%s (%s)\n", resp.State, resp.Message)
			return 0
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active voxpage session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// logSessionResult writes one summary line per finished dictation.
func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("session_id", result.SessionID),
		slog.String("state", string(result.State)),
		slog.String("language", result.Language),
		slog.String("host", result.Host),
		slog.String("site", string(result.Site)),
		slog.Group("outcome",
			slog.Bool("bound", result.Bound),
			slog.Bool("corrected", result.Corrected),
			slog.Bool("delivered", result.Delivered),
			slog.Bool("submitted", result.Submitted),
			slog.Bool("cancelled", result.Cancelled),
		),
		slog.Time("started_at", result.StartedAt),
		slog.Duration("duration_ms", result.FinishedAt.Sub(result.StartedAt)),
		slog.Int("transcript_length", len(result.Transcript)),
	}

	level, msg := slog.LevelInfo, "session complete"
	if result.Err != nil {
		level, msg = slog.LevelError, "session failed"
		attrs = append(attrs, slog.String("error", result.Err.Error()))
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.Unavailable(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}
