// Package logging configures the rotating JSONL log file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rbright/voxpage/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log level, destination and rotation.
type Options struct {
	Level slog.Level
	// Path overrides the state-directory log file.
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Runtime bundles the logger with the sink it writes to.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

// Close flushes and closes the log file.
func (r Runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// New opens the rotating log file and builds a JSON logger on it.
func New(opts Options) (Runtime, error) {
	path := opts.Path
	if path == "" {
		resolved, err := resolveLogPath()
		if err != nil {
			return Runtime{}, err
		}
		path = resolved
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Runtime{}, err
	}

	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return Runtime{
		Logger: slog.New(NewHandler(sink, opts.Level)),
		Path:   path,
		closer: sink,
	}, nil
}

// NewHandler returns the JSON handler used for every log line. Duration
// attributes are written as integer milliseconds.
func NewHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: durationsAsMillis,
	})
}

func durationsAsMillis(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.Int64(a.Key, a.Value.Duration().Milliseconds())
	}
	return a
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func resolveLogPath() (string, error) {
	dir, err := config.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "log.jsonl"), nil
}
