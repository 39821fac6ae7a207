package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler receives the reloaded configuration after the file changes.
type ChangeHandler func(Loaded)

// Watcher reloads the config file when it changes. Changes are debounced so
// editors that write in several steps trigger one reload.
type Watcher struct {
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	handlers []ChangeHandler

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		logger:   logger,
		watcher:  fw,
		debounce: 300 * time.Millisecond,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// OnChange registers a handler called after each reload.
func (w *Watcher) OnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start watches the config file's directory so atomic-rename saves are seen.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = w.watcher.Close()
		close(w.done)
		return fmt.Errorf("watch config dir: %w", err)
	}
	go w.loop()
	w.logger.Debug("config watcher started", "path", w.path)
	return nil
}

// Stop halts the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) reload() {
	loaded, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err.Error())
		return
	}
	for _, warning := range loaded.Warnings {
		w.logger.Warn("config warning", "path", w.path, "line", warning.Line, "message", warning.Message)
	}

	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	for _, handler := range handlers {
		handler(loaded)
	}
	w.logger.Debug("config reloaded", "path", w.path)
}
