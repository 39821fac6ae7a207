package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/voxpage/internal/browser"
	"github.com/rbright/voxpage/internal/bus"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/correction"
	"github.com/rbright/voxpage/internal/history"
	"github.com/rbright/voxpage/internal/indicator"
	"github.com/rbright/voxpage/internal/ipc"
	"github.com/rbright/voxpage/internal/output"
	"github.com/rbright/voxpage/internal/pipeline"
	"github.com/rbright/voxpage/internal/resolve"
	"github.com/rbright/voxpage/internal/session"
	"github.com/rbright/voxpage/internal/sites"
	"golang.org/x/sync/errgroup"
)

const attachTimeout = 3 * time.Second

func (r Runner) commandToggle(ctx context.Context, loaded config.Loaded, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandToggle})
	if handled {
		return r.printForwarded(resp, err)
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			resp, _, forwardErr := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandToggle})
			return r.printForwarded(resp, forwardErr)
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = listener.Close() }()

	rt, err := r.newRuntime(ctx, loaded, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer rt.close()

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	g, gctx := errgroup.WithContext(serverCtx)
	g.Go(func() error {
		return ipc.Serve(gctx, listener, rt.controller)
	})
	g.Go(func() error {
		rt.notifier.Run(gctx, rt.bus)
		return nil
	})

	result := rt.controller.Run(ctx)
	serverCancel()
	if serverErr := g.Wait(); serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, result)

	if result.Cancelled {
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	if text := strings.TrimSpace(result.Transcript); text != "" {
		fmt.Fprintln(r.Stdout, text)
	}

	return 0
}

func (r Runner) printForwarded(resp ipc.Response, err error) int {
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// ownerRuntime holds the collaborators of one owner process.
type ownerRuntime struct {
	bus        *bus.Bus
	controller *session.Controller
	notifier   *indicator.Notifier
	closers    []func()
}

func (rt *ownerRuntime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func (r Runner) newRuntime(ctx context.Context, loaded config.Loaded, logger *slog.Logger) (*ownerRuntime, error) {
	cfg := loaded.Config
	rt := &ownerRuntime{bus: bus.New()}

	registry, err := sites.NewRegistry(resolve.NewDefault())
	if err != nil {
		return nil, fmt.Errorf("load site profiles: %w", err)
	}

	deps := session.Deps{
		Logger:    logger,
		Engine:    r.Engine,
		Registry:  registry,
		Clipboard: output.NewClipboard(cfg.Clipboard, logger),
		Bus:       rt.bus,
	}
	if deps.Engine == nil {
		deps.Engine = pipeline.NewEngine(cfg, logger)
	}

	deps.Page = r.Page
	if deps.Page == nil {
		if page := r.attachPage(ctx, cfg.Browser, logger); page != nil {
			deps.Page = page
			rt.closers = append(rt.closers, page.Close)
		}
	}

	if corrector := newCorrector(cfg.Correction, logger); corrector != nil {
		deps.Corrector = corrector
	}

	if store := openHistory(cfg.Correction.PriorTurns, logger); store != nil {
		deps.History = store
	}

	rt.controller = session.NewController(deps, session.OptionsFromConfig(cfg))
	rt.notifier = indicator.New(cfg.Indicator, logger)

	if loaded.Exists {
		if watcher := watchLanguage(loaded.Path, rt.controller, logger); watcher != nil {
			rt.closers = append(rt.closers, watcher.Stop)
		}
	}
	return rt, nil
}

// attachPage binds the configured tab. A nil result runs the session in
// panel mode.
func (r Runner) attachPage(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) *browser.Page {
	attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
	defer cancel()

	page, err := browser.Attach(attachCtx, browser.Options{
		DevToolsURL: cfg.DevToolsURL,
		Tab:         cfg.Tab,
		Logger:      logger,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: browser unavailable (%v); text goes to the panel\n", err)
		logger.Warn("browser attach failed", "devtools_url", cfg.DevToolsURL, "tab", cfg.Tab, "error", err.Error())
		return nil
	}
	logger.Info("browser attached", "tab_id", page.Tab().ID, "url", page.Tab().URL)
	return page
}

// newCorrector returns nil when correction is off or has no credential.
func newCorrector(cfg config.CorrectionConfig, logger *slog.Logger) *correction.Guard {
	if !cfg.Enable {
		return nil
	}
	apiKey := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if apiKey == "" {
		logger.Warn("correction disabled: api key variable is empty", "api_key_env", cfg.APIKeyEnv)
		return nil
	}
	client, err := correction.NewOpenAI(correction.OpenAIOptions{
		APIKey:  apiKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		logger.Warn("correction disabled", "error", err.Error())
		return nil
	}
	return correction.NewGuard(client, cfg.Timeout())
}

// openHistory returns nil when the store cannot be opened; dictation still works.
func openHistory(turns int, logger *slog.Logger) *history.Store {
	path, err := history.DefaultPath()
	if err != nil {
		logger.Warn("history disabled", "error", err.Error())
		return nil
	}
	store, err := history.Open(path, turns)
	if err != nil {
		logger.Warn("history disabled", "path", path, "error", err.Error())
		return nil
	}
	return store
}

func watchLanguage(path string, ctrl *session.Controller, logger *slog.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(path, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err.Error())
		return nil
	}
	watcher.OnChange(func(loaded config.Loaded) {
		ctrl.SetLanguage(loaded.Config.Language)
	})
	if err := watcher.Start(); err != nil {
		logger.Warn("config watcher unavailable", "error", err.Error())
		return nil
	}
	return watcher
}
