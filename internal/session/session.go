// Package session coordinates the dictation lifecycle: target acquisition,
// live transcript delivery, correction, commit, and auto-submit.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/voxpage/internal/bus"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/correction"
	"github.com/rbright/voxpage/internal/delivery"
	"github.com/rbright/voxpage/internal/dom"
	"github.com/rbright/voxpage/internal/fsm"
	"github.com/rbright/voxpage/internal/history"
	"github.com/rbright/voxpage/internal/ipc"
	"github.com/rbright/voxpage/internal/sites"
	"github.com/rbright/voxpage/internal/speech"
)

var (
	// ErrEngineUnavailable indicates no speech engine is wired.
	ErrEngineUnavailable = errors.New("speech engine not configured")
	// ErrEmptyTranscript indicates the session ended without usable speech.
	ErrEmptyTranscript = errors.New("no speech recognized; check microphone input or mute state")
	// ErrSafetyTimeout indicates the session was forced back to idle.
	ErrSafetyTimeout = errors.New("session exceeded safety timeout")
	// ErrSubmitBusy rejects a second submit while one is in flight.
	ErrSubmitBusy = errors.New("submit already in progress")
)

type action int

const (
	actionStop action = iota + 1
	actionCancel
)

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	SessionID  string
	State      fsm.State
	Language   string
	Host       string
	Site       sites.Class
	Bound      bool
	Raw        string
	Transcript string
	Corrected  bool
	Delivered  bool
	Submitted  bool
	Cancelled  bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// History is the session-facing subset of the history store.
type History interface {
	Append(history.Entry) (history.Entry, error)
	PriorTurns(host string) []correction.Turn
}

// Clipboard receives text for the copyable-panel fallback.
type Clipboard interface {
	Copy(ctx context.Context, text string) error
}

// Options are the per-activation behavior switches. SafetyTimeout is an
// inactivity bound; CorrectionTimeout bounds the correction call alone.
type Options struct {
	Language          string
	SilenceTimeout    time.Duration
	SafetyTimeout     time.Duration
	CorrectionTimeout time.Duration
	AutoSubmit        bool
	ShowPanel         bool
	Correct           bool
	SystemPrompt      string
}

// OptionsFromConfig maps runtime config onto session options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Language:          cfg.Language,
		SilenceTimeout:    cfg.SilenceTimeout(),
		SafetyTimeout:     cfg.SafetyTimeout(),
		CorrectionTimeout: cfg.Correction.Timeout(),
		AutoSubmit:        cfg.AutoSubmit,
		ShowPanel:         cfg.ShowPanel,
		Correct:           cfg.Correction.Enable,
		SystemPrompt:      cfg.Correction.SystemPrompt,
	}
}

// Deps are the collaborators a controller drives. Only Engine is required
// for Run; a nil Page runs every session in panel mode.
type Deps struct {
	Logger    *slog.Logger
	Engine    speech.Engine
	Page      dom.Page
	Registry  *sites.Registry
	Corrector *correction.Guard
	History   History
	Clipboard Clipboard
	Bus       *bus.Bus
}

// Controller orchestrates session state transitions and side effects.
type Controller struct {
	logger    *slog.Logger
	engine    speech.Engine
	page      dom.Page
	registry  *sites.Registry
	deliverer *delivery.Deliverer
	corrector *correction.Guard
	history   History
	clipboard Clipboard
	bus       *bus.Bus

	mu        sync.RWMutex
	state     fsm.State
	sessionID string
	opts      Options

	submitBusy atomic.Bool
	actions    chan action
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(deps Deps, opts Options) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry := deps.Registry
	if registry == nil {
		registry = sites.NewRegistryFromProfiles(nil, nil)
	}
	if opts.SafetyTimeout <= 0 {
		opts.SafetyTimeout = time.Duration(config.DefaultSafetyTimeoutMS) * time.Millisecond
	}
	b := deps.Bus
	if b == nil {
		b = bus.New()
	}

	c := &Controller{
		logger:    logger,
		engine:    deps.Engine,
		page:      deps.Page,
		registry:  registry,
		corrector: deps.Corrector,
		history:   deps.History,
		clipboard: deps.Clipboard,
		bus:       b,
		state:     fsm.StateIdle,
		opts:      opts,
		actions:   make(chan action, 1),
	}
	if deps.Page != nil {
		c.deliverer = delivery.New(deps.Page, logger)
	}
	return c
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Language returns the language the next activation will use.
func (c *Controller) Language() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.Language
}

// SetLanguage changes the recognition language. An active session restarts
// its engine with the new language.
func (c *Controller) SetLanguage(language string) {
	language = strings.TrimSpace(language)
	if language == "" {
		return
	}
	c.mu.Lock()
	changed := c.opts.Language != language
	c.opts.Language = language
	c.mu.Unlock()
	if changed {
		c.bus.Languages.Publish(bus.LanguageChange{Language: language})
	}
}

// Bus returns the message bus the controller publishes on.
func (c *Controller) Bus() *bus.Bus {
	return c.bus
}

func (c *Controller) options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	from := c.state
	next, err := fsm.Transition(from, event)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	id := c.sessionID
	c.mu.Unlock()

	c.bus.States.Publish(bus.StateChange{SessionID: id, From: from, To: next, Event: event, At: time.Now()})
	return nil
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: string(c.State()), Message: "language " + c.Language()}
	case ipc.CommandToggle:
		return c.requestStop("toggle")
	case ipc.CommandStop:
		return c.requestStop("stop")
	case ipc.CommandCancel:
		return c.requestCancel()
	case ipc.CommandLanguage:
		language := strings.TrimSpace(req.Arg)
		if language == "" {
			return ipc.Response{OK: false, State: string(c.State()), Error: "language code is required"}
		}
		c.SetLanguage(language)
		return ipc.Response{OK: true, State: string(c.State()), Message: "language set to " + language}
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func finishing(state fsm.State) bool {
	return state == fsm.StateFinalizing || state == fsm.StateCorrecting || state == fsm.StateCommitting
}

// requestStop enqueues a stop action when state permits it.
func (c *Controller) requestStop(source string) ipc.Response {
	state := c.State()
	if finishing(state) {
		return ipc.Response{OK: false, State: string(state), Error: "already finalizing"}
	}
	if !fsm.Active(state) {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s from state %s", source, state)}
	}

	select {
	case c.actions <- actionStop:
		return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
}

// requestCancel enqueues a cancel action when state permits it.
func (c *Controller) requestCancel() ipc.Response {
	state := c.State()
	if finishing(state) {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot cancel while %s", state)}
	}
	if !fsm.Active(state) {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot cancel from state %s", state)}
	}

	select {
	case c.actions <- actionCancel:
		return ipc.Response{OK: true, State: string(state), Message: "cancel requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "cancel already requested"}
	}
}

// toErrorAndReset transitions to error and back to idle best-effort.
func (c *Controller) toErrorAndReset() {
	_ = c.transition(fsm.EventFail)
	_ = c.transition(fsm.EventReset)
}

// IsEngineUnavailable reports whether an error represents missing engine wiring.
func IsEngineUnavailable(err error) bool {
	return errors.Is(err, ErrEngineUnavailable)
}
