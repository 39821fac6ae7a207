package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/voxpage/internal/bus"
	"github.com/rbright/voxpage/internal/fault"
	"github.com/rbright/voxpage/internal/fsm"
	"github.com/rbright/voxpage/internal/sites"
	"github.com/rbright/voxpage/internal/speech"
	"github.com/rbright/voxpage/internal/transcript"
)

// activation is the mutable state of one Run.
type activation struct {
	id       string
	opts     Options
	language string
	host     string
	class    sites.Class

	bound    bool
	target   sites.Target
	original string
	written  string

	heard   string
	interim string

	stream speech.Stream
	events <-chan speech.Event

	silence  *time.Timer
	silenceC <-chan time.Time

	lastActivity time.Time
	safety       *time.Timer
	safetyC      <-chan time.Time
}

func (a *activation) attach(stream speech.Stream) {
	a.stream = stream
	a.events = stream.Events()
}

func (a *activation) abortStream() {
	if a.stream != nil {
		a.stream.Abort()
		a.stream = nil
		a.events = nil
	}
}

// armSilence (re)starts the silence timer.
func (a *activation) armSilence(d time.Duration) {
	if d <= 0 {
		return
	}
	if a.silence == nil {
		a.silence = time.NewTimer(d)
		a.silenceC = a.silence.C
		return
	}
	a.silence.Reset(d)
}

func (a *activation) stopSilence() {
	if a.silence != nil {
		a.silence.Stop()
	}
	a.silenceC = nil
}

// touch records activity and restarts the inactivity safety timer.
func (a *activation) touch() {
	a.lastActivity = time.Now()
	if a.opts.SafetyTimeout <= 0 {
		return
	}
	if a.safety == nil {
		a.safety = time.NewTimer(a.opts.SafetyTimeout)
		a.safetyC = a.safety.C
		return
	}
	a.safety.Reset(a.opts.SafetyTimeout)
	a.safetyC = a.safety.C
}

func (a *activation) stopSafety() {
	if a.safety != nil {
		a.safety.Stop()
	}
	a.safetyC = nil
}

// deadline bounds one blocking step by the safety timeout, measured from
// the last activity.
func (a *activation) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	a.touch()
	return context.WithTimeoutCause(ctx, a.opts.SafetyTimeout, ErrSafetyTimeout)
}

// idle is the time since the last activity.
func (a *activation) idle() time.Duration {
	if a.lastActivity.IsZero() {
		return 0
	}
	return time.Since(a.lastActivity)
}

func (a *activation) bind(target sites.Target, original string) {
	a.bound = true
	a.target = target
	a.original = original
	a.written = ""
}

func (a *activation) unbind() {
	a.bound = false
	a.target = sites.Target{Class: a.class}
	a.written = ""
}

// dictated is everything heard so far, including the pending interim.
func (a *activation) dictated() string {
	return transcript.WithPrefix(a.heard, a.interim)
}

// Run executes one activation from start to commit, cancel, or failure.
func (c *Controller) Run(ctx context.Context) Result {
	opts := c.options()
	a := &activation{id: uuid.NewString(), opts: opts, language: opts.Language}
	result := Result{SessionID: a.id, Language: a.language, StartedAt: time.Now()}

	if c.engine == nil {
		result.State = c.State()
		result.Err = ErrEngineUnavailable
		result.FinishedAt = time.Now()
		return result
	}

	if err := c.begin(a.id); err != nil {
		result.State = c.State()
		result.Err = err
		result.FinishedAt = time.Now()
		return result
	}
	a.touch()
	defer a.stopSafety()
	c.drainActions()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	languages, unsubscribe := c.bus.Languages.Subscribe(1)
	defer unsubscribe()

	acquireCtx, stopAcquire := a.deadline(sessionCtx)
	c.acquire(acquireCtx, a)
	cause := context.Cause(acquireCtx)
	stopAcquire()
	if cause != nil {
		return c.expire(a, result, cause)
	}

	stream, err := c.engine.Start(sessionCtx, speech.Options{Language: a.language})
	if err != nil {
		return c.engineFailure(a, result, err)
	}
	a.attach(stream)
	defer a.abortStream()
	defer a.stopSilence()

	if err := c.advance(a, fsm.EventListen); err != nil {
		c.toErrorAndReset()
		return c.finish(a, result, err)
	}
	c.bus.Notify(bus.NoticeListening, a.language)
	c.logger.Info("session listening",
		"session_id", a.id,
		"language", a.language,
		"site", string(a.class),
		"bound", a.bound,
	)

	for {
		select {
		case <-sessionCtx.Done():
			return c.expire(a, result, context.Cause(sessionCtx))

		case <-a.safetyC:
			return c.expire(a, result, ErrSafetyTimeout)

		case <-a.silenceC:
			c.logger.Debug("silence timeout; finalizing", "session_id", a.id)
			return c.complete(sessionCtx, a, result, a.interim)

		case act := <-c.actions:
			a.touch()
			switch act {
			case actionStop:
				return c.complete(sessionCtx, a, result, a.interim)
			case actionCancel:
				return c.cancel(sessionCtx, a, result)
			default:
				c.toErrorAndReset()
				return c.finish(a, result, fmt.Errorf("unknown action %d", act))
			}

		case change, ok := <-languages:
			if !ok {
				languages = nil
				continue
			}
			if change.Language == "" || change.Language == a.language {
				continue
			}
			a.touch()
			if err := c.restart(sessionCtx, a, change.Language); err != nil {
				return c.engineFailure(a, result, err)
			}
			result.Language = a.language

		case ev, ok := <-a.events:
			if !ok {
				a.events = nil
				return c.ended(sessionCtx, a, result)
			}
			a.touch()
			switch ev.Kind {
			case speech.EventStart:
			case speech.EventResult:
				if ev.IsFinal {
					return c.complete(sessionCtx, a, result, ev.Transcript)
				}
				c.onInterim(sessionCtx, a, ev.Transcript)
			case speech.EventEnd:
				return c.ended(sessionCtx, a, result)
			case speech.EventError:
				if ev.Code == speech.CodeNoSpeech {
					return c.ended(sessionCtx, a, result)
				}
				err := ev.Err
				if err == nil {
					err = speech.Failure(ev.Code, nil)
				}
				return c.engineFailure(a, result, err)
			}
		}
	}
}

// begin claims the controller for session id. The idle check and the start
// transition share one lock, and the id is written only once the transition
// succeeds.
func (c *Controller) begin(id string) error {
	c.mu.Lock()
	from := c.state
	if fsm.Active(from) {
		c.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", from)
	}
	next, err := fsm.Transition(from, fsm.EventStart)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.sessionID = id
	c.mu.Unlock()

	c.bus.States.Publish(bus.StateChange{SessionID: id, From: from, To: next, Event: fsm.EventStart, At: time.Now()})
	return nil
}

// advance applies event and counts the phase change as activity.
func (c *Controller) advance(a *activation, event fsm.Event) error {
	if err := c.transition(event); err != nil {
		return err
	}
	a.touch()
	return nil
}

func (c *Controller) drainActions() {
	for {
		select {
		case <-c.actions:
		default:
			return
		}
	}
}

// acquire snapshots the page and binds the best target. Failure leaves the
// session unbound so the transcript accumulates for the copyable panel.
func (c *Controller) acquire(ctx context.Context, a *activation) {
	a.class = sites.Generic
	if c.page == nil {
		c.bus.Notify(bus.NoticeNoTarget, "")
		return
	}

	doc, err := c.page.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("page snapshot failed", "session_id", a.id, "error", err.Error())
		c.bus.Notify(bus.NoticeNoTarget, "")
		return
	}
	a.host = doc.Host()

	target, err := c.registry.Resolve(doc)
	a.class = target.Class
	switch {
	case errors.Is(err, sites.ErrUndrivable):
		c.bus.Notify(bus.NoticeUndrivable, string(a.class))
		return
	case err != nil:
		c.logger.Info("no dictation target", "session_id", a.id, "site", string(a.class), "error", err.Error())
		c.bus.Notify(bus.NoticeNoTarget, "")
		return
	}

	original, err := c.deliverer.Read(ctx, target.Delivery())
	if err != nil {
		c.logger.Warn("read target content failed", "session_id", a.id, "error", err.Error())
		c.bus.Notify(bus.NoticeNoTarget, "")
		return
	}
	a.bind(target, original)
}

// onInterim writes one interim transcript and restarts the silence timer.
func (c *Controller) onInterim(ctx context.Context, a *activation, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := c.advance(a, fsm.EventInterim); err != nil {
		c.logger.Debug("interim ignored", "session_id", a.id, "error", err.Error())
		return
	}
	a.interim = text
	a.armSilence(a.opts.SilenceTimeout)

	dictated := a.dictated()
	c.bus.Transcripts.Publish(bus.TranscriptUpdate{SessionID: a.id, Text: dictated})
	if a.bound {
		deliverCtx, cancel := a.deadline(ctx)
		_ = c.deliver(deliverCtx, a, dictated, false)
		cancel()
	}
}

// restart swaps the engine for one running the new language. Text heard so
// far is kept.
func (c *Controller) restart(ctx context.Context, a *activation, language string) error {
	a.heard = a.dictated()
	a.interim = ""
	a.stopSilence()
	a.abortStream()

	stream, err := c.engine.Start(ctx, speech.Options{Language: language})
	if err != nil {
		return err
	}
	a.attach(stream)
	a.language = language
	if err := c.advance(a, fsm.EventRestart); err != nil {
		return err
	}
	c.bus.Notify(bus.NoticeLanguageChanged, language)
	c.logger.Info("engine restarted", "session_id", a.id, "language", language)
	return nil
}

// ended handles an engine end. Pending interim text completes the utterance;
// a session that heard nothing ends with a no-speech notice.
func (c *Controller) ended(ctx context.Context, a *activation, result Result) Result {
	if strings.TrimSpace(a.dictated()) != "" {
		return c.complete(ctx, a, result, a.interim)
	}
	a.abortStream()
	c.bus.Notify(bus.NoticeNoSpeech, "")
	c.toErrorAndReset()
	return c.finish(a, result, ErrEmptyTranscript)
}

// engineFailure ends the session on an engine or permission error.
func (c *Controller) engineFailure(a *activation, result Result, err error) Result {
	a.abortStream()
	a.unbind()

	key := bus.NoticeEngineError
	if category, ok := fault.CategoryOf(err); ok && category == fault.Permission {
		key = bus.NoticePermissionDenied
	}
	c.bus.Notify(key, err.Error())
	c.logger.Error("speech engine failed", "session_id", a.id, "error", err.Error())
	c.toErrorAndReset()
	return c.finish(a, result, err)
}

// cancel drops the session and restores the target's original content.
func (c *Controller) cancel(ctx context.Context, a *activation, result Result) Result {
	a.stopSilence()
	a.abortStream()
	if a.bound && a.written != "" {
		restoreCtx, stop := a.deadline(ctx)
		if err := c.deliverer.Write(restoreCtx, a.target.Delivery(), a.original); err != nil {
			c.logger.Warn("restore original content failed", "session_id", a.id, "error", err.Error())
		}
		stop()
	}
	if err := c.transition(fsm.EventCancel); err != nil {
		c.toErrorAndReset()
	}
	c.bus.Notify(bus.NoticeCancelled, "")
	result.Cancelled = true
	return c.finish(a, result, nil)
}

// expire handles parent cancellation and the inactivity safety timeout.
func (c *Controller) expire(a *activation, result Result, err error) Result {
	a.stopSilence()
	a.stopSafety()
	a.abortStream()

	if errors.Is(err, ErrSafetyTimeout) {
		c.resetBusy()
		c.bus.Notify(bus.NoticeSafetyTimeout, "")
		c.logger.Warn("session safety timeout",
			"session_id", a.id,
			"state", string(c.State()),
			"idle", a.idle().String(),
		)
	}
	c.toErrorAndReset()
	return c.finish(a, result, err)
}

// resetBusy clears the correction and submit busy flags.
func (c *Controller) resetBusy() {
	c.submitBusy.Store(false)
	if c.corrector != nil {
		c.corrector.Reset()
	}
}

func (c *Controller) finish(a *activation, result Result, err error) Result {
	result.State = c.State()
	result.Err = err
	result.Host = a.host
	result.Site = a.class
	result.Bound = a.bound
	result.FinishedAt = time.Now()
	return result
}
