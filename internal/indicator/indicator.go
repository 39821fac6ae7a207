// Package indicator renders dictation notifications and plays audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/voxpage/internal/bus"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/fsm"
	"github.com/rbright/voxpage/internal/hypr"
)

const (
	activeTimeoutMS     = 300000
	persistentTimeoutMS = 600000
	infoTimeoutMS       = 2500
)

type severity int

const (
	severityActive severity = iota + 1
	severityInfo
	severityWarn
	severityError
)

// Notifier is the concrete indicator used by runtime sessions. It routes
// output via Hyprland or desktop DBus based on config backend.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
	cues                  sync.WaitGroup
}

// New creates an indicator from config.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// Run renders bus traffic until ctx is done.
func (n *Notifier) Run(ctx context.Context, b *bus.Bus) {
	notices, stopNotices := b.Notifications.Subscribe(16)
	defer stopNotices()
	states, stopStates := b.States.Subscribe(16)
	defer stopStates()

	for {
		select {
		case <-ctx.Done():
			n.cues.Wait()
			return
		case notice := <-notices:
			n.Show(ctx, notice)
		case change := <-states:
			n.OnState(ctx, change)
		}
	}
}

// Show renders one notification.
func (n *Notifier) Show(ctx context.Context, notice bus.Notification) {
	switch notice.Key {
	case bus.NoticeListening:
		n.playCue(ctx, cueStart)
	case bus.NoticeCommitted:
		n.playCue(ctx, cueComplete)
		n.Hide(ctx)
		return
	case bus.NoticeCancelled:
		n.playCue(ctx, cueCancel)
		n.Hide(ctx)
		return
	}
	level := severityOf(notice.Key)
	if level == severityError {
		n.playCue(ctx, cueError)
	}
	if !n.cfg.Enable {
		return
	}

	text := n.messages.text(notice)
	timeout := n.timeoutFor(level, notice.Persistent)
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, level, timeout, text)
	})
}

// OnState shows progress while the session finishes an utterance.
func (n *Notifier) OnState(ctx context.Context, change bus.StateChange) {
	var text string
	switch change.To {
	case fsm.StateFinalizing:
		n.playCue(ctx, cueStop)
		text = n.messages.finalizing
	case fsm.StateCorrecting:
		text = n.messages.correcting
	default:
		return
	}
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, severityActive, activeTimeoutMS, text)
	})
}

// Hide dismisses the active indicator surface.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

func severityOf(key bus.NoticeKey) severity {
	switch key {
	case bus.NoticeListening:
		return severityActive
	case bus.NoticeLanguageChanged, bus.NoticePanel:
		return severityInfo
	case bus.NoticeNoTarget, bus.NoticeUndrivable, bus.NoticeCorrectionFailed, bus.NoticeNoSpeech:
		return severityWarn
	default:
		return severityError
	}
}

func (n *Notifier) timeoutFor(level severity, persistent bool) int {
	switch {
	case persistent:
		return persistentTimeoutMS
	case level == severityActive:
		return activeTimeoutMS
	case level == severityError:
		if n.cfg.ErrorTimeoutMS > 0 {
			return n.cfg.ErrorTimeoutMS
		}
		return 1200
	default:
		return infoTimeoutMS
	}
}

// notify dispatches indicator output through the configured backend.
func (n *Notifier) notify(ctx context.Context, level severity, timeoutMS int, text string) error {
	if n.desktop() {
		if timeoutMS == persistentTimeoutMS {
			timeoutMS = 0
		}
		return n.notifyDesktop(ctx, level, timeoutMS, text)
	}
	icon, color := hyprStyle(level)
	return hypr.Notify(ctx, hypr.Notification{Icon: icon, TimeoutMS: timeoutMS, Color: color, Text: text})
}

func hyprStyle(level severity) (hypr.Icon, string) {
	switch level {
	case severityActive:
		return hypr.IconInfo, "rgb(89b4fa)"
	case severityInfo:
		return hypr.IconInfo, "rgb(a6e3a1)"
	case severityWarn:
		return hypr.IconWarning, "rgb(f9e2af)"
	default:
		return hypr.IconError, "rgb(f38ba8)"
	}
}

// dismiss removes indicator output from the configured backend.
func (n *Notifier) dismiss(ctx context.Context) error {
	if n.desktop() {
		return n.dismissDesktop(ctx)
	}
	return hypr.DismissNotify(ctx)
}

func (n *Notifier) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, level severity, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "voxpage-indicator"
	}

	summary, body := splitSummary(text)
	id, err := desktopNotify(ctx, desktopNotification{
		AppName:   appName,
		ReplaceID: replaceID,
		Summary:   summary,
		Body:      body,
		Urgency:   urgencyOf(level),
		TimeoutMS: timeoutMS,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(ctx context.Context, kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	n.cues.Add(1)
	go func() {
		defer n.cues.Done()
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		cueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := emitCue(cueCtx, kind); err != nil {
			n.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}
