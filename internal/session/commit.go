package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/voxpage/internal/bus"
	"github.com/rbright/voxpage/internal/correction"
	"github.com/rbright/voxpage/internal/delivery"
	"github.com/rbright/voxpage/internal/fault"
	"github.com/rbright/voxpage/internal/fsm"
	"github.com/rbright/voxpage/internal/history"
	"github.com/rbright/voxpage/internal/sites"
	"github.com/rbright/voxpage/internal/transcript"
)

// complete finalizes the utterance ending in text, then corrects, commits,
// records, and optionally submits it.
func (c *Controller) complete(ctx context.Context, a *activation, result Result, text string) Result {
	a.stopSilence()
	a.stopSafety()
	a.abortStream()
	a.interim = text

	raw := a.dictated()
	result.Raw = raw
	if err := c.advance(a, fsm.EventFinalize); err != nil {
		c.toErrorAndReset()
		return c.finish(a, result, err)
	}

	cleaned := transcript.Cleanup(raw)
	if cleaned == "" {
		if a.bound && a.written != "" {
			restoreCtx, cancel := a.deadline(ctx)
			_ = c.deliverer.Write(restoreCtx, a.target.Delivery(), a.original)
			cancel()
		}
		c.bus.Notify(bus.NoticeNoSpeech, "")
		c.toErrorAndReset()
		return c.finish(a, result, ErrEmptyTranscript)
	}

	final := cleaned
	if a.opts.Correct && c.corrector != nil {
		if err := c.advance(a, fsm.EventCorrect); err != nil {
			c.toErrorAndReset()
			return c.finish(a, result, err)
		}
		out, err := c.correct(ctx, a, cleaned)
		if ctx.Err() != nil {
			return c.expire(a, result, context.Cause(ctx))
		}
		switch {
		case errors.Is(err, ErrSafetyTimeout):
			c.resetBusy()
			c.bus.Notify(bus.NoticeSafetyTimeout, "")
			c.logger.Warn("correction exceeded safety timeout; committing cleaned text",
				"session_id", a.id,
				"idle", a.idle().String(),
			)
		case err != nil:
			c.logger.Warn("correction failed; committing cleaned text", "session_id", a.id, "error", err.Error())
			c.bus.Notify(bus.NoticeCorrectionFailed, err.Error())
		default:
			final = out
			result.Corrected = out != cleaned
		}
	}

	if err := c.advance(a, fsm.EventCommit); err != nil {
		c.toErrorAndReset()
		return c.finish(a, result, err)
	}
	result.Transcript = final

	commitCtx, cancel := a.deadline(ctx)
	defer cancel()
	if a.bound {
		result.Delivered = c.deliver(commitCtx, a, final, true) == nil
	}
	if !result.Delivered {
		c.showPanel(commitCtx, a, final)
	}
	c.bus.Transcripts.Publish(bus.TranscriptUpdate{SessionID: a.id, Text: final, Final: true})
	c.record(a, cleaned, final, result.Corrected, result.Delivered)

	if result.Delivered && a.opts.AutoSubmit {
		if err := c.submit(commitCtx, a); err != nil {
			c.logger.Warn("auto-submit failed", "session_id", a.id, "error", err.Error())
			c.bus.Notify(bus.NoticeSubmitFailed, err.Error())
		} else {
			result.Submitted = true
		}
	}

	if err := c.transition(fsm.EventDone); err != nil {
		c.toErrorAndReset()
		return c.finish(a, result, err)
	}
	c.bus.Notify(bus.NoticeCommitted, "")
	return c.finish(a, result, nil)
}

// correct runs one correction bounded by the correction timeout and by the
// safety timeout. A safety expiry is reported as ErrSafetyTimeout so the
// caller commits the cleaned text.
func (c *Controller) correct(ctx context.Context, a *activation, text string) (string, error) {
	ctx, cancel := a.deadline(ctx)
	defer cancel()
	if a.opts.CorrectionTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, a.opts.CorrectionTimeout)
		defer stop()
	}

	out, err := c.corrector.Correct(ctx, correction.Request{
		SystemPrompt: a.opts.SystemPrompt,
		PriorTurns:   c.priorTurns(a.host),
		Text:         text,
	})
	if err != nil && errors.Is(context.Cause(ctx), ErrSafetyTimeout) {
		return text, ErrSafetyTimeout
	}
	return out, err
}

// deliver writes original content plus dictated text into the bound target.
// A detached target triggers one re-acquisition.
func (c *Controller) deliver(ctx context.Context, a *activation, dictated string, final bool) error {
	value := transcript.WithPrefix(a.original, dictated)
	delta := ""
	if a.written != "" && strings.HasPrefix(value, a.written) {
		delta = value[len(a.written):]
	}

	err := c.deliverer.Append(ctx, a.target.Delivery(), delta, value, final)
	if errors.Is(err, delivery.ErrTargetGone) {
		c.logger.Info("target detached; reacquiring", "session_id", a.id)
		if !c.reacquire(ctx, a) {
			return fault.Wrap(fault.Delivery, "deliver", err)
		}
		value = transcript.WithPrefix(a.original, dictated)
		err = c.deliverer.Write(ctx, a.target.Delivery(), value)
	}
	if err != nil {
		c.logger.Warn("delivery failed", "session_id", a.id, "final", final, "error", err.Error())
		c.bus.Notify(bus.NoticeDeliveryFailed, err.Error())
		return fault.Wrap(fault.Delivery, "deliver", err)
	}
	a.written = value
	return nil
}

// reacquire resolves a fresh target after the bound one detached.
func (c *Controller) reacquire(ctx context.Context, a *activation) bool {
	a.unbind()
	doc, err := c.page.Snapshot(ctx)
	if err != nil {
		c.bus.Notify(bus.NoticeNoTarget, "")
		return false
	}
	target, err := c.registry.Resolve(doc)
	if err != nil {
		c.bus.Notify(bus.NoticeNoTarget, "")
		return false
	}
	original, err := c.deliverer.Read(ctx, target.Delivery())
	if err != nil {
		c.bus.Notify(bus.NoticeNoTarget, "")
		return false
	}
	a.class = target.Class
	a.bind(target, original)
	return true
}

// showPanel hands undeliverable text to the copyable panel.
func (c *Controller) showPanel(ctx context.Context, a *activation, text string) {
	if !a.opts.ShowPanel {
		return
	}
	if c.clipboard != nil {
		if err := c.clipboard.Copy(ctx, text); err != nil {
			c.logger.Warn("clipboard copy failed", "session_id", a.id, "error", err.Error())
		}
	}
	c.bus.NotifyPersistent(bus.NoticePanel, text)
}

func (c *Controller) priorTurns(host string) []correction.Turn {
	if c.history == nil {
		return nil
	}
	return c.history.PriorTurns(host)
}

func (c *Controller) record(a *activation, raw string, text string, corrected bool, delivered bool) {
	if c.history == nil {
		return
	}
	_, err := c.history.Append(history.Entry{
		ID:        a.id,
		Host:      a.host,
		Site:      string(a.class),
		Language:  a.language,
		Raw:       raw,
		Text:      text,
		Corrected: corrected,
		Delivered: delivered,
	})
	if err != nil {
		c.logger.Warn("history append failed", "session_id", a.id, "error", err.Error())
	}
}

// submit runs the site's submit action against a fresh snapshot.
func (c *Controller) submit(ctx context.Context, a *activation) error {
	if !c.submitBusy.CompareAndSwap(false, true) {
		return ErrSubmitBusy
	}
	defer c.submitBusy.Store(false)

	doc, err := c.page.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot page: %w", err)
	}
	if err := c.registry.Submit(ctx, doc, c.page, a.target); err != nil {
		if errors.Is(err, sites.ErrUndrivable) {
			return err
		}
		return fmt.Errorf("submit %s: %w", a.target.Class, err)
	}
	return nil
}
