// Package delivery commits text into page editors so the page's own code
// observes a genuine edit.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/voxpage/internal/dom"
)

var (
	// ErrTargetGone indicates the target failed its liveness check.
	ErrTargetGone = errors.New("target is no longer attached")
	// ErrWriteFailed indicates both the primary and last-resort writes failed.
	ErrWriteFailed = errors.New("write failed")
)

// Protocol selects the write sequence for a target.
type Protocol string

const (
	Native          Protocol = "native"
	ContentEditable Protocol = "content-editable"
	RichBlock       Protocol = "rich-block"
)

// ProtocolFor maps an element's editable kind to its default protocol.
func ProtocolFor(kind dom.Editable) Protocol {
	switch kind {
	case dom.NativeValue:
		return Native
	case dom.RichBlock:
		return RichBlock
	default:
		return ContentEditable
	}
}

// Target is a bound editable element addressed by id.
type Target struct {
	ID       int
	Protocol Protocol
}

// Deliverer writes text through a dom.Editor.
type Deliverer struct {
	editor dom.Editor
	logger *slog.Logger
	newKey func() string
}

// New builds a Deliverer. A nil logger discards diagnostics.
func New(editor dom.Editor, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Deliverer{editor: editor, logger: logger, newKey: blockKey}
}

// Write replaces the target's content with text.
func (d *Deliverer) Write(ctx context.Context, t Target, text string) error {
	if !d.editor.Alive(ctx, t.ID) {
		return ErrTargetGone
	}

	var err error
	switch t.Protocol {
	case Native:
		err = d.writeNative(ctx, t.ID, text)
	case ContentEditable:
		err = d.writeContentEditable(ctx, t.ID, text)
	case RichBlock:
		err = d.writeRichBlock(ctx, t.ID, text)
	default:
		err = fmt.Errorf("unknown protocol %q", t.Protocol)
	}
	if err == nil {
		return nil
	}

	d.logger.Warn("primary write failed; using direct assignment",
		"protocol", string(t.Protocol),
		"target", t.ID,
		"error", err.Error(),
	)
	if lastErr := d.lastResort(ctx, t, text); lastErr != nil {
		if !d.editor.Alive(ctx, t.ID) {
			return ErrTargetGone
		}
		return fmt.Errorf("%w: %w", ErrWriteFailed, errors.Join(err, lastErr))
	}
	return nil
}

// Append applies one transcript update. A non-final update whose delta
// extends the current content is inserted incrementally on content-editable
// targets; every other update rewrites fullText.
func (d *Deliverer) Append(ctx context.Context, t Target, delta string, fullText string, final bool) error {
	if final || delta == "" || t.Protocol != ContentEditable {
		return d.Write(ctx, t, fullText)
	}
	if !d.editor.Alive(ctx, t.ID) {
		return ErrTargetGone
	}

	current, err := d.editor.Value(ctx, t.ID)
	if err != nil || current+delta != fullText {
		return d.Write(ctx, t, fullText)
	}
	if err := d.editor.ExecCommand(ctx, t.ID, dom.CommandInsertText, delta); err != nil {
		d.logger.Debug("incremental insert failed", "target", t.ID, "error", err.Error())
		return d.Write(ctx, t, fullText)
	}
	if got, err := d.editor.Value(ctx, t.ID); err != nil || !sameText(got, fullText) {
		return d.Write(ctx, t, fullText)
	}
	return nil
}

// Clear empties the target.
func (d *Deliverer) Clear(ctx context.Context, t Target) error {
	return d.Write(ctx, t, "")
}

// Read returns the target's current text.
func (d *Deliverer) Read(ctx context.Context, t Target) (string, error) {
	if !d.editor.Alive(ctx, t.ID) {
		return "", ErrTargetGone
	}
	return d.editor.Value(ctx, t.ID)
}

func (d *Deliverer) writeNative(ctx context.Context, id int, text string) error {
	if err := d.editor.SetValue(ctx, id, text); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	events := []dom.EventType{dom.EventInput, dom.EventChange}
	if text != "" {
		events = append(events, dom.EventKeyDown, dom.EventKeyUp)
	}
	return d.dispatch(ctx, id, events...)
}

func (d *Deliverer) writeContentEditable(ctx context.Context, id int, text string) error {
	if err := d.editor.Focus(ctx, id); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := d.editor.ExecCommand(ctx, id, dom.CommandSelectAll, ""); err != nil {
		return err
	}
	if err := d.editor.ExecCommand(ctx, id, dom.CommandDelete, ""); err != nil {
		return err
	}
	if text != "" {
		if err := d.editor.ExecCommand(ctx, id, dom.CommandInsertText, text); err != nil {
			return err
		}
	}
	return d.verify(ctx, id, text)
}

func (d *Deliverer) writeRichBlock(ctx context.Context, id int, text string) error {
	if err := d.editor.Focus(ctx, id); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := d.editor.ReplaceChildren(ctx, id, RichBlockFragment(d.newKey(), text)); err != nil {
		return fmt.Errorf("replace children: %w", err)
	}
	if err := d.dispatch(ctx, id,
		dom.EventInput, dom.EventChange, dom.EventKeyDown, dom.EventKeyUp, dom.EventBlur, dom.EventFocus,
	); err != nil {
		return err
	}
	return d.verify(ctx, id, text)
}

func (d *Deliverer) lastResort(ctx context.Context, t Target, text string) error {
	var err error
	if t.Protocol == Native {
		err = d.editor.SetValue(ctx, t.ID, text)
	} else {
		err = d.editor.SetText(ctx, t.ID, text)
	}
	if err != nil {
		return err
	}
	return d.dispatch(ctx, t.ID, dom.EventInput, dom.EventChange)
}

func (d *Deliverer) dispatch(ctx context.Context, id int, events ...dom.EventType) error {
	for _, event := range events {
		if err := d.editor.Dispatch(ctx, id, event); err != nil {
			return fmt.Errorf("dispatch %s: %w", event, err)
		}
	}
	return nil
}

func (d *Deliverer) verify(ctx context.Context, id int, want string) error {
	got, err := d.editor.Value(ctx, id)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if !sameText(got, want) {
		return fmt.Errorf("read back mismatch: got %q want %q", got, want)
	}
	return nil
}

// sameText ignores the trailing newline browsers append to editable text.
func sameText(got, want string) bool {
	return strings.TrimRight(got, "\n") == strings.TrimRight(want, "\n")
}
