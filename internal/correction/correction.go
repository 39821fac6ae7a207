// Package correction sends finished dictation to a language model for one
// corrective pass. Every failure returns the input text unchanged.
package correction

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rbright/voxpage/internal/fault"
)

var (
	// ErrBusy rejects a second correction while one is in flight.
	ErrBusy = errors.New("correction already in progress")
	// ErrShape indicates a response without usable text.
	ErrShape = errors.New("correction response has no text")
)

// Turn is one earlier dictation and its corrected form, sent as context.
type Turn struct {
	Input  string
	Output string
}

// Request is one correction call.
type Request struct {
	SystemPrompt string
	PriorTurns   []Turn
	Text         string
}

// Corrector rewrites dictated text.
type Corrector interface {
	Correct(ctx context.Context, req Request) (string, error)
}

// Guard bounds a Corrector with a timeout and rejects concurrent calls.
type Guard struct {
	next    Corrector
	timeout time.Duration
	busy    atomic.Bool
}

// NewGuard wraps next. A non-positive timeout leaves calls unbounded.
func NewGuard(next Corrector, timeout time.Duration) *Guard {
	return &Guard{next: next, timeout: timeout}
}

// Correct runs one correction. On any failure it returns req.Text and a
// fault.Correction error.
func (g *Guard) Correct(ctx context.Context, req Request) (string, error) {
	if !g.busy.CompareAndSwap(false, true) {
		return req.Text, fault.Wrap(fault.Correction, "correct", ErrBusy)
	}
	defer g.busy.Store(false)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.next.Correct(ctx, req)
	if err != nil {
		return req.Text, fault.Wrap(fault.Correction, "correct", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return req.Text, fault.Wrap(fault.Correction, "correct", ErrShape)
	}
	return out, nil
}

// Busy reports whether a call is in flight.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

// Reset clears the busy flag after a forced session reset.
func (g *Guard) Reset() {
	g.busy.Store(false)
}

// stripFences removes markdown code fences some models wrap replies in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], " \t") {
			s = s[nl+1:]
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
