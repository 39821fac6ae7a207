// Package speech defines the streaming recognition contract the dictation
// session consumes.
package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/voxpage/internal/fault"
)

// EventKind names one engine callback.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventResult EventKind = "result"
	EventEnd    EventKind = "end"
	EventError  EventKind = "error"
)

// ErrorCode classifies engine failures.
type ErrorCode string

const (
	CodeNoSpeech     ErrorCode = "no-speech"
	CodeAborted      ErrorCode = "aborted"
	CodeAudioCapture ErrorCode = "audio-capture"
	CodeNotAllowed   ErrorCode = "not-allowed"
	CodeNetwork      ErrorCode = "network"
	CodeStartFailed  ErrorCode = "start-failed"
	CodeUnsupported  ErrorCode = "unsupported"
)

// Category maps an engine code onto the failure taxonomy.
func (c ErrorCode) Category() fault.Category {
	switch c {
	case CodeNotAllowed, CodeAudioCapture:
		return fault.Permission
	default:
		return fault.Engine
	}
}

// Event is one engine callback. Interim results carry IsFinal=false and may
// be revised; a final result completes the utterance.
type Event struct {
	Kind       EventKind
	Transcript string
	IsFinal    bool
	Code       ErrorCode
	Err        error
}

// Options configure one recognition run.
type Options struct {
	Language string
}

// Engine starts recognition runs.
type Engine interface {
	Start(ctx context.Context, opts Options) (Stream, error)
}

// Stream is one active recognition run. Events is closed after the final
// end or error event. Stop finishes gracefully and flushes pending results;
// Abort discards them.
type Stream interface {
	Events() <-chan Event
	Stop()
	Abort()
}

// Error is an engine failure tagged with its code.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Failure wraps err with code and its fault category.
func Failure(code ErrorCode, err error) error {
	if err == nil {
		err = errors.New(string(code))
	}
	return fault.Wrap(code.Category(), "speech", &Error{Code: code, Err: err})
}

// CodeOf extracts the engine code from err.
func CodeOf(err error) (ErrorCode, bool) {
	var speechErr *Error
	if errors.As(err, &speechErr) {
		return speechErr.Code, true
	}
	return "", false
}
