// Package fsm defines the dictation session lifecycle.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateListening  State = "listening"
	StateInterim    State = "interim"
	StateFinalizing State = "finalizing"
	StateCorrecting State = "correcting"
	StateCommitting State = "committing"
	StateError      State = "error"
)

const (
	EventStart    Event = "start"
	EventListen   Event = "listen"
	EventInterim  Event = "interim"
	EventFinalize Event = "finalize"
	EventRestart  Event = "restart"
	EventCorrect  Event = "correct"
	EventCommit   Event = "commit"
	EventDone     Event = "done"
	EventCancel   Event = "cancel"
	EventFail     Event = "fail"
	EventReset    Event = "reset"
)

// Active reports whether a session owns the microphone in state s.
func Active(s State) bool {
	return s != StateIdle && s != StateError
}

// Capturing reports whether transcript events are still accepted in state s.
func Capturing(s State) bool {
	return s == StateListening || s == StateInterim
}

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateAcquiring, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAcquiring:
		switch event {
		case EventListen:
			return StateListening, nil
		case EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening, StateInterim:
		switch event {
		case EventInterim:
			return StateInterim, nil
		case EventFinalize:
			return StateFinalizing, nil
		case EventRestart:
			return StateListening, nil
		case EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFinalizing:
		switch event {
		case EventCorrect:
			return StateCorrecting, nil
		case EventCommit:
			return StateCommitting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCorrecting:
		switch event {
		case EventCommit:
			return StateCommitting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCommitting:
		switch event {
		case EventDone:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateError:
		switch event {
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
