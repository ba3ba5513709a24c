package transport

import "fmt"

// State is the connection lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type trigger int

const (
	triggerConnect trigger = iota
	triggerHandshakeOK
	triggerAttemptFailed
	triggerRetriesExhausted
	triggerConnectionLost
	triggerDisconnect
)

func (t trigger) String() string {
	return [...]string{
		"connect", "handshake_ok", "attempt_failed",
		"retries_exhausted", "connection_lost", "disconnect",
	}[t]
}

// ErrInvalidTransition is returned by next for triggers that do not apply
// to the current state.
type ErrInvalidTransition struct {
	From    State
	Trigger trigger
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("transport: %s not allowed in state %s", e.Trigger, e.From)
}

// next is the whole transition table.
func next(from State, t trigger) (State, error) {
	switch t {
	case triggerConnect:
		switch from {
		case StateUninitialized, StateFailed, StateDisconnected:
			return StateConnecting, nil
		}
	case triggerHandshakeOK:
		switch from {
		case StateConnecting, StateReconnecting:
			return StateConnected, nil
		}
	case triggerAttemptFailed:
		switch from {
		case StateConnecting, StateReconnecting:
			return StateReconnecting, nil
		}
	case triggerRetriesExhausted:
		switch from {
		case StateConnecting, StateReconnecting:
			return StateFailed, nil
		}
	case triggerConnectionLost:
		if from == StateConnected {
			return StateReconnecting, nil
		}
	case triggerDisconnect:
		return StateDisconnected, nil
	}
	return from, &ErrInvalidTransition{From: from, Trigger: t}
}
