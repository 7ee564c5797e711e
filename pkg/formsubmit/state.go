package formsubmit

import "fmt"

// State is the state of a single exchange.
type State int

const (
	// Idle is the state before the request is built.
	Idle State = iota
	// Connecting means the connection is being opened.
	Connecting
	// Sent means the request went out and the first message is awaited.
	Sent
	// Completed means the first message was received and applied.
	Completed
	// Failed means the exchange ended without applying a response.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Sent:
		return "sent"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether an exchange in state s may move to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == Failed {
		return true
	}
	switch s {
	case Idle:
		return next == Connecting
	case Connecting:
		return next == Sent
	case Sent:
		return next == Completed
	}
	return false
}
