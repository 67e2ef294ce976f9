package poller

import "sync/atomic"

// State is the lifecycle state of a pollable object
type State int32

const (
	Inactive State = iota
	Listening
	Connecting
	Connected
	Closing
)

var stateNames = [...]string{"inactive", "listening", "connecting", "connected", "closing"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Event is anything the Poll can dispatch readiness to
type Event interface {
	Descriptor() int
	State() State
	EventRead()
	EventWrite()
	EventError()
}

// EventBase carries the descriptor and state shared by every Event.
// Embed it, set the descriptor and implement the three callbacks.
type EventBase struct {
	fd    int
	state atomic.Int32
}

func (e *EventBase) Descriptor() int { return e.fd }

// SetDescriptor must only be called before the event is opened on a Poll
func (e *EventBase) SetDescriptor(fd int) { e.fd = fd }

func (e *EventBase) State() State { return State(e.state.Load()) }

func (e *EventBase) SetState(s State) { e.state.Store(int32(s)) }

func (e *EventBase) IsConnected() bool { return e.State() == Connected }

// Transition moves from one state to another and reports whether it happened
func (e *EventBase) Transition(from, to State) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// TryClose moves any state to Closing. Only the first caller gets true.
func (e *EventBase) TryClose() bool {
	for {
		cur := e.state.Load()
		if State(cur) == Closing {
			return false
		}
		if e.state.CompareAndSwap(cur, int32(Closing)) {
			return true
		}
	}
}
