// Package session implements the AgentX session lifecycle: dial, Open
// handshake, Register each declared region, then a single-goroutine
// dispatch loop servicing Get/GetNext/GetBulk and the two-phase SET
// PDUs, with exponential-backoff reconnection on any unrecoverable I/O
// error.
//
// The state machine itself is a pure function over a transition table,
// modeled directly on the BFD session FSM
// (internal/bfd/fsm.go): no side effects, trivially testable against the
// lifecycle diagram in isolation from the event loop that drives it.
package session

import "fmt"

// State is a session lifecycle state.
type State uint8

const (
	StateDisconnected State = iota + 1
	StateConnecting
	StateOpen
	StateRegistered
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateRegistered:
		return "Registered"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event drives a session FSM transition.
type Event uint8

const (
	EventStart Event = iota + 1
	EventDialOK
	EventDialFailed
	EventOpenOK
	EventOpenFailed
	EventRegisterFailed
	EventActivated
	EventStop
	EventIOError
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "Start"
	case EventDialOK:
		return "DialOK"
	case EventDialFailed:
		return "DialFailed"
	case EventOpenOK:
		return "OpenOK"
	case EventOpenFailed:
		return "OpenFailed"
	case EventRegisterFailed:
		return "RegisterFailed"
	case EventActivated:
		return "Activated"
	case EventStop:
		return "Stop"
	case EventIOError:
		return "IOError"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state for a (state, event) pair.
type transition struct {
	newState State
}

// fsmTable is the complete session lifecycle transition table.
// EventIOError from Connecting, Open, Registered or Active leads to
// Disconnected; EventStop moves Active to Closing and Closing to
// Disconnected. Every unlisted (state, event) pair is ignored.
var fsmTable = map[stateEvent]transition{
	{StateDisconnected, EventStart}: {StateConnecting},

	{StateConnecting, EventDialOK}:     {StateOpen},
	{StateConnecting, EventDialFailed}: {StateDisconnected},

	{StateOpen, EventOpenOK}:     {StateRegistered},
	{StateOpen, EventOpenFailed}: {StateDisconnected},

	{StateRegistered, EventRegisterFailed}: {StateDisconnected},
	{StateRegistered, EventActivated}:      {StateActive},

	{StateActive, EventStop}:    {StateClosing},
	{StateActive, EventIOError}: {StateDisconnected},

	{StateClosing, EventStop}: {StateDisconnected},

	// Any state collapses to Disconnected on an unrecoverable I/O error.
	{StateConnecting, EventIOError}: {StateDisconnected},
	{StateOpen, EventIOError}:       {StateDisconnected},
	{StateRegistered, EventIOError}: {StateDisconnected},
}

// FSMResult holds the outcome of applying an event, mirroring the
// teacher's FSMResult shape.
type FSMResult struct {
	OldState State
	NewState State
	Changed  bool
}

// ApplyEvent is a pure function over the transition table. An unlisted
// (state, event) pair is ignored: the result reports no change.
func ApplyEvent(current State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{current, event}]
	if !ok {
		return FSMResult{OldState: current, NewState: current, Changed: false}
	}
	return FSMResult{OldState: current, NewState: tr.newState, Changed: current != tr.newState}
}
