// Package session manages call lifecycle: the per-call state machine,
// the session record, and the manager that binds transports to the
// conversation engine.
package session

import "fmt"

// State is a call lifecycle phase.
type State string

const (
	StateIdle         State = "idle"
	StateRinging      State = "ringing"
	StateActive       State = "active"
	StateOnHold       State = "on_hold"
	StateTransferring State = "transferring"
	StateEnded        State = "ended"
)

// validTransitions encodes the lifecycle graph. Ended is reachable from
// every state and terminal; OnHold and Transferring only suspend an
// Active call.
var validTransitions = map[State][]State{
	StateIdle:         {StateRinging, StateActive, StateEnded},
	StateRinging:      {StateActive, StateEnded},
	StateActive:       {StateOnHold, StateTransferring, StateEnded},
	StateOnHold:       {StateActive, StateEnded},
	StateTransferring: {StateActive, StateEnded},
	StateEnded:        {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected state change.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session: invalid transition %s -> %s", e.From, e.To)
}
