package lifecycle

import (
	"fmt"

	"github.com/DylanVanAssche/fwupd/internal/fwerr"
)

// State is the lifecycle state of one device.
type State int

// Lifecycle states.
const (
	StateUnprobed State = iota
	StateProbed
	StateOpened
	StateReading
	StateWriting
	StateClosed
	StateRemoved
)

var stateNames = map[State]string{
	StateUnprobed: "unprobed",
	StateProbed:   "probed",
	StateOpened:   "opened",
	StateReading:  "reading",
	StateWriting:  "writing",
	StateClosed:   "closed",
	StateRemoved:  "removed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal successors of every state.
var transitions = map[State][]State{
	StateUnprobed: {StateProbed},
	StateProbed:   {StateOpened, StateRemoved},
	StateOpened:   {StateReading, StateWriting, StateClosed},
	StateReading:  {StateClosed},
	StateWriting:  {StateClosed},
	StateClosed:   {StateOpened, StateRemoved},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %w: %s -> %s", fwerr.ErrFailed, fwerr.ErrInvalidState, from, to)
}
