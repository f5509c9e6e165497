package lifecycle

import (
	"time"

	"github.com/DylanVanAssche/fwupd/internal/transfer"
)

// EventKind identifies what an Event reports.
type EventKind string

// Event kinds.
const (
	EventAdded            EventKind = "added"
	EventStateChanged     EventKind = "state-changed"
	EventProgress         EventKind = "progress"
	EventTransferFinished EventKind = "transfer-finished"
	EventRemoved          EventKind = "removed"
)

// Event describes one lifecycle step of a device.
type Event struct {
	Kind     EventKind
	DeviceID string
	Plugin   string
	Time     time.Time

	// From and To are set for EventStateChanged.
	From State
	To   State

	// Progress is set for EventProgress and EventTransferFinished.
	Progress *transfer.Progress

	// Err is set for an EventTransferFinished that failed.
	Err error
}

// Observer receives lifecycle events.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
