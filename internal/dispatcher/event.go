// Package dispatcher implements the concrete kernel object types: events
// and event pairs, message pipes, data pipes, sockets, I/O ports, wait
// sets, VM objects, logs, interrupts, resources, and I/O mappings.
package dispatcher

import (
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Event is the plainest waitable object: a tracker with user-settable
// bits and nothing else.
type Event struct {
	object.Base
	tracker *signal.StateTracker
}

// NewEvent returns an unsignaled event.
func NewEvent() *Event {
	return &Event{
		Base:    object.NewBase(object.TypeEvent),
		tracker: signal.New(0, signal.Signaled|signal.UserAll),
	}
}

// StateTracker implements object.Dispatcher.
func (e *Event) StateTracker() *signal.StateTracker { return e.tracker }

// UserSignal implements object.Dispatcher. Events accept SIGNALED and all
// user bits.
func (e *Event) UserSignal(clear, set signal.Signals) error {
	const allowed = signal.Signaled | signal.UserAll
	if (clear|set)&^allowed != 0 {
		return status.ErrInvalidArgs
	}
	e.tracker.UserSignal(clear, set)
	return nil
}
