package waiter

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/signal"
)

// StateObserver connects one (handle, desired signals) pair to an Event.
// Several observers may share one event for a multi-object wait; the
// event's context then identifies which observer fired first.
type StateObserver struct {
	event   *Event
	key     any
	desired signal.Signals
	context uint64

	mu   sync.Mutex
	last signal.State
}

// NewStateObserver returns an observer that fires event with the given
// context when any desired signal becomes satisfied. key is the handle
// identity used for cancel-by-handle.
func NewStateObserver(event *Event, key any, desired signal.Signals, context uint64) *StateObserver {
	return &StateObserver{
		event:   event,
		key:     key,
		desired: desired,
		context: context,
	}
}

// OnStateChange implements signal.Observer. A state whose satisfied mask
// overlaps the desired mask fires the event; a state that can never
// satisfy the desired mask fires it with cancellation.
func (o *StateObserver) OnStateChange(state signal.State) bool {
	o.mu.Lock()
	o.last = state
	o.mu.Unlock()

	if state.Satisfied&o.desired != 0 {
		return o.event.Signal(ResultSatisfied, o.context)
	}
	if state.Satisfiable&o.desired == 0 {
		return o.event.Signal(ResultCanceled, o.context)
	}
	return false
}

// OnCancel implements signal.Observer: the handle was closed out from
// under the wait.
func (o *StateObserver) OnCancel(key any) bool {
	o.event.Signal(ResultCanceled, o.context)
	return true
}

// Key implements signal.Observer.
func (o *StateObserver) Key() any { return o.key }

// LastState returns the most recent state the observer saw.
func (o *StateObserver) LastState() signal.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}
