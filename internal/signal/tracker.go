package signal

import "sync"

// Observer watches a state tracker on behalf of a waiter. Observers are
// invoked under the tracker lock; implementations must not call back into
// the tracker or take another tracker's lock.
type Observer interface {
	// OnStateChange is invoked with the tracker's new state, including
	// once at attach time with the current state. It returns true if the
	// observer fired its waiter.
	OnStateChange(state State) bool

	// OnCancel is invoked when the handle identified by key is closed
	// while the observer is attached. Returning true detaches the
	// observer.
	OnCancel(key any) bool

	// Key identifies the handle the observer was attached through.
	Key() any
}

// StateTracker carries the (satisfied, satisfiable) signal pair for one
// dispatcher and fans state changes out to attached observers.
type StateTracker struct {
	mu        sync.Mutex
	state     State
	observers []Observer
}

// New returns a tracker with the given initial state. Satisfied bits
// outside satisfiable are dropped.
func New(satisfied, satisfiable Signals) *StateTracker {
	return &StateTracker{
		state: State{
			Satisfied:   satisfied & satisfiable,
			Satisfiable: satisfiable,
		},
	}
}

// State returns the current state.
func (t *StateTracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AddObserver attaches o and immediately reports the current state to it,
// so a waiter whose condition already holds fires without an edge.
func (t *StateTracker) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
	o.OnStateChange(t.state)
}

// RemoveObserver detaches o. Detaching an observer that is not attached is
// a no-op.
func (t *StateTracker) RemoveObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.observers {
		if cur == o {
			last := len(t.observers) - 1
			t.observers[i] = t.observers[last]
			t.observers[last] = nil
			t.observers = t.observers[:last]
			return
		}
	}
}

// UpdateSatisfied clears then sets bits in the satisfied mask.
func (t *StateTracker) UpdateSatisfied(clear, set Signals) {
	t.UpdateState(clear, set, 0, 0)
}

// UpdateSatisfiable clears then sets bits in the satisfiable mask.
func (t *StateTracker) UpdateSatisfiable(clear, set Signals) {
	t.UpdateState(0, 0, clear, set)
}

// UpdateState applies all four deltas atomically and notifies observers if
// the observable state changed. Satisfied is re-clamped to satisfiable
// afterwards.
func (t *StateTracker) UpdateState(satClear, satSet, siaClear, siaSet Signals) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.state
	t.state.Satisfiable = (t.state.Satisfiable &^ siaClear) | siaSet
	t.state.Satisfied = ((t.state.Satisfied &^ satClear) | satSet) & t.state.Satisfiable
	if t.state != prev {
		t.notifyLocked()
	}
}

// UserSignal applies user-controlled bits to the satisfied mask. The caller
// (the dispatcher) has already validated that the bits are user-settable
// for its type.
func (t *StateTracker) UserSignal(clear, set Signals) {
	t.UpdateState(clear, set, 0, 0)
}

// Cancel notifies every observer attached under key that its handle is
// going away and detaches those that acknowledge.
func (t *StateTracker) Cancel(key any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.observers[:0]
	for _, o := range t.observers {
		if o.Key() == key && o.OnCancel(key) {
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(t.observers); i++ {
		t.observers[i] = nil
	}
	t.observers = kept
}

// ObserverCount reports the attached observer count.
func (t *StateTracker) ObserverCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observers)
}

func (t *StateTracker) notifyLocked() {
	for _, o := range t.observers {
		o.OnStateChange(t.state)
	}
}
