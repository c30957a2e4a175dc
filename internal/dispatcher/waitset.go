package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

// WaitSetResult reports one ready entry from a wait-set wait.
type WaitSetResult struct {
	Cookie uint64
	// Status is OK for a satisfied entry and ErrCanceled for an entry
	// whose handle was closed under it.
	Status error
	State  signal.State
}

// waitSetEntry is one registered (handle, desired, cookie) triple. It
// observes the target's tracker for the life of the registration.
type waitSetEntry struct {
	set     *WaitSet
	cookie  uint64
	handle  *object.Handle
	tracker *signal.StateTracker
	desired signal.Signals

	// Guarded by set.mu.
	last      signal.State
	satisfied bool
	canceled  bool
}

// WaitSet is a long-lived collection of waitable entries that can be
// waited on repeatedly.
type WaitSet struct {
	object.Base
	mu      sync.Mutex
	entries map[uint64]*waitSetEntry
	parked  []*waiter.Event
}

// NewWaitSet returns an empty set.
func NewWaitSet() *WaitSet {
	return &WaitSet{
		Base:    object.NewBase(object.TypeWaitSet),
		entries: make(map[uint64]*waitSetEntry),
	}
}

// Add registers a handle under a caller-chosen cookie. The handle's
// object must be waitable; a cookie may be registered once.
func (w *WaitSet) Add(cookie uint64, h *object.Handle, desired signal.Signals) error {
	tracker := h.Dispatcher().StateTracker()
	if tracker == nil {
		return status.ErrNotSupported
	}
	if desired == 0 {
		return status.ErrInvalidArgs
	}

	entry := &waitSetEntry{
		set:     w,
		cookie:  cookie,
		handle:  h,
		tracker: tracker,
		desired: desired,
	}

	w.mu.Lock()
	if len(w.entries) >= constants.MaxWaitSetEntries {
		w.mu.Unlock()
		return status.ErrNoMemory
	}
	if _, dup := w.entries[cookie]; dup {
		w.mu.Unlock()
		return status.ErrAlreadyBound
	}
	w.entries[cookie] = entry
	w.mu.Unlock()

	// Attaching outside w.mu keeps the lock order tracker -> set.
	tracker.AddObserver(entry)
	return nil
}

// Remove deregisters the entry under cookie.
func (w *WaitSet) Remove(cookie uint64) error {
	w.mu.Lock()
	entry, ok := w.entries[cookie]
	if !ok {
		w.mu.Unlock()
		return status.ErrNotFound
	}
	delete(w.entries, cookie)
	w.mu.Unlock()

	// Removing an already-cancelled (detached) observer is a no-op.
	entry.tracker.RemoveObserver(entry)
	return nil
}

// Wait blocks until at least one entry is ready, then reports up to max
// ready entries. The second return is the total ready count, which may
// exceed the reported slice when truncated.
func (w *WaitSet) Wait(ctx context.Context, timeout time.Duration, max int) ([]WaitSetResult, int, error) {
	if max <= 0 {
		return nil, 0, status.ErrInvalidArgs
	}
	deadline := time.Now().Add(timeout)
	infinite := timeout == waiter.TimeoutInfinite

	for {
		w.mu.Lock()
		results, total := w.collectLocked(max)
		if total > 0 {
			w.mu.Unlock()
			return results, total, nil
		}
		remaining := timeout
		if !infinite {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				w.mu.Unlock()
				return nil, 0, status.ErrTimedOut
			}
		}
		ev := waiter.NewEvent()
		w.parked = append(w.parked, ev)
		w.mu.Unlock()

		switch res, _ := ev.Wait(ctx, remaining); res {
		case waiter.ResultSatisfied:
			// Re-collect under the lock.
		case waiter.ResultInterrupted:
			w.unpark(ev)
			return nil, 0, status.ErrInterrupted
		default:
			w.unpark(ev)
			return nil, 0, status.ErrTimedOut
		}
	}
}

func (w *WaitSet) collectLocked(max int) ([]WaitSetResult, int) {
	var results []WaitSetResult
	total := 0
	for _, e := range w.entries {
		if !e.satisfied && !e.canceled {
			continue
		}
		total++
		if len(results) >= max {
			continue
		}
		r := WaitSetResult{Cookie: e.cookie, State: e.last}
		if e.canceled {
			r.Status = status.ErrCanceled
		}
		results = append(results, r)
	}
	return results, total
}

func (w *WaitSet) unpark(ev *waiter.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, cur := range w.parked {
		if cur == ev {
			copy(w.parked[i:], w.parked[i+1:])
			w.parked[len(w.parked)-1] = nil
			w.parked = w.parked[:len(w.parked)-1]
			return
		}
	}
}

func (w *WaitSet) wakeAllLocked() {
	for _, ev := range w.parked {
		ev.Signal(waiter.ResultSatisfied, 0)
	}
	w.parked = w.parked[:0]
}

// Count returns the number of registered entries.
func (w *WaitSet) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// TearDown detaches every entry; used when the set's last handle closes.
func (w *WaitSet) TearDown() {
	w.mu.Lock()
	entries := make([]*waitSetEntry, 0, len(w.entries))
	for _, e := range w.entries {
		entries = append(entries, e)
	}
	w.entries = make(map[uint64]*waitSetEntry)
	w.wakeAllLocked()
	w.mu.Unlock()

	for _, e := range entries {
		e.tracker.RemoveObserver(e)
	}
}

// OnStateChange implements signal.Observer. Runs under the source
// tracker's lock; the set lock nests inside it.
func (e *waitSetEntry) OnStateChange(state signal.State) bool {
	w := e.set
	w.mu.Lock()
	defer w.mu.Unlock()
	e.last = state
	was := e.satisfied
	e.satisfied = state.Satisfied&e.desired != 0
	if e.satisfied && !was {
		w.wakeAllLocked()
		return true
	}
	return false
}

// OnCancel implements signal.Observer: the registered handle was closed.
// The entry stays in the set and reports a cancelled result until
// removed.
func (e *waitSetEntry) OnCancel(key any) bool {
	w := e.set
	w.mu.Lock()
	defer w.mu.Unlock()
	e.canceled = true
	w.wakeAllLocked()
	return true
}

// Key implements signal.Observer.
func (e *waitSetEntry) Key() any { return e.handle }
