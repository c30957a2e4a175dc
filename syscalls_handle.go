package kobj

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

// HandleClose destroys the handle named by h. Closing unblocks any wait
// attached through it.
func (pr *Proc) HandleClose(h Handle) error {
	const op = "handle_close"
	tbl, err := pr.table(op)
	if err != nil {
		return pr.done(op, err)
	}
	handle, err := tbl.Remove(h)
	if err != nil {
		return pr.done(op, pr.badHandle(op, h))
	}
	pr.k.arena.Delete(handle)
	pr.k.metrics.HandlesClosed.Add(1)
	return pr.done(op, nil)
}

// HandleDuplicate creates a second handle to the same object. rights must
// be RightSameRights or a subset of the source handle's rights.
func (pr *Proc) HandleDuplicate(h Handle, rights Rights) (Handle, error) {
	const op = "handle_duplicate"
	tbl, err := pr.table(op)
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	nv, err := tbl.Duplicate(h, rights)
	if err != nil {
		if IsCode(err, ErrBadHandle) {
			return HandleInvalid, pr.done(op, pr.badHandle(op, h))
		}
		return HandleInvalid, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	pr.k.metrics.HandlesCreated.Add(1)
	pr.k.metrics.HandlesDuplicated.Add(1)
	return nv, pr.done(op, nil)
}

// HandleReplace atomically exchanges h for a handle with narrowed rights;
// the old value stops resolving.
func (pr *Proc) HandleReplace(h Handle, rights Rights) (Handle, error) {
	const op = "handle_replace"
	tbl, err := pr.table(op)
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	nv, old, err := tbl.Replace(h, rights)
	if err != nil {
		if IsCode(err, ErrBadHandle) {
			return HandleInvalid, pr.done(op, pr.badHandle(op, h))
		}
		return HandleInvalid, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	pr.k.arena.Delete(old)
	pr.k.metrics.HandlesCreated.Add(1)
	pr.k.metrics.HandlesClosed.Add(1)
	return nv, pr.done(op, nil)
}

func waitResultError(op string, pid uint64, res waiter.Result) error {
	switch res {
	case waiter.ResultSatisfied:
		return nil
	case waiter.ResultCanceled:
		return &Error{Op: op, Proc: pid, Code: ErrCanceled}
	case waiter.ResultInterrupted:
		return &Error{Op: op, Proc: pid, Code: ErrInterrupted}
	default:
		return &Error{Op: op, Proc: pid, Code: ErrTimedOut}
	}
}

// HandleWaitOne blocks until any signal in signals is satisfied on h's
// object, the timeout expires, or the handle is closed. The returned
// state is the last one the waiter observed.
func (pr *Proc) HandleWaitOne(ctx context.Context, h Handle, signals Signals, timeout time.Duration) (SignalsState, error) {
	const op = "handle_wait_one"
	if signals == 0 {
		return SignalsState{}, pr.done(op, NewError(op, ErrInvalidArgs, "empty signal mask"))
	}
	handle, err := pr.lookup(op, h, RightNone)
	if err != nil {
		return SignalsState{}, pr.done(op, err)
	}
	tracker := handle.Dispatcher().StateTracker()
	if tracker == nil {
		return SignalsState{}, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: ErrNotSupported})
	}

	ev := waiter.NewEvent()
	obs := waiter.NewStateObserver(ev, handle, signals, 0)
	tracker.AddObserver(obs)
	res, _ := ev.Wait(ctx, timeout)
	tracker.RemoveObserver(obs)

	return obs.LastState(), pr.done(op, waitResultError(op, pr.Koid(), res))
}

// WaitItem names one handle and the signals to wait for in
// HandleWaitMany.
type WaitItem struct {
	Handle  Handle
	Signals Signals
}

// HandleWaitMany blocks until any item's signals are satisfied. It
// returns the index of the item that completed the wait and the last
// observed state of every item.
func (pr *Proc) HandleWaitMany(ctx context.Context, items []WaitItem, timeout time.Duration) (int, []SignalsState, error) {
	const op = "handle_wait_many"
	if len(items) == 0 || len(items) > MaxWaitHandleCount {
		return 0, nil, pr.done(op, NewError(op, ErrInvalidArgs, "bad item count"))
	}

	ev := waiter.NewEvent()
	observers := make([]*waiter.StateObserver, len(items))
	trackers := make([]*signal.StateTracker, len(items))
	attached := 0
	var attachErr error
	for i, item := range items {
		if item.Signals == 0 {
			attachErr = NewError(op, ErrInvalidArgs, "empty signal mask")
			break
		}
		handle, err := pr.lookup(op, item.Handle, RightNone)
		if err != nil {
			attachErr = err
			break
		}
		tracker := handle.Dispatcher().StateTracker()
		if tracker == nil {
			attachErr = &Error{Op: op, Proc: pr.Koid(), Handle: item.Handle, Code: ErrNotSupported}
			break
		}
		observers[i] = waiter.NewStateObserver(ev, handle, item.Signals, uint64(i))
		trackers[i] = tracker
		tracker.AddObserver(observers[i])
		attached++
	}

	// Removing an observer a mid-wait handle close already detached is a
	// no-op.
	detach := func() {
		for i := 0; i < attached; i++ {
			trackers[i].RemoveObserver(observers[i])
		}
	}

	if attachErr != nil {
		detach()
		return 0, nil, pr.done(op, attachErr)
	}

	res, idx := ev.Wait(ctx, timeout)
	detach()

	states := make([]SignalsState, len(items))
	for i, obs := range observers {
		states[i] = obs.LastState()
	}
	return int(idx), states, pr.done(op, waitResultError(op, pr.Koid(), res))
}
