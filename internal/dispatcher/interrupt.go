package dispatcher

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

// Interrupt is a waitable interrupt line. Trigger asserts it (from the
// platform glue or a test), WaitForInterrupt blocks on assertion, and
// Complete re-arms the line.
type Interrupt struct {
	object.Base
	vector  uint32
	tracker *signal.StateTracker
}

// NewInterrupt returns an unasserted line for vector.
func NewInterrupt(vector uint32) *Interrupt {
	return &Interrupt{
		Base:    object.NewBase(object.TypeInterrupt),
		vector:  vector,
		tracker: signal.New(0, signal.Signaled),
	}
}

// StateTracker implements object.Dispatcher.
func (i *Interrupt) StateTracker() *signal.StateTracker { return i.tracker }

// Vector returns the line's vector number.
func (i *Interrupt) Vector() uint32 { return i.vector }

// Trigger asserts the line, waking waiters.
func (i *Interrupt) Trigger() {
	i.tracker.UpdateSatisfied(0, signal.Signaled)
}

// Complete acknowledges the assertion and re-arms the line.
func (i *Interrupt) Complete() {
	i.tracker.UpdateSatisfied(signal.Signaled, 0)
}

// WaitForInterrupt blocks until the line asserts.
func (i *Interrupt) WaitForInterrupt(ctx context.Context, timeout time.Duration) error {
	ev := waiter.NewEvent()
	obs := waiter.NewStateObserver(ev, i, signal.Signaled, 0)
	i.tracker.AddObserver(obs)
	defer i.tracker.RemoveObserver(obs)

	switch res, _ := ev.Wait(ctx, timeout); res {
	case waiter.ResultSatisfied:
		return nil
	case waiter.ResultInterrupted:
		return status.ErrInterrupted
	case waiter.ResultCanceled:
		return status.ErrCanceled
	default:
		return status.ErrTimedOut
	}
}
