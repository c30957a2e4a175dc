// Package waiter implements the blocking primitive the kernel core parks
// threads on: a one-shot event plus the observer glue that connects it to
// dispatcher state trackers.
package waiter

import (
	"context"
	"math"
	"sync"
	"time"
)

// Result is the reason a wait completed.
type Result int

const (
	// ResultPending means the event has not fired.
	ResultPending Result = iota
	// ResultSatisfied means a signaller delivered satisfaction.
	ResultSatisfied
	// ResultTimedOut means the deadline expired first.
	ResultTimedOut
	// ResultCanceled means the waited object or handle went away.
	ResultCanceled
	// ResultInterrupted means the waiting thread was asked to stop.
	ResultInterrupted
)

func (r Result) String() string {
	switch r {
	case ResultPending:
		return "PENDING"
	case ResultSatisfied:
		return "SATISFIED"
	case ResultTimedOut:
		return "TIMED_OUT"
	case ResultCanceled:
		return "CANCELLED"
	case ResultInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

// TimeoutInfinite blocks without a deadline. A zero or negative timeout
// polls: the wait returns immediately with ResultTimedOut if the event has
// not fired.
const TimeoutInfinite = time.Duration(math.MaxInt64)

// Event is a one-shot completion slot. The first Signal wins; its result
// and context are what every subsequent observer of the event sees.
// Waiting is a true block of the calling goroutine.
type Event struct {
	mu       sync.Mutex
	done     chan struct{}
	signaled bool
	result   Result
	context  uint64
}

// NewEvent returns an unsignaled event.
func NewEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// Signal completes the event. Only the first call takes effect; later
// calls are no-ops and return false.
func (e *Event) Signal(result Result, context uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		return false
	}
	e.signaled = true
	e.result = result
	e.context = context
	close(e.done)
	return true
}

// Signaled reports whether the event has fired.
func (e *Event) Signaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Outcome returns the delivered result and context. ResultPending until the
// event fires.
func (e *Event) Outcome() (Result, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result, e.context
}

// Wait blocks until the event fires, the timeout expires, or ctx is
// cancelled. Timeout expiry and interruption complete the event themselves,
// so a racing Signal either wins (its result is returned) or sees the event
// already consumed.
func (e *Event) Wait(ctx context.Context, timeout time.Duration) (Result, uint64) {
	var ctxDone <-chan struct{}
	if ctx != nil {
		ctxDone = ctx.Done()
	}

	switch {
	case timeout <= 0:
		select {
		case <-e.done:
		default:
			e.Signal(ResultTimedOut, 0)
		}
	case timeout == TimeoutInfinite:
		select {
		case <-e.done:
		case <-ctxDone:
			e.Signal(ResultInterrupted, 0)
		}
	default:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-e.done:
		case <-timer.C:
			e.Signal(ResultTimedOut, 0)
		case <-ctxDone:
			e.Signal(ResultInterrupted, 0)
		}
	}
	return e.Outcome()
}
