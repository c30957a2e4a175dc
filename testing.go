package kobj

import (
	"sync"
)

// CollectingObserver records every syscall completion for verification in
// tests of embedding applications.
type CollectingObserver struct {
	mu    sync.Mutex
	calls []ObservedCall
}

// ObservedCall is one recorded syscall completion.
type ObservedCall struct {
	Op   string
	Code Code
}

// NewCollectingObserver creates an empty observer.
func NewCollectingObserver() *CollectingObserver {
	return &CollectingObserver{}
}

// OnSyscall implements Observer
func (o *CollectingObserver) OnSyscall(op string, code Code) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, ObservedCall{Op: op, Code: code})
}

// Calls returns a snapshot of the recorded completions.
func (o *CollectingObserver) Calls() []ObservedCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ObservedCall, len(o.calls))
	copy(out, o.calls)
	return out
}

// CountOp returns how many times op completed, and how many of those
// failed.
func (o *CollectingObserver) CountOp(op string) (total, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.calls {
		if c.Op != op {
			continue
		}
		total++
		if c.Code != OK {
			failed++
		}
	}
	return total, failed
}

// NewTestKernel builds a small kernel and a root process, suitable for
// unit tests. The arena is deliberately small so leak bugs surface as
// NO_MEMORY quickly.
func NewTestKernel() (*Kernel, *Proc, error) {
	params := DefaultParams()
	params.ArenaCapacity = 1024
	k, err := New(params, nil)
	if err != nil {
		return nil, nil, err
	}
	pr, err := k.CreateProcess("test-root")
	if err != nil {
		return nil, nil, err
	}
	return k, pr, nil
}
