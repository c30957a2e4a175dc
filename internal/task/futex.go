// Package task implements processes, threads, futexes, and exception
// delivery on top of the object and dispatcher layers.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ehrlich-b/go-kobj/internal/status"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

// futexWaiter is one parked thread. key tracks which queue currently
// holds it, so a requeued waiter can still remove itself on timeout.
type futexWaiter struct {
	event *waiter.Event
	key   uintptr
}

// FutexContext is a per-process map from futex word address to a FIFO of
// parked waiters. Queues are created on first wait and removed when they
// empty. Keying by address inside one process means cross-process futexes
// cannot exist by construction.
type FutexContext struct {
	mu     sync.Mutex
	queues map[uintptr][]*futexWaiter
}

// NewFutexContext returns an empty context.
func NewFutexContext() *FutexContext {
	return &FutexContext{queues: make(map[uintptr][]*futexWaiter)}
}

func futexKey(addr *int32) (uintptr, error) {
	if addr == nil {
		return 0, status.ErrInvalidArgs
	}
	key := uintptr(unsafe.Pointer(addr))
	if key%4 != 0 {
		return 0, status.ErrInvalidArgs
	}
	return key, nil
}

// Wait parks the calling goroutine on addr if *addr still equals
// expected. The compare and the park are atomic with respect to Wake and
// Requeue, which take the same lock.
func (f *FutexContext) Wait(ctx context.Context, addr *int32, expected int32, timeout time.Duration) error {
	key, err := futexKey(addr)
	if err != nil {
		return err
	}

	f.mu.Lock()
	if atomic.LoadInt32(addr) != expected {
		f.mu.Unlock()
		return status.ErrAlreadyBound
	}
	w := &futexWaiter{event: waiter.NewEvent(), key: key}
	f.queues[key] = append(f.queues[key], w)
	f.mu.Unlock()

	switch res, _ := w.event.Wait(ctx, timeout); res {
	case waiter.ResultSatisfied:
		return nil
	case waiter.ResultCanceled:
		return status.ErrCanceled
	case waiter.ResultInterrupted:
		f.remove(w)
		return status.ErrInterrupted
	default:
		f.remove(w)
		return status.ErrTimedOut
	}
}

// Wake releases up to count waiters from addr's queue in FIFO order and
// returns how many it released.
func (f *FutexContext) Wake(addr *int32, count int) (int, error) {
	key, err := futexKey(addr)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	woken := 0
	q := f.queues[key]
	for count > 0 && len(q) > 0 {
		w := q[0]
		q = q[1:]
		// A waiter that timed out concurrently has consumed its event
		// and does not use up the wake budget.
		if w.event.Signal(waiter.ResultSatisfied, 0) {
			woken++
			count--
		}
	}
	f.setQueueLocked(key, q)
	return woken, nil
}

// Requeue atomically checks *addrWake against expected, wakes up to
// wakeCount waiters from addrWake's queue, and moves up to requeueCount
// of the remainder onto addrReq's queue.
func (f *FutexContext) Requeue(addrWake *int32, wakeCount int, expected int32, addrReq *int32, requeueCount int) (int, error) {
	wakeKey, err := futexKey(addrWake)
	if err != nil {
		return 0, err
	}
	reqKey, err := futexKey(addrReq)
	if err != nil {
		return 0, err
	}
	if wakeKey == reqKey {
		return 0, status.ErrInvalidArgs
	}
	if wakeCount < 0 || requeueCount < 0 {
		return 0, status.ErrInvalidArgs
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if atomic.LoadInt32(addrWake) != expected {
		return 0, status.ErrAlreadyBound
	}

	q := f.queues[wakeKey]
	woken := 0
	for wakeCount > 0 && len(q) > 0 {
		w := q[0]
		q = q[1:]
		if w.event.Signal(waiter.ResultSatisfied, 0) {
			woken++
			wakeCount--
		}
	}
	moved := 0
	for requeueCount > 0 && len(q) > 0 {
		w := q[0]
		q = q[1:]
		if w.event.Signaled() {
			continue
		}
		w.key = reqKey
		f.queues[reqKey] = append(f.queues[reqKey], w)
		moved++
		requeueCount--
	}
	f.setQueueLocked(wakeKey, q)
	return woken, nil
}

// WakeAll releases every parked waiter with a cancellation result; used
// on process teardown.
func (f *FutexContext) WakeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queues {
		for _, w := range q {
			w.event.Signal(waiter.ResultCanceled, 0)
		}
	}
	f.queues = make(map[uintptr][]*futexWaiter)
}

// WaiterCount returns the number of waiters parked on addr.
func (f *FutexContext) WaiterCount(addr *int32) int {
	key, err := futexKey(addr)
	if err != nil {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[key])
}

func (f *FutexContext) setQueueLocked(key uintptr, q []*futexWaiter) {
	if len(q) == 0 {
		delete(f.queues, key)
	} else {
		f.queues[key] = q
	}
}

func (f *FutexContext) remove(w *futexWaiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[w.key]
	for i, cur := range q {
		if cur == w {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = nil
			f.setQueueLocked(w.key, q[:len(q)-1])
			return
		}
	}
}
