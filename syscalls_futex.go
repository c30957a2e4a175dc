package kobj

import (
	"context"
	"time"
)

// FutexWait parks the calling goroutine on addr if *addr still equals
// expected. The compare and park are atomic with respect to FutexWake and
// FutexRequeue in the same process.
func (pr *Proc) FutexWait(ctx context.Context, addr *int32, expected int32, timeout time.Duration) error {
	const op = "futex_wait"
	pr.k.metrics.FutexWaits.Add(1)
	if err := pr.p.Futexes().Wait(ctx, addr, expected, timeout); err != nil {
		return pr.done(op, WrapError(op, pr.Koid(), err))
	}
	return pr.done(op, nil)
}

// FutexWake releases up to count waiters parked on addr, FIFO order.
func (pr *Proc) FutexWake(addr *int32, count int) (int, error) {
	const op = "futex_wake"
	woken, err := pr.p.Futexes().Wake(addr, count)
	if err != nil {
		return 0, pr.done(op, WrapError(op, pr.Koid(), err))
	}
	pr.k.metrics.FutexWakes.Add(uint64(woken))
	return woken, pr.done(op, nil)
}

// FutexRequeue wakes up to wakeCount waiters from addrWake and moves up
// to requeueCount of the remainder onto addrReq, provided *addrWake still
// equals expected.
func (pr *Proc) FutexRequeue(addrWake *int32, wakeCount int, expected int32, addrReq *int32, requeueCount int) (int, error) {
	const op = "futex_requeue"
	woken, err := pr.p.Futexes().Requeue(addrWake, wakeCount, expected, addrReq, requeueCount)
	if err != nil {
		return 0, pr.done(op, WrapError(op, pr.Koid(), err))
	}
	pr.k.metrics.FutexRequeues.Add(1)
	pr.k.metrics.FutexWakes.Add(uint64(woken))
	return woken, pr.done(op, nil)
}
