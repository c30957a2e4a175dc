package kobj

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// WaitSetCreate returns a fresh, empty wait set.
func (pr *Proc) WaitSetCreate() (Handle, error) {
	const op = "waitset_create"
	ws := dispatcher.NewWaitSet()
	ws.SetOnZeroHandles(ws.TearDown)
	h, err := pr.addHandle(op, ws, object.DefaultRights(TypeWaitSet))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// WaitSetAdd registers target under cookie with the desired signal mask.
func (pr *Proc) WaitSetAdd(ws Handle, cookie uint64, target Handle, signals Signals) error {
	const op = "waitset_add"
	set, err := pr.waitSetFor(op, ws, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	th, err := pr.lookup(op, target, RightRead)
	if err != nil {
		return pr.done(op, err)
	}
	if err := set.Add(cookie, th, signals); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: target, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// WaitSetRemove deregisters the entry under cookie.
func (pr *Proc) WaitSetRemove(ws Handle, cookie uint64) error {
	const op = "waitset_remove"
	set, err := pr.waitSetFor(op, ws, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := set.Remove(cookie); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: ws, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// WaitSetWait blocks until at least one entry is ready and reports up to
// max of them; the total count is returned even when truncated.
func (pr *Proc) WaitSetWait(ctx context.Context, ws Handle, timeout time.Duration, max int) ([]WaitSetResult, int, error) {
	const op = "waitset_wait"
	set, err := pr.waitSetFor(op, ws, RightRead)
	if err != nil {
		return nil, 0, pr.done(op, err)
	}
	results, total, err := set.Wait(ctx, timeout, max)
	if err != nil {
		return nil, 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: ws, Code: GetCode(err)})
	}
	return results, total, pr.done(op, nil)
}

func (pr *Proc) waitSetFor(op string, h Handle, required Rights) (*dispatcher.WaitSet, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeWaitSet)
	if err != nil {
		return nil, err
	}
	ws, ok := handle.Dispatcher().(*dispatcher.WaitSet)
	if !ok {
		panic("kobj: wait-set type tag on foreign dispatcher")
	}
	return ws, nil
}
