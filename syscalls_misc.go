package kobj

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// Nanosleep suspends the caller for d, or until ctx cancels.
func (pr *Proc) Nanosleep(ctx context.Context, d time.Duration) error {
	const op = "nanosleep"
	if d <= 0 {
		return pr.done(op, nil)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	var ctxDone <-chan struct{}
	if ctx != nil {
		ctxDone = ctx.Done()
	}
	select {
	case <-timer.C:
		return pr.done(op, nil)
	case <-ctxDone:
		return pr.done(op, NewError(op, ErrInterrupted, "sleep interrupted"))
	}
}

// CurrentTime returns the kernel clock in nanoseconds.
func (pr *Proc) CurrentTime() int64 {
	return pr.k.CurrentTime()
}

// CprngDraw fills buf from the kernel CPRNG.
func (pr *Proc) CprngDraw(buf []byte) error {
	const op = "cprng_draw"
	return pr.done(op, pr.k.CprngDraw(buf))
}

// CprngAddEntropy mixes caller entropy into the kernel CPRNG.
func (pr *Proc) CprngAddEntropy(buf []byte) error {
	const op = "cprng_add_entropy"
	return pr.done(op, pr.k.CprngAddEntropy(buf))
}

// LogCreate returns a handle onto the kernel log. Pass LogFlagReadable to
// read records back.
func (pr *Proc) LogCreate(flags uint32) (Handle, error) {
	const op = "log_create"
	if flags&^LogFlagReadable != 0 {
		return HandleInvalid, pr.done(op, NewError(op, ErrInvalidArgs, "bad flags"))
	}
	l := dispatcher.NewLog(pr.k.logBuf, flags)
	h, err := pr.addHandle(op, l, object.DefaultRights(TypeLog))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// LogWrite appends a record attributed to the calling process.
func (pr *Proc) LogWrite(h Handle, data []byte) error {
	const op = "log_write"
	l, err := pr.logFor(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := l.Write(pr.Koid(), 0, data); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// LogRead consumes the next unread record past this handle's cursor.
func (pr *Proc) LogRead(h Handle) (LogRecord, error) {
	const op = "log_read"
	l, err := pr.logFor(op, h, RightRead)
	if err != nil {
		return LogRecord{}, pr.done(op, err)
	}
	rec, err := l.Read()
	if err != nil {
		return LogRecord{}, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return rec, pr.done(op, nil)
}

// InterruptCreate returns a waitable interrupt line for vector.
func (pr *Proc) InterruptCreate(vector uint32) (Handle, error) {
	const op = "interrupt_create"
	irq := dispatcher.NewInterrupt(vector)
	h, err := pr.addHandle(op, irq, object.DefaultRights(TypeInterrupt))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// InterruptWait blocks until the line behind h asserts.
func (pr *Proc) InterruptWait(ctx context.Context, h Handle, timeout time.Duration) error {
	const op = "interrupt_wait"
	irq, err := pr.interruptFor(op, h, RightRead)
	if err != nil {
		return pr.done(op, err)
	}
	if err := irq.WaitForInterrupt(ctx, timeout); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// InterruptTrigger asserts the line; platform glue and tests drive this.
func (pr *Proc) InterruptTrigger(h Handle) error {
	const op = "interrupt_trigger"
	irq, err := pr.interruptFor(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	irq.Trigger()
	return pr.done(op, nil)
}

// InterruptComplete acknowledges and re-arms the line.
func (pr *Proc) InterruptComplete(h Handle) error {
	const op = "interrupt_complete"
	irq, err := pr.interruptFor(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	irq.Complete()
	return pr.done(op, nil)
}

// RootResourceHandle installs a handle to the root of the resource
// hierarchy in the caller's table.
func (pr *Proc) RootResourceHandle() (Handle, error) {
	const op = "resource_root"
	h, err := pr.addHandle(op, pr.k.rootRes, object.DefaultRights(TypeResource))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// ResourceCreateChild adds a named child under the resource behind h.
func (pr *Proc) ResourceCreateChild(h Handle, name string, kind uint32) (Handle, error) {
	const op = "resource_create"
	res, err := pr.resourceFor(op, h, RightWrite)
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	child, err := res.CreateChild(name, kind)
	if err != nil {
		return HandleInvalid, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	ch, err := pr.addHandle(op, child, object.DefaultRights(TypeResource))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return ch, pr.done(op, nil)
}

func (pr *Proc) logFor(op string, h Handle, required Rights) (*dispatcher.Log, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeLog)
	if err != nil {
		return nil, err
	}
	l, ok := handle.Dispatcher().(*dispatcher.Log)
	if !ok {
		panic("kobj: log type tag on foreign dispatcher")
	}
	return l, nil
}

func (pr *Proc) interruptFor(op string, h Handle, required Rights) (*dispatcher.Interrupt, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeInterrupt)
	if err != nil {
		return nil, err
	}
	irq, ok := handle.Dispatcher().(*dispatcher.Interrupt)
	if !ok {
		panic("kobj: interrupt type tag on foreign dispatcher")
	}
	return irq, nil
}

func (pr *Proc) resourceFor(op string, h Handle, required Rights) (*dispatcher.Resource, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeResource)
	if err != nil {
		return nil, err
	}
	res, ok := handle.Dispatcher().(*dispatcher.Resource)
	if !ok {
		panic("kobj: resource type tag on foreign dispatcher")
	}
	return res, nil
}
