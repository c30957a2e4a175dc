package kobj

import (
	"errors"

	"github.com/ehrlich-b/go-kobj/internal/logging"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/task"
)

// Proc is the caller context for one process: every system call is a
// method on it, entered with handle values that only mean something in
// this process's table.
type Proc struct {
	k    *Kernel
	p    *task.Process
	self Handle
}

// Koid returns the process's kernel object id.
func (pr *Proc) Koid() uint64 { return pr.p.Koid() }

// Name returns the process name.
func (pr *Proc) Name() string { return pr.p.Name() }

// State returns the process lifecycle state.
func (pr *Proc) State() ProcessState { return pr.p.State() }

// Retcode returns the recorded exit code.
func (pr *Proc) Retcode() int { return pr.p.Retcode() }

// SelfHandle returns the handle to this process in its own table.
func (pr *Proc) SelfHandle() Handle { return pr.self }

// HandleCount returns the number of handles in the process table.
func (pr *Proc) HandleCount() int {
	tbl, err := pr.p.Table()
	if err != nil {
		return 0
	}
	return tbl.Count()
}

// Kernel returns the owning kernel.
func (pr *Proc) Kernel() *Kernel { return pr.k }

// done records a syscall completion with the kernel observer.
func (pr *Proc) done(op string, err error) error {
	pr.k.observer.OnSyscall(op, GetCode(err))
	return err
}

// table returns the process handle table, failing once the process is
// dead.
func (pr *Proc) table(op string) (*object.Table, error) {
	tbl, err := pr.p.Table()
	if err != nil {
		return nil, WrapError(op, pr.Koid(), err)
	}
	return tbl, nil
}

// badHandle routes a bad-handle error through the process policy: IGNORE
// returns it, LOG logs first, EXIT logs and kills the process.
func (pr *Proc) badHandle(op string, h Handle) error {
	pr.k.metrics.BadHandleHits.Add(1)
	err := NewHandleError(op, pr.Koid(), h, ErrBadHandle)
	switch pr.p.BadHandlePolicy() {
	case task.PolicyIgnore:
	case task.PolicyLog:
		logging.Warn("bad handle", "op", op, "pid", pr.Koid(), "handle", h)
	case task.PolicyExit:
		logging.Error("bad handle, killing process", "op", op, "pid", pr.Koid(), "handle", h)
		pr.k.metrics.PolicyKills.Add(1)
		pr.p.Kill()
	}
	return err
}

// lookup resolves a handle value and verifies required rights, applying
// the bad-handle policy on lookup failure.
func (pr *Proc) lookup(op string, h Handle, required Rights) (*object.Handle, error) {
	tbl, err := pr.table(op)
	if err != nil {
		return nil, err
	}
	handle, err := tbl.LookupRights(h, required)
	if err != nil {
		if errors.Is(err, ErrBadHandle) {
			return nil, pr.badHandle(op, h)
		}
		return nil, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)}
	}
	return handle, nil
}

// lookupTyped additionally checks the dispatcher type tag.
func (pr *Proc) lookupTyped(op string, h Handle, required Rights, typ ObjectType) (*object.Handle, error) {
	handle, err := pr.lookup(op, h, required)
	if err != nil {
		return nil, err
	}
	if handle.Dispatcher().Type() != typ {
		return nil, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: ErrWrongType}
	}
	return handle, nil
}

// addHandle allocates an arena handle for d and installs it in the
// process table, returning the encoded value.
func (pr *Proc) addHandle(op string, d object.Dispatcher, rights Rights) (Handle, error) {
	tbl, err := pr.table(op)
	if err != nil {
		return HandleInvalid, err
	}
	h, err := pr.k.arena.New(d, rights)
	if err != nil {
		return HandleInvalid, &Error{Op: op, Proc: pr.Koid(), Code: GetCode(err)}
	}
	pr.k.metrics.HandlesCreated.Add(1)
	return tbl.Add(h), nil
}

// procFor resolves a handle to a process dispatcher's caller context.
func (pr *Proc) procFor(op string, h Handle, required Rights) (*Proc, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeProcess)
	if err != nil {
		return nil, err
	}
	target, ok := handle.Dispatcher().(*task.Process)
	if !ok {
		panic("kobj: process type tag on non-process dispatcher")
	}
	tp, ok := pr.k.Process(target.Koid())
	if !ok {
		return nil, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: ErrBadState}
	}
	return tp, nil
}
