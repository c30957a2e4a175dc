package kobj

import (
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/task"
)

// ProcessCreate creates a child process in INITIAL and returns a handle
// to it in the caller's table.
func (pr *Proc) ProcessCreate(name string) (Handle, error) {
	const op = "process_create"
	child, err := pr.k.CreateProcess(name)
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	h, err := pr.addHandle(op, child.p, object.DefaultRights(TypeProcess))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// ProcessStart moves the process behind ph from INITIAL to RUNNING and
// starts the thread behind th at entry with two opaque arguments.
func (pr *Proc) ProcessStart(ph, th Handle, entry EntryFunc, arg1, arg2 uint64) error {
	const op = "process_start"
	target, err := pr.procFor(op, ph, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	thread, err := pr.threadFor(op, th, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if thread.Process() != target.p {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: th, Code: ErrInvalidArgs, Msg: "thread belongs to another process"})
	}
	if err := target.p.Start(thread, entry, arg1, arg2); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: ph, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// ThreadCreate creates a thread in the process behind ph and returns its
// handle.
func (pr *Proc) ThreadCreate(ph Handle, name string) (Handle, error) {
	const op = "thread_create"
	target, err := pr.procFor(op, ph, RightWrite)
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	thread, err := task.NewThread(target.p, name)
	if err != nil {
		return HandleInvalid, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: ph, Code: GetCode(err)})
	}
	h, err := pr.addHandle(op, thread, object.DefaultRights(TypeThread))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	pr.k.metrics.ThreadsCreated.Add(1)
	return h, pr.done(op, nil)
}

// ThreadStart launches a thread in an already-running process.
func (pr *Proc) ThreadStart(th Handle, entry EntryFunc, arg1, arg2 uint64) error {
	const op = "thread_start"
	thread, err := pr.threadFor(op, th, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if thread.Process().State() != ProcessRunning {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: th, Code: ErrBadState})
	}
	if err := thread.Start(entry, arg1, arg2); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: th, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// TaskKill terminates the process or thread behind h.
func (pr *Proc) TaskKill(h Handle) error {
	const op = "task_kill"
	handle, err := pr.lookup(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	switch d := handle.Dispatcher().(type) {
	case *task.Process:
		if target, ok := pr.k.Process(d.Koid()); ok {
			target.p.Kill()
		} else {
			d.Kill()
		}
	case *task.Thread:
		d.Kill()
	default:
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: ErrWrongType})
	}
	return pr.done(op, nil)
}

// SetExceptionPort installs a message-pipe end as the exception port of
// the process or thread behind target. The kernel writes reports on the
// given endpoint; the handler reads the peer end. At most one port per
// scope; replacing requires clearing first.
func (pr *Proc) SetExceptionPort(target, pipe Handle, key uint64) error {
	const op = "set_exception_port"
	scope, err := pr.exceptionScopeFor(op, target)
	if err != nil {
		return pr.done(op, err)
	}
	endpoint, err := pr.msgPipeFor(op, pipe, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := scope.Set(&task.ExceptionPort{Key: key, Pipe: endpoint}); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: target, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// ClearExceptionPort removes the exception port of the process or thread
// behind target.
func (pr *Proc) ClearExceptionPort(target Handle) error {
	const op = "clear_exception_port"
	scope, err := pr.exceptionScopeFor(op, target)
	if err != nil {
		return pr.done(op, err)
	}
	scope.Clear()
	return pr.done(op, nil)
}

// SetSystemExceptionPort installs the system-scope exception port.
func (pr *Proc) SetSystemExceptionPort(pipe Handle, key uint64) error {
	const op = "set_system_exception_port"
	endpoint, err := pr.msgPipeFor(op, pipe, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := pr.k.system.Set(&task.ExceptionPort{Key: key, Pipe: endpoint}); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// ClearSystemExceptionPort removes the system-scope exception port.
func (pr *Proc) ClearSystemExceptionPort() error {
	const op = "clear_system_exception_port"
	pr.k.system.Clear()
	return pr.done(op, nil)
}

// RaiseException delivers a fault on behalf of the thread behind th,
// blocking the caller the way a real fault blocks the faulting thread:
// thread scope first, then process, then system. Unhandled faults kill
// the thread.
func (pr *Proc) RaiseException(th Handle, subtype uint32, pc, faultAddr uint64) error {
	const op = "raise_exception"
	thread, err := pr.threadFor(op, th, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	pr.k.metrics.ExceptionsDelivered.Add(1)
	if err := thread.Fault(subtype, pc, faultAddr); err != nil {
		pr.k.metrics.ExceptionsUnhandled.Add(1)
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: th, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// ResumeThread completes the outstanding exception of the thread behind
// th with a handled / not-handled verdict.
func (pr *Proc) ResumeThread(th Handle, handled bool) error {
	const op = "thread_resume"
	thread, err := pr.threadFor(op, th, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := thread.Resume(handled); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: th, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

func (pr *Proc) exceptionScopeFor(op string, target Handle) (*task.ExceptionScope, error) {
	handle, err := pr.lookup(op, target, RightWrite)
	if err != nil {
		return nil, err
	}
	switch d := handle.Dispatcher().(type) {
	case *task.Process:
		return d.ExceptionScope(), nil
	case *task.Thread:
		return d.ExceptionScope(), nil
	default:
		return nil, &Error{Op: op, Proc: pr.Koid(), Handle: target, Code: ErrWrongType}
	}
}

func (pr *Proc) threadFor(op string, h Handle, required Rights) (*task.Thread, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeThread)
	if err != nil {
		return nil, err
	}
	thread, ok := handle.Dispatcher().(*task.Thread)
	if !ok {
		panic("kobj: thread type tag on foreign dispatcher")
	}
	return thread, nil
}
