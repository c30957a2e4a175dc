package task

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/logging"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// ProcessState is the process lifecycle.
type ProcessState int

const (
	ProcessInitial ProcessState = iota
	ProcessRunning
	ProcessDying
	ProcessDead
)

func (s ProcessState) String() string {
	switch s {
	case ProcessInitial:
		return "INITIAL"
	case ProcessRunning:
		return "RUNNING"
	case ProcessDying:
		return "DYING"
	default:
		return "DEAD"
	}
}

// BadHandlePolicy selects what a process does when one of its calls
// presents a bad handle.
type BadHandlePolicy int

const (
	PolicyIgnore BadHandlePolicy = iota
	PolicyLog
	PolicyExit
)

// RetcodeKilled is the exit code recorded for killed processes.
const RetcodeKilled = -1024

// Process owns a handle table, an address space, a thread list, a futex
// context, and an optional exception port.
type Process struct {
	object.Base
	name string

	mu      sync.Mutex
	state   ProcessState
	retcode int
	threads map[uint64]*Thread

	table   *object.Table
	aspace  *AddressSpace
	futexes *FutexContext
	tracker *signal.StateTracker
	excPort ExceptionScope
	system  *ExceptionScope
	policy  BadHandlePolicy

	arena  *object.Arena
	onDead func(*Process)
}

// NewProcess creates a process in INITIAL with a fresh handle table keyed
// by secret. system is the shared system exception scope; onDead runs
// after the process finishes dying (outside its locks).
func NewProcess(arena *object.Arena, name string, secret uint32, system *ExceptionScope, onDead func(*Process)) (*Process, error) {
	if len(name) > constants.MaxNameLength {
		return nil, status.ErrInvalidArgs
	}
	p := &Process{
		Base:    object.NewBase(object.TypeProcess),
		name:    name,
		state:   ProcessInitial,
		threads: make(map[uint64]*Thread),
		aspace:  NewAddressSpace(),
		futexes: NewFutexContext(),
		tracker: signal.New(0, signal.Signaled),
		system:  system,
		arena:   arena,
		onDead:  onDead,
	}
	p.table = object.NewTable(arena, p.Koid(), secret)
	return p, nil
}

// StateTracker implements object.Dispatcher. SIGNALED fires on death.
func (p *Process) StateTracker() *signal.StateTracker { return p.tracker }

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// State returns the current lifecycle state.
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Retcode returns the recorded exit code; meaningful once DYING.
func (p *Process) Retcode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retcode
}

// Table returns the process handle table, or an error once the process is
// dead: no handle operation may succeed after DEAD.
func (p *Process) Table() (*object.Table, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProcessDead {
		return nil, status.ErrBadState
	}
	return p.table, nil
}

// Aspace returns the address space.
func (p *Process) Aspace() *AddressSpace { return p.aspace }

// Futexes returns the futex context.
func (p *Process) Futexes() *FutexContext { return p.futexes }

// Arena returns the global handle arena.
func (p *Process) Arena() *object.Arena { return p.arena }

// BadHandlePolicy returns the process's policy.
func (p *Process) BadHandlePolicy() BadHandlePolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// SetBadHandlePolicy installs a policy; out-of-range values are rejected.
func (p *Process) SetBadHandlePolicy(policy BadHandlePolicy) error {
	switch policy {
	case PolicyIgnore, PolicyLog, PolicyExit:
	default:
		return status.ErrInvalidArgs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
	return nil
}

// ExceptionScope returns the process-scope exception slot.
func (p *Process) ExceptionScope() *ExceptionScope { return &p.excPort }

// SystemScope returns the shared system exception slot.
func (p *Process) SystemScope() *ExceptionScope { return p.system }

// addThread registers a freshly created thread. Threads may not join a
// dying or dead process.
func (p *Process) addThread(t *Thread) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProcessDying || p.state == ProcessDead {
		return status.ErrBadState
	}
	p.threads[t.Koid()] = t
	return nil
}

// removeThread unlinks an exited thread. A running process whose last
// thread exits dies with it; a dying process completes its death on the
// last unlink.
func (p *Process) removeThread(t *Thread) {
	p.mu.Lock()
	delete(p.threads, t.Koid())
	dead := len(p.threads) == 0 &&
		(p.state == ProcessDying || p.state == ProcessRunning)
	if dead {
		p.state = ProcessDead
	}
	p.mu.Unlock()

	if dead {
		p.finishDead()
	}
}

// ThreadCount returns the live thread count.
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// Start moves the process from INITIAL to RUNNING and starts its first
// thread at entry with two opaque arguments.
func (p *Process) Start(t *Thread, entry EntryFunc, arg1, arg2 uint64) error {
	p.mu.Lock()
	if p.state != ProcessInitial {
		p.mu.Unlock()
		return status.ErrBadState
	}
	if _, ok := p.threads[t.Koid()]; !ok {
		p.mu.Unlock()
		return status.ErrBadState
	}
	p.state = ProcessRunning
	p.mu.Unlock()

	logging.Debug("process starting", "pid", p.Koid(), "name", p.name)
	return t.Start(entry, arg1, arg2)
}

// Exit records code and begins dying: every thread is asked to stop, and
// the process becomes DEAD when the last one unlinks.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	if p.state == ProcessDying || p.state == ProcessDead {
		p.mu.Unlock()
		return
	}
	p.retcode = code
	p.state = ProcessDying
	threads := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		threads = append(threads, t)
	}
	dead := len(threads) == 0
	if dead {
		p.state = ProcessDead
	}
	p.mu.Unlock()

	logging.Debug("process dying", "pid", p.Koid(), "retcode", code)
	for _, t := range threads {
		t.Kill()
	}
	if dead {
		p.finishDead()
	}
}

// Kill forcibly terminates the process.
func (p *Process) Kill() {
	p.Exit(RetcodeKilled)
}

// finishDead runs the DEAD-state teardown: drain and destroy the handle
// table, destroy the address space, release futex waiters, raise
// SIGNALED, and notify the exception port of process exit. Runs outside
// the process lock.
func (p *Process) finishDead() {
	drained := p.table.Drain()
	for _, h := range drained {
		p.arena.Delete(h)
	}
	p.aspace.Destroy()
	p.futexes.WakeAll()
	p.tracker.UpdateSatisfied(0, signal.Signaled)

	report := &ExceptionReport{
		Type: ExceptionProcessExit,
		Context: ExceptionContext{
			ArchID:  ArchIDGo,
			PID:     p.Koid(),
			Subtype: ExceptionProcessExit,
		},
	}
	p.excPort.deliver(report)

	logging.Info("process dead", "pid", p.Koid(), "name", p.name, "retcode", p.retcode)
	if p.onDead != nil {
		p.onDead(p)
	}
}
