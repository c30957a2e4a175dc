package task

import (
	"context"
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/logging"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

// ThreadState is the thread lifecycle.
type ThreadState int

const (
	ThreadInitial ThreadState = iota
	ThreadRunning
	ThreadDying
	ThreadDead
)

func (s ThreadState) String() string {
	switch s {
	case ThreadInitial:
		return "INITIAL"
	case ThreadRunning:
		return "RUNNING"
	case ThreadDying:
		return "DYING"
	default:
		return "DEAD"
	}
}

// EntryFunc is a thread body. The context is cancelled when the thread is
// killed; blocking kernel calls made with it convert to INTERRUPTED.
type EntryFunc func(ctx context.Context, arg1, arg2 uint64)

// Thread is a goroutine-backed kernel thread bound to one process for
// life. Its tracker raises SIGNALED on exit.
type Thread struct {
	object.Base
	proc *Process
	name string

	mu      sync.Mutex
	state   ThreadState
	regs    [NumRegisters]uint64
	pc      uint64
	pending *waiter.Event // outstanding exception resume slot

	tracker *signal.StateTracker
	excPort ExceptionScope
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewThread creates a thread in INITIAL and links it into p. Fails if p
// is dying or dead.
func NewThread(p *Process, name string) (*Thread, error) {
	if len(name) > constants.MaxNameLength {
		return nil, status.ErrInvalidArgs
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		Base:    object.NewBase(object.TypeThread),
		proc:    p,
		name:    name,
		state:   ThreadInitial,
		tracker: signal.New(0, signal.Signaled),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if err := p.addThread(t); err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

// StateTracker implements object.Dispatcher.
func (t *Thread) StateTracker() *signal.StateTracker { return t.tracker }

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.proc }

// State returns the lifecycle state.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Context returns the thread's cancellation context for blocking calls.
func (t *Thread) Context() context.Context { return t.ctx }

// ExceptionScope returns the thread-scope exception slot.
func (t *Thread) ExceptionScope() *ExceptionScope { return &t.excPort }

// Start launches the thread body with two opaque arguments, which are
// also placed in the initial register file.
func (t *Thread) Start(entry EntryFunc, arg1, arg2 uint64) error {
	if entry == nil {
		return status.ErrInvalidArgs
	}
	t.mu.Lock()
	if t.state != ThreadInitial {
		t.mu.Unlock()
		return status.ErrBadState
	}
	t.state = ThreadRunning
	t.regs[0] = arg1
	t.regs[1] = arg2
	t.mu.Unlock()

	logging.Debug("thread starting", "tid", t.Koid(), "pid", t.proc.Koid())
	go func() {
		entry(t.ctx, arg1, arg2)
		t.exit()
	}()
	return nil
}

// Kill asks the thread to stop: its context is cancelled, converting
// outstanding blocking calls to INTERRUPTED. The goroutine exits on its
// own once it observes the cancellation.
func (t *Thread) Kill() {
	t.mu.Lock()
	if t.state == ThreadRunning {
		t.state = ThreadDying
	}
	pending := t.pending
	t.mu.Unlock()

	if pending != nil {
		pending.Signal(waiter.ResultInterrupted, 0)
	}
	t.cancel()
}

// exit finishes the thread: SIGNALED fires and the process unlinks it.
func (t *Thread) exit() {
	t.mu.Lock()
	if t.state == ThreadDead {
		t.mu.Unlock()
		return
	}
	t.state = ThreadDead
	t.mu.Unlock()

	t.cancel()
	t.tracker.UpdateSatisfied(0, signal.Signaled)
	close(t.done)
	t.proc.removeThread(t)
	logging.Debug("thread dead", "tid", t.Koid(), "pid", t.proc.Koid())
}

// Done is closed when the thread has exited.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Registers returns a snapshot of the synthetic register file.
func (t *Thread) Registers() [NumRegisters]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs
}

// Exception resume verdicts.
const (
	ExceptionHandled    uint64 = 1
	ExceptionNotHandled uint64 = 0
)

// Fault delivers an exception on behalf of this thread, blocking it until
// a handler resumes it or no scope handles it. Delivery order is thread,
// then process, then system. An unhandled fault kills the thread.
func (t *Thread) Fault(subtype uint32, pc, faultAddr uint64) error {
	t.mu.Lock()
	t.pc = pc
	regs := t.regs
	t.mu.Unlock()

	report := &ExceptionReport{
		Type: subtype,
		Context: ExceptionContext{
			ArchID:    ArchIDGo,
			PID:       t.proc.Koid(),
			TID:       t.Koid(),
			Subtype:   subtype,
			PC:        pc,
			FaultAddr: faultAddr,
			Regs:      regs,
		},
	}

	scopes := []*ExceptionScope{&t.excPort, &t.proc.excPort, t.proc.system}
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		// Arm the resume slot before the report becomes visible, so a
		// handler that reads and resumes immediately cannot miss it.
		ev := waiter.NewEvent()
		t.mu.Lock()
		t.pending = ev
		t.mu.Unlock()

		if !scope.deliver(report) {
			t.mu.Lock()
			t.pending = nil
			t.mu.Unlock()
			continue
		}

		res, verdict := ev.Wait(t.ctx, waiter.TimeoutInfinite)

		t.mu.Lock()
		t.pending = nil
		t.mu.Unlock()

		if res == waiter.ResultInterrupted {
			return status.ErrInterrupted
		}
		if verdict == ExceptionHandled {
			return nil
		}
		// Not handled: fall through to the next scope.
	}

	// No scope handled the fault; the thread dies.
	logging.Warn("unhandled exception", "tid", t.Koid(), "pid", t.proc.Koid(), "subtype", subtype)
	t.Kill()
	return status.ErrBadState
}

// Resume completes the thread's outstanding exception with a verdict.
func (t *Thread) Resume(handled bool) error {
	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()
	if pending == nil {
		return status.ErrBadState
	}
	verdict := ExceptionNotHandled
	if handled {
		verdict = ExceptionHandled
	}
	if !pending.Signal(waiter.ResultSatisfied, verdict) {
		return status.ErrBadState
	}
	return nil
}
