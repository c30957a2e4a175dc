package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

func newTestProcess(t *testing.T) (*object.Arena, *Process) {
	t.Helper()
	arena := object.NewArena(256)
	p, err := NewProcess(arena, "test-proc", 0x40000000, &ExceptionScope{}, nil)
	if err != nil {
		t.Fatalf("NewProcess failed: %v", err)
	}
	return arena, p
}

func waitForState(t *testing.T, p *Process, want ProcessState) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if p.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("process state = %v, want %v", p.State(), want)
}

func TestProcessLifecycle(t *testing.T) {
	_, p := newTestProcess(t)
	if p.State() != ProcessInitial {
		t.Fatalf("initial state = %v", p.State())
	}

	th, err := NewThread(p, "main")
	if err != nil {
		t.Fatalf("NewThread failed: %v", err)
	}

	ran := make(chan struct{})
	err = p.Start(th, func(ctx context.Context, arg1, arg2 uint64) {
		if arg1 != 11 || arg2 != 22 {
			t.Errorf("entry args = (%d, %d), want (11, 22)", arg1, arg2)
		}
		close(ran)
	}, 11, 22)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-ran
	<-th.Done()

	// Last thread gone: the process is dead and SIGNALED.
	waitForState(t, p, ProcessDead)
	if st := p.StateTracker().State(); st.Satisfied&signal.Signaled == 0 {
		t.Error("dead process not SIGNALED")
	}
	if _, err := p.Table(); !errors.Is(err, status.ErrBadState) {
		t.Errorf("Table() on dead process = %v, want BAD_STATE", err)
	}
}

func TestProcessStartOnlyFromInitial(t *testing.T) {
	_, p := newTestProcess(t)
	th, _ := NewThread(p, "main")
	block := make(chan struct{})
	if err := p.Start(th, func(ctx context.Context, a1, a2 uint64) { <-block }, 0, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	th2, err := NewThread(p, "second")
	if err != nil {
		t.Fatalf("NewThread on running process failed: %v", err)
	}
	if err := p.Start(th2, func(ctx context.Context, a1, a2 uint64) {}, 0, 0); !errors.Is(err, status.ErrBadState) {
		t.Errorf("second Start = %v, want BAD_STATE", err)
	}
	close(block)
}

func TestProcessExitKillsThreads(t *testing.T) {
	_, p := newTestProcess(t)
	th, _ := NewThread(p, "main")
	if err := p.Start(th, func(ctx context.Context, a1, a2 uint64) {
		<-ctx.Done()
	}, 0, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	p.Exit(42)
	waitForState(t, p, ProcessDead)
	if p.Retcode() != 42 {
		t.Errorf("retcode = %d, want 42", p.Retcode())
	}
	if th.State() != ThreadDead {
		t.Errorf("thread state = %v, want DEAD", th.State())
	}
}

func TestProcessDyingRejectsThreads(t *testing.T) {
	_, p := newTestProcess(t)
	th, _ := NewThread(p, "main")
	started := make(chan struct{})
	p.Start(th, func(ctx context.Context, a1, a2 uint64) {
		close(started)
		<-ctx.Done()
		// Hold the process in DYING briefly.
		time.Sleep(10 * time.Millisecond)
	}, 0, 0)
	<-started

	p.Kill()
	if _, err := NewThread(p, "late"); !errors.Is(err, status.ErrBadState) {
		t.Errorf("NewThread on dying process = %v, want BAD_STATE", err)
	}
	waitForState(t, p, ProcessDead)
	if p.Retcode() != RetcodeKilled {
		t.Errorf("retcode = %d, want %d", p.Retcode(), RetcodeKilled)
	}
}

func TestProcessDeathDrainsHandles(t *testing.T) {
	arena, p := newTestProcess(t)
	tbl, err := p.Table()
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	before := arena.LiveCount()
	for i := 0; i < 4; i++ {
		h, err := arena.New(p, object.DefaultRights(object.TypeProcess))
		if err != nil {
			t.Fatalf("arena.New failed: %v", err)
		}
		tbl.Add(h)
	}
	if arena.LiveCount() != before+4 {
		t.Fatal("handles not allocated")
	}

	p.Exit(0)
	waitForState(t, p, ProcessDead)
	if arena.LiveCount() != before {
		t.Errorf("arena live = %d after death, want %d", arena.LiveCount(), before)
	}
}

func TestProcessDeathWakesFutexes(t *testing.T) {
	_, p := newTestProcess(t)
	word := new(int32)

	done := make(chan error, 1)
	go func() {
		done <- p.Futexes().Wait(context.Background(), word, 0, time.Second)
	}()
	for i := 0; i < 100 && p.Futexes().WaiterCount(word) == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	p.Exit(0)
	if err := <-done; !errors.Is(err, status.ErrCanceled) {
		t.Errorf("futex wait across process death = %v, want CANCELLED", err)
	}
}

func TestBadHandlePolicyValidation(t *testing.T) {
	_, p := newTestProcess(t)
	for _, pol := range []BadHandlePolicy{PolicyIgnore, PolicyLog, PolicyExit} {
		if err := p.SetBadHandlePolicy(pol); err != nil {
			t.Errorf("SetBadHandlePolicy(%d) = %v", pol, err)
		}
	}
	if err := p.SetBadHandlePolicy(BadHandlePolicy(7)); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("out-of-range policy = %v, want INVALID_ARGS", err)
	}
}

func TestProcessNameLimit(t *testing.T) {
	arena := object.NewArena(16)
	long := make([]byte, 64)
	if _, err := NewProcess(arena, string(long), 0, &ExceptionScope{}, nil); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("long name = %v, want INVALID_ARGS", err)
	}
}
