package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

func TestExceptionReportRoundTrip(t *testing.T) {
	in := &ExceptionReport{
		Type: ExceptionPageFault,
		Context: ExceptionContext{
			ArchID:    ArchIDGo,
			PID:       3,
			TID:       9,
			Subtype:   ExceptionPageFault,
			PC:        0xdeadbeef,
			FaultAddr: 0x1000,
		},
	}
	in.Context.Regs[0] = 0x11
	in.Context.Regs[15] = 0xff

	out, err := UnmarshalExceptionReport(in.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}

	if _, err := UnmarshalExceptionReport(make([]byte, 10)); !errors.Is(err, status.ErrBufferTooSmall) {
		t.Errorf("short buffer = %v, want BUFFER_TOO_SMALL", err)
	}
}

func TestExceptionScopeSinglePort(t *testing.T) {
	arena := object.NewArena(64)
	e0, e1 := dispatcher.NewMsgPipePair(arena)
	_ = e1
	var scope ExceptionScope

	if err := scope.Set(&ExceptionPort{Key: 1, Pipe: e0}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := scope.Set(&ExceptionPort{Key: 2, Pipe: e0}); !errors.Is(err, status.ErrAlreadyBound) {
		t.Errorf("second Set = %v, want ALREADY_BOUND", err)
	}
	scope.Clear()
	if err := scope.Set(&ExceptionPort{Key: 2, Pipe: e0}); err != nil {
		t.Errorf("Set after Clear failed: %v", err)
	}
}

// readReport drains one exception report from the handler's end of a
// pipe.
func readReport(t *testing.T, end *dispatcher.MsgPipe) *ExceptionReport {
	t.Helper()
	if _, _, err := end.BeginRead(); err != nil {
		t.Fatalf("BeginRead failed: %v", err)
	}
	pkt, err := end.AcceptRead()
	if err != nil {
		t.Fatalf("AcceptRead failed: %v", err)
	}
	defer pkt.Release()
	report, err := UnmarshalExceptionReport(pkt.Data)
	if err != nil {
		t.Fatalf("bad report: %v", err)
	}
	return report
}

func TestFaultDeliveredToProcessPort(t *testing.T) {
	arena, p := newTestProcess(t)
	kernelEnd, handlerEnd := dispatcher.NewMsgPipePair(arena)
	if err := p.ExceptionScope().Set(&ExceptionPort{Key: 5, Pipe: kernelEnd}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	th, _ := NewThread(p, "main")
	faultDone := make(chan error, 1)
	if err := p.Start(th, func(ctx context.Context, a1, a2 uint64) {
		faultDone <- th.Fault(ExceptionPageFault, 0x4000, 0x12345)
	}, 0, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The handler sees the packet promptly.
	deadline := time.After(time.Second)
	for handlerEnd.QueuedCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no exception report arrived")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	report := readReport(t, handlerEnd)
	if report.Context.PID != p.Koid() || report.Context.TID != th.Koid() {
		t.Errorf("report ids = (%d, %d), want (%d, %d)",
			report.Context.PID, report.Context.TID, p.Koid(), th.Koid())
	}
	if report.Context.Subtype != ExceptionPageFault || report.Context.FaultAddr != 0x12345 {
		t.Errorf("report context = %+v", report.Context)
	}

	// The faulting thread is blocked until resumed.
	select {
	case <-faultDone:
		t.Fatal("fault returned before resume")
	case <-time.After(10 * time.Millisecond):
	}
	if err := th.Resume(true); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if err := <-faultDone; err != nil {
		t.Errorf("handled fault returned %v", err)
	}
}

func TestFaultPropagationOrder(t *testing.T) {
	arena, p := newTestProcess(t)

	// Thread-scope and process-scope ports both installed: the thread
	// port is tried first; NOT_HANDLED propagates to the process port.
	tKernel, tHandler := dispatcher.NewMsgPipePair(arena)
	pKernel, pHandler := dispatcher.NewMsgPipePair(arena)

	th, _ := NewThread(p, "main")
	if err := th.ExceptionScope().Set(&ExceptionPort{Key: 1, Pipe: tKernel}); err != nil {
		t.Fatalf("thread Set failed: %v", err)
	}
	if err := p.ExceptionScope().Set(&ExceptionPort{Key: 2, Pipe: pKernel}); err != nil {
		t.Fatalf("process Set failed: %v", err)
	}

	faultDone := make(chan error, 1)
	p.Start(th, func(ctx context.Context, a1, a2 uint64) {
		faultDone <- th.Fault(ExceptionSwBreakpoint, 0x100, 0)
	}, 0, 0)

	waitQueued := func(end *dispatcher.MsgPipe) {
		t.Helper()
		for i := 0; i < 1000 && end.QueuedCount() == 0; i++ {
			time.Sleep(time.Millisecond)
		}
		if end.QueuedCount() == 0 {
			t.Fatal("expected report never arrived")
		}
	}

	waitQueued(tHandler)
	if pHandler.QueuedCount() != 0 {
		t.Fatal("process port received report before thread port declined")
	}
	readReport(t, tHandler)
	if err := th.Resume(false); err != nil {
		t.Fatalf("Resume(not-handled) failed: %v", err)
	}

	waitQueued(pHandler)
	readReport(t, pHandler)
	if err := th.Resume(true); err != nil {
		t.Fatalf("Resume(handled) failed: %v", err)
	}
	if err := <-faultDone; err != nil {
		t.Errorf("fault returned %v after process-scope handling", err)
	}
}

func TestUnhandledFaultKillsThread(t *testing.T) {
	_, p := newTestProcess(t)
	th, _ := NewThread(p, "main")
	faultErr := make(chan error, 1)
	p.Start(th, func(ctx context.Context, a1, a2 uint64) {
		faultErr <- th.Fault(ExceptionGeneral, 0, 0)
	}, 0, 0)

	// No port anywhere: the fault fails and the thread dies; the only
	// thread dying takes the process with it.
	if err := <-faultErr; !errors.Is(err, status.ErrBadState) {
		t.Errorf("unhandled fault = %v, want BAD_STATE", err)
	}
	<-th.Done()
	waitForState(t, p, ProcessDead)
}

func TestResumeWithoutPendingFault(t *testing.T) {
	_, p := newTestProcess(t)
	th, _ := NewThread(p, "main")
	if err := th.Resume(true); !errors.Is(err, status.ErrBadState) {
		t.Errorf("Resume with no fault = %v, want BAD_STATE", err)
	}
}
