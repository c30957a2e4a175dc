package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

var defaultEventRights = object.DefaultRights(object.TypeEvent)

func newArena(t *testing.T) *object.Arena {
	t.Helper()
	return object.NewArena(64)
}

func TestEventUserSignal(t *testing.T) {
	ev := NewEvent()
	if err := ev.UserSignal(0, signal.Signaled); err != nil {
		t.Fatalf("UserSignal(SIGNALED) failed: %v", err)
	}
	if st := ev.StateTracker().State(); st.Satisfied&signal.Signaled == 0 {
		t.Error("SIGNALED not satisfied after user signal")
	}
	if err := ev.UserSignal(signal.Signaled, 0); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if st := ev.StateTracker().State(); st.Satisfied != 0 {
		t.Errorf("satisfied = %v after clear", st.Satisfied)
	}

	// Non-user bits are rejected.
	if err := ev.UserSignal(0, signal.Readable); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("UserSignal(READABLE) = %v, want INVALID_ARGS", err)
	}
}

func TestEventPairPeerClosed(t *testing.T) {
	a := newArena(t)
	e0, e1 := NewEventPair()
	h0, _ := a.New(e0, defaultEventRights)
	h1, _ := a.New(e1, defaultEventRights)
	_ = h0

	if e0.PeerKoid() != e1.Koid() || e1.PeerKoid() != e0.Koid() {
		t.Error("peer koids miswired")
	}
	a.Delete(h1)
	if st := e0.StateTracker().State(); st.Satisfied&signal.PeerClosed == 0 {
		t.Error("survivor missing PEER_CLOSED")
	}
}

func TestVMOReadWrite(t *testing.T) {
	v, err := NewVMO(64)
	if err != nil {
		t.Fatalf("NewVMO failed: %v", err)
	}
	if v.Size() != 64 {
		t.Errorf("Size = %d, want 64", v.Size())
	}

	n, err := v.Write([]byte("vmo bytes"), 8)
	if err != nil || n != 9 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	buf := make([]byte, 9)
	n, err = v.Read(buf, 8)
	if err != nil || n != 9 || string(buf) != "vmo bytes" {
		t.Fatalf("Read = (%d, %v, %q)", n, err, buf)
	}

	if _, err := v.Read(buf, 100); !errors.Is(err, status.ErrOutOfRange) {
		t.Errorf("read past end = %v, want OUT_OF_RANGE", err)
	}
	// Short tail reads are fine.
	n, err = v.Read(make([]byte, 32), 60)
	if err != nil || n != 4 {
		t.Errorf("tail read = (%d, %v), want 4 bytes", n, err)
	}
}

func TestVMOResize(t *testing.T) {
	v, _ := NewVMO(16)
	v.Write(bytes.Repeat([]byte{0xAA}, 16), 0)

	if err := v.SetSize(8); err != nil {
		t.Fatalf("shrink failed: %v", err)
	}
	if v.Size() != 8 {
		t.Errorf("Size = %d after shrink", v.Size())
	}
	if err := v.SetSize(32); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	buf := make([]byte, 24)
	v.Read(buf, 8)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("grown region byte %d = %#x, want 0", i, b)
		}
	}
}

func TestVMOOpRange(t *testing.T) {
	v, _ := NewVMO(32)
	v.Write(bytes.Repeat([]byte{0xFF}, 32), 0)

	if err := v.OpRange(VMOOpZero, 8, 8); err != nil {
		t.Fatalf("OpRange(zero) failed: %v", err)
	}
	buf := make([]byte, 32)
	v.Read(buf, 0)
	for i := 8; i < 16; i++ {
		if buf[i] != 0 {
			t.Errorf("byte %d not zeroed", i)
		}
	}
	if buf[0] != 0xFF || buf[31] != 0xFF {
		t.Error("zero range touched bytes outside the range")
	}
	if err := v.OpRange(VMOOpCommit, 0, 32); err != nil {
		t.Errorf("OpRange(commit) failed: %v", err)
	}
	if err := v.OpRange(VMOOpZero, 24, 16); !errors.Is(err, status.ErrOutOfRange) {
		t.Errorf("out-of-range op = %v, want OUT_OF_RANGE", err)
	}
}

func TestIoMappingLifecycle(t *testing.T) {
	a := newArena(t)
	v, _ := NewVMO(64)
	m, err := NewIoMapping(v, 16, 32)
	if err != nil {
		t.Fatalf("NewIoMapping failed: %v", err)
	}
	h, _ := a.New(m, defaultEventRights)

	win := m.Buffer()
	if len(win) != 32 {
		t.Fatalf("window = %d bytes, want 32", len(win))
	}
	copy(win, "through the mapping")
	buf := make([]byte, 19)
	v.Read(buf, 16)
	if string(buf) != "through the mapping" {
		t.Errorf("vmo sees %q through mapping", buf)
	}

	// The uniform on-zero-handles hook releases the window.
	a.Delete(h)
	if m.Buffer() != nil {
		t.Error("window survives last handle close")
	}

	if _, err := NewIoMapping(v, 60, 16); !errors.Is(err, status.ErrOutOfRange) {
		t.Errorf("mapping past end = %v, want OUT_OF_RANGE", err)
	}
}

func TestLogRing(t *testing.T) {
	buf := NewLogBuffer(4)
	writer := NewLog(buf, 0)
	reader := NewLog(buf, LogFlagReadable)

	if err := writer.Write(1, 2, []byte("first")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if st := reader.StateTracker().State(); st.Satisfied&signal.Readable == 0 {
		t.Error("reader not readable after append")
	}

	rec, err := reader.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(rec.Data) != "first" || rec.PID != 1 || rec.TID != 2 {
		t.Errorf("record = (%q, pid %d, tid %d)", rec.Data, rec.PID, rec.TID)
	}
	if _, err := reader.Read(); !errors.Is(err, status.ErrShouldWait) {
		t.Errorf("read past end = %v, want SHOULD_WAIT", err)
	}

	// Writers cannot read.
	if _, err := writer.Read(); !errors.Is(err, status.ErrAccessDenied) {
		t.Errorf("write-only read = %v, want ACCESS_DENIED", err)
	}
}

func TestLogRingWrapDropsOldest(t *testing.T) {
	buf := NewLogBuffer(2)
	reader := NewLog(buf, LogFlagReadable)
	for i := byte('a'); i <= 'd'; i++ {
		if err := buf.Append(0, 0, []byte{i}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	// Only the newest two records survive.
	rec, err := reader.Read()
	if err != nil || rec.Data[0] != 'c' {
		t.Errorf("first surviving record = (%v, %v), want 'c'", rec.Data, err)
	}
	rec, err = reader.Read()
	if err != nil || rec.Data[0] != 'd' {
		t.Errorf("second surviving record = (%v, %v), want 'd'", rec.Data, err)
	}
}

func TestInterruptWaitTrigger(t *testing.T) {
	irq := NewInterrupt(33)
	done := make(chan error, 1)
	go func() {
		done <- irq.WaitForInterrupt(context.Background(), time.Second)
	}()
	time.Sleep(5 * time.Millisecond)
	irq.Trigger()
	if err := <-done; err != nil {
		t.Fatalf("WaitForInterrupt = %v", err)
	}

	// Still asserted until completed: the next wait returns at once.
	if err := irq.WaitForInterrupt(context.Background(), 0); err != nil {
		t.Errorf("wait on asserted line = %v", err)
	}
	irq.Complete()
	if err := irq.WaitForInterrupt(context.Background(), 0); !errors.Is(err, status.ErrTimedOut) {
		t.Errorf("wait after complete = %v, want TIMED_OUT", err)
	}
}

func TestResourceTree(t *testing.T) {
	root := NewRootResource()
	if root.Kind() != ResourceKindRoot {
		t.Error("root kind wrong")
	}
	child, err := root.CreateChild("bus0", ResourceKindGeneric)
	if err != nil {
		t.Fatalf("CreateChild failed: %v", err)
	}
	if child.Name() != "bus0" {
		t.Errorf("child name = %q", child.Name())
	}
	if _, err := root.CreateChild("", ResourceKindGeneric); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("empty name = %v, want INVALID_ARGS", err)
	}
	if _, err := root.CreateChild("x", ResourceKindRoot); !errors.Is(err, status.ErrInvalidArgs) {
		t.Errorf("root kind child = %v, want INVALID_ARGS", err)
	}
	if kids := root.Children(); len(kids) != 1 || kids[0] != child {
		t.Error("children snapshot wrong")
	}
}
