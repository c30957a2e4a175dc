package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

func TestWaitSetAddRemove(t *testing.T) {
	a := object.NewArena(16)
	w := NewWaitSet()
	ev := NewEvent()
	h, _ := a.New(ev, object.DefaultRights(object.TypeEvent))

	if err := w.Add(1, h, signal.Signaled); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := w.Add(1, h, signal.Signaled); !errors.Is(err, status.ErrAlreadyBound) {
		t.Errorf("duplicate cookie = %v, want ALREADY_BOUND", err)
	}
	if err := w.Remove(1); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := w.Remove(1); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("double remove = %v, want NOT_FOUND", err)
	}
}

func TestWaitSetWaitSatisfied(t *testing.T) {
	a := object.NewArena(16)
	w := NewWaitSet()
	e1, e2 := NewEvent(), NewEvent()
	h1, _ := a.New(e1, object.DefaultRights(object.TypeEvent))
	h2, _ := a.New(e2, object.DefaultRights(object.TypeEvent))

	if err := w.Add(10, h1, signal.Signaled); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := w.Add(20, h2, signal.Signaled); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		results, total, err := w.Wait(context.Background(), time.Second, 16)
		if err != nil {
			return err
		}
		if total != 1 || len(results) != 1 {
			t.Errorf("total = %d, len = %d, want 1/1", total, len(results))
			return nil
		}
		r := results[0]
		if r.Cookie != 20 || r.Status != nil {
			t.Errorf("result = {cookie %d, status %v}", r.Cookie, r.Status)
		}
		if r.State.Satisfied&signal.Signaled == 0 {
			t.Errorf("result state = %v, want SIGNALED", r.State.Satisfied)
		}
		return nil
	})

	time.Sleep(5 * time.Millisecond)
	if err := e2.UserSignal(0, signal.Signaled); err != nil {
		t.Fatalf("UserSignal failed: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}

func TestWaitSetRepeatable(t *testing.T) {
	a := object.NewArena(16)
	w := NewWaitSet()
	ev := NewEvent()
	h, _ := a.New(ev, object.DefaultRights(object.TypeEvent))
	if err := w.Add(5, h, signal.Signaled); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ev.UserSignal(0, signal.Signaled)
	for i := 0; i < 3; i++ {
		results, _, err := w.Wait(context.Background(), 0, 4)
		if err != nil || len(results) != 1 {
			t.Fatalf("repeat wait %d = (%d results, %v)", i, len(results), err)
		}
	}

	// Level drops: the set empties out again.
	ev.UserSignal(signal.Signaled, 0)
	if _, _, err := w.Wait(context.Background(), 0, 4); !errors.Is(err, status.ErrTimedOut) {
		t.Errorf("wait after level drop = %v, want TIMED_OUT", err)
	}
}

func TestWaitSetTruncation(t *testing.T) {
	a := object.NewArena(16)
	w := NewWaitSet()
	for i := uint64(0); i < 4; i++ {
		ev := NewEvent()
		h, _ := a.New(ev, object.DefaultRights(object.TypeEvent))
		if err := w.Add(i, h, signal.Signaled); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		ev.UserSignal(0, signal.Signaled)
	}
	results, total, err := w.Wait(context.Background(), 0, 2)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if len(results) != 2 || total != 4 {
		t.Errorf("reported %d of total %d, want 2 of 4", len(results), total)
	}
}

func TestWaitSetHandleClose(t *testing.T) {
	a := object.NewArena(16)
	w := NewWaitSet()
	ev := NewEvent()
	h, _ := a.New(ev, object.DefaultRights(object.TypeEvent))
	if err := w.Add(99, h, signal.Signaled); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	a.Delete(h)
	results, total, err := w.Wait(context.Background(), 0, 4)
	if err != nil || total != 1 {
		t.Fatalf("Wait after close = (%d, %v)", total, err)
	}
	if !errors.Is(results[0].Status, status.ErrCanceled) {
		t.Errorf("result status = %v, want CANCELLED", results[0].Status)
	}
}

func TestWaitSetUnwaitableHandle(t *testing.T) {
	a := object.NewArena(16)
	w := NewWaitSet()
	port, _ := NewIOPort(4)
	h, _ := a.New(port, object.DefaultRights(object.TypeIOPort))
	if err := w.Add(1, h, signal.Readable); !errors.Is(err, status.ErrNotSupported) {
		t.Errorf("Add of unwaitable = %v, want NOT_SUPPORTED", err)
	}
}

func TestWaitSetWaitTimeout(t *testing.T) {
	w := NewWaitSet()
	if _, _, err := w.Wait(context.Background(), 10*time.Millisecond, 4); !errors.Is(err, status.ErrTimedOut) {
		t.Errorf("Wait on empty set = %v, want TIMED_OUT", err)
	}
}

func TestWaitSetInfiniteWaitWake(t *testing.T) {
	a := object.NewArena(16)
	w := NewWaitSet()
	ev := NewEvent()
	h, _ := a.New(ev, object.DefaultRights(object.TypeEvent))
	if err := w.Add(3, h, signal.Signaled); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		_, total, err := w.Wait(context.Background(), waiter.TimeoutInfinite, 4)
		if err != nil {
			return err
		}
		if total != 1 {
			t.Errorf("total = %d, want 1", total)
		}
		return nil
	})
	time.Sleep(5 * time.Millisecond)
	ev.UserSignal(0, signal.Signaled)
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
}
