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

func TestIOPortQueueWait(t *testing.T) {
	port, err := NewIOPort(8)
	if err != nil {
		t.Fatalf("NewIOPort failed: %v", err)
	}

	if err := port.Queue(IOPacket{Key: 7, Type: PacketTypeUser, Data: []byte("payload")}); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	pkt, err := port.Wait(context.Background(), 0)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if pkt.Key != 7 || string(pkt.Data) != "payload" {
		t.Errorf("packet = (%d, %q)", pkt.Key, pkt.Data)
	}

	if _, err := port.Wait(context.Background(), 0); !errors.Is(err, status.ErrTimedOut) {
		t.Errorf("poll on empty port = %v, want TIMED_OUT", err)
	}
}

func TestIOPortFIFOOrder(t *testing.T) {
	port, _ := NewIOPort(8)
	for i := uint64(0); i < 5; i++ {
		if err := port.Queue(IOPacket{Key: i, Type: PacketTypeUser}); err != nil {
			t.Fatalf("Queue %d failed: %v", i, err)
		}
	}
	for i := uint64(0); i < 5; i++ {
		pkt, err := port.Wait(context.Background(), 0)
		if err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
		if pkt.Key != i {
			t.Errorf("packet %d has key %d", i, pkt.Key)
		}
	}
}

func TestIOPortLimits(t *testing.T) {
	port, _ := NewIOPort(2)
	if err := port.Queue(IOPacket{Data: make([]byte, 200)}); !errors.Is(err, status.ErrBufferTooSmall) {
		t.Errorf("oversize packet = %v, want BUFFER_TOO_SMALL", err)
	}
	port.Queue(IOPacket{Key: 1})
	port.Queue(IOPacket{Key: 2})
	if err := port.Queue(IOPacket{Key: 3}); !errors.Is(err, status.ErrShouldWait) {
		t.Errorf("queue past depth = %v, want SHOULD_WAIT", err)
	}
}

func TestIOPortBlockingWait(t *testing.T) {
	port, _ := NewIOPort(8)

	var g errgroup.Group
	g.Go(func() error {
		pkt, err := port.Wait(context.Background(), time.Second)
		if err != nil {
			return err
		}
		if pkt.Key != 42 {
			t.Errorf("woke with key %d, want 42", pkt.Key)
		}
		return nil
	})

	time.Sleep(5 * time.Millisecond)
	if err := port.Queue(IOPacket{Key: 42}); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("waiter failed: %v", err)
	}
}

func TestIOPortWaitTimeout(t *testing.T) {
	port, _ := NewIOPort(8)
	start := time.Now()
	if _, err := port.Wait(context.Background(), 20*time.Millisecond); !errors.Is(err, status.ErrTimedOut) {
		t.Errorf("Wait = %v, want TIMED_OUT", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Wait returned before the deadline")
	}
}

func TestIOPortBindSignals(t *testing.T) {
	a := object.NewArena(16)
	port, _ := NewIOPort(8)
	e0, e1, _, _ := holdPair(t, a)
	_ = e0

	if _, err := BindPort(port, e1, 0xfeed, signal.Readable); err != nil {
		t.Fatalf("BindPort failed: %v", err)
	}
	// Second binding on the same source is refused.
	if _, err := BindPort(port, e1, 0xbeef, signal.Readable); !errors.Is(err, status.ErrAlreadyBound) {
		t.Errorf("double bind = %v, want ALREADY_BOUND", err)
	}

	// A rising READABLE edge enqueues a signal packet automatically.
	if err := e0.Write([]byte("m"), nil, false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	pkt, err := port.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if pkt.Type != PacketTypeSignal || pkt.Key != 0xfeed {
		t.Errorf("packet = (type %d, key %#x)", pkt.Type, pkt.Key)
	}
	if pkt.Signals&signal.Readable == 0 {
		t.Errorf("packet signals = %v, want READABLE", pkt.Signals)
	}

	// A second write while still readable is not a new edge.
	if err := e0.Write([]byte("m2"), nil, false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := port.Wait(context.Background(), 0); !errors.Is(err, status.ErrTimedOut) {
		t.Errorf("level produced a second packet: %v", err)
	}

	if err := UnbindPort(e1); err != nil {
		t.Fatalf("UnbindPort failed: %v", err)
	}
	if err := UnbindPort(e1); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("double unbind = %v, want NOT_FOUND", err)
	}
}

func TestIOPortBindUnwaitableSource(t *testing.T) {
	port, _ := NewIOPort(8)
	other, _ := NewIOPort(8)
	if _, err := BindPort(port, other, 1, signal.Readable); !errors.Is(err, status.ErrNotSupported) {
		t.Errorf("bind to untracked source = %v, want NOT_SUPPORTED", err)
	}
}

func TestIOPortConcurrentConsumers(t *testing.T) {
	port, _ := NewIOPort(64)
	const packets = 32

	g, ctx := errgroup.WithContext(context.Background())
	got := make(chan uint64, packets)
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for {
				pkt, err := port.Wait(ctx, 200*time.Millisecond)
				if errors.Is(err, status.ErrTimedOut) {
					return nil
				}
				if err != nil {
					return err
				}
				got <- pkt.Key
			}
		})
	}
	for i := uint64(0); i < packets; i++ {
		if err := port.Queue(IOPacket{Key: i}); err != nil {
			t.Fatalf("Queue failed: %v", err)
		}
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("consumer failed: %v", err)
	}
	close(got)
	seen := map[uint64]bool{}
	for k := range got {
		if seen[k] {
			t.Errorf("packet %d delivered twice", k)
		}
		seen[k] = true
	}
	if len(seen) != packets {
		t.Errorf("delivered %d packets, want %d", len(seen), packets)
	}
}

func TestIOPortWaiterRaceNoLostWakeup(t *testing.T) {
	// A consumer that timed out must not swallow the wakeup meant for a
	// still-parked consumer.
	port, _ := NewIOPort(8)

	dead := waiter.NewEvent()
	dead.Signal(waiter.ResultTimedOut, 0)
	port.mu.Lock()
	port.parked = append(port.parked, dead)
	port.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		_, err := port.Wait(context.Background(), time.Second)
		return err
	})
	time.Sleep(5 * time.Millisecond)
	if err := port.Queue(IOPacket{Key: 9}); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("live waiter failed: %v", err)
	}
}
