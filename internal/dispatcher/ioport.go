package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

// Packet type tags.
const (
	PacketTypeUser      uint32 = 0
	PacketTypeSignal    uint32 = 1
	PacketTypeException uint32 = 2
)

// IOPacket is one entry in a port's FIFO: a 64-bit key, a type tag, and a
// small per-type payload. Signal packets carry the satisfied mask that
// triggered them.
type IOPacket struct {
	Key     uint64
	Type    uint32
	Signals signal.Signals
	Data    []byte
}

// IOPort is a bounded FIFO of packets with blocking consumers.
type IOPort struct {
	object.Base
	mu      sync.Mutex
	depth   int
	packets []IOPacket
	parked  []*waiter.Event
}

// NewIOPort returns a port with the given FIFO depth; zero selects the
// default.
func NewIOPort(depth int) (*IOPort, error) {
	if depth == 0 {
		depth = constants.DefaultIOPortDepth
	}
	if depth < 0 {
		return nil, status.ErrInvalidArgs
	}
	return &IOPort{
		Base:  object.NewBase(object.TypeIOPort),
		depth: depth,
	}, nil
}

// Queue appends a packet. Oversize payloads are rejected; a full FIFO
// reports SHOULD_WAIT. One parked consumer is woken per packet.
func (p *IOPort) Queue(pkt IOPacket) error {
	if len(pkt.Data) > constants.MaxIOPortPacketSize {
		return status.ErrBufferTooSmall
	}

	p.mu.Lock()
	if len(p.packets) >= p.depth {
		p.mu.Unlock()
		return status.ErrShouldWait
	}
	if pkt.Data != nil {
		data := make([]byte, len(pkt.Data))
		copy(data, pkt.Data)
		pkt.Data = data
	}
	p.packets = append(p.packets, pkt)

	// Hand the wakeup to the first parked consumer whose event is still
	// live; consumers that timed out concurrently have consumed theirs.
	for len(p.parked) > 0 {
		ev := p.parked[0]
		copy(p.parked, p.parked[1:])
		p.parked[len(p.parked)-1] = nil
		p.parked = p.parked[:len(p.parked)-1]
		if ev.Signal(waiter.ResultSatisfied, 0) {
			break
		}
	}
	p.mu.Unlock()
	return nil
}

// Wait blocks until a packet is available, then dequeues it. A zero
// timeout polls.
func (p *IOPort) Wait(ctx context.Context, timeout time.Duration) (IOPacket, error) {
	deadline := time.Now().Add(timeout)
	infinite := timeout == waiter.TimeoutInfinite

	for {
		p.mu.Lock()
		if len(p.packets) > 0 {
			pkt := p.packets[0]
			copy(p.packets, p.packets[1:])
			p.packets[len(p.packets)-1] = IOPacket{}
			p.packets = p.packets[:len(p.packets)-1]
			p.mu.Unlock()
			return pkt, nil
		}
		remaining := timeout
		if !infinite {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				p.mu.Unlock()
				return IOPacket{}, status.ErrTimedOut
			}
		}
		ev := waiter.NewEvent()
		p.parked = append(p.parked, ev)
		p.mu.Unlock()

		switch res, _ := ev.Wait(ctx, remaining); res {
		case waiter.ResultSatisfied:
			// Loop and race for the packet.
		case waiter.ResultInterrupted:
			p.unpark(ev)
			return IOPacket{}, status.ErrInterrupted
		default:
			p.unpark(ev)
			return IOPacket{}, status.ErrTimedOut
		}
	}
}

func (p *IOPort) unpark(ev *waiter.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.parked {
		if cur == ev {
			copy(p.parked[i:], p.parked[i+1:])
			p.parked[len(p.parked)-1] = nil
			p.parked = p.parked[:len(p.parked)-1]
			return
		}
	}
}

// Depth returns the FIFO bound.
func (p *IOPort) Depth() int { return p.depth }

// QueuedCount returns the packets currently queued.
func (p *IOPort) QueuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.packets)
}

// IOPortClient binds a source dispatcher's state tracker to a port: every
// rising edge of a bound signal enqueues a signal packet under the
// caller's key. It implements signal.Observer.
type IOPortClient struct {
	port   *IOPort
	source object.Dispatcher
	key    uint64
	mask   signal.Signals

	mu       sync.Mutex
	reported signal.Signals
}

// BindPort attaches a client to source's tracker. A source carries at
// most one bound client; sources without a tracker cannot be bound.
func BindPort(port *IOPort, source object.Dispatcher, key uint64, mask signal.Signals) (*IOPortClient, error) {
	tracker := source.StateTracker()
	if tracker == nil {
		return nil, status.ErrNotSupported
	}
	if mask == 0 {
		return nil, status.ErrInvalidArgs
	}
	c := &IOPortClient{
		port:   port,
		source: source,
		key:    key,
		mask:   mask,
	}
	if err := object.BindPortClient(source, c); err != nil {
		return nil, err
	}
	tracker.AddObserver(c)
	return c, nil
}

// UnbindPort detaches the source's bound client, if any.
func UnbindPort(source object.Dispatcher) error {
	c, _ := object.UnbindPortClient(source).(*IOPortClient)
	if c == nil {
		return status.ErrNotFound
	}
	if tracker := source.StateTracker(); tracker != nil {
		tracker.RemoveObserver(c)
	}
	return nil
}

// OnStateChange implements signal.Observer: newly satisfied bound bits
// enqueue a signal packet. Level state is remembered so a steady signal
// produces one packet per edge, not one per unrelated state change.
func (c *IOPortClient) OnStateChange(state signal.State) bool {
	c.mu.Lock()
	now := state.Satisfied & c.mask
	rising := now &^ c.reported
	c.reported = now
	c.mu.Unlock()

	if rising == 0 {
		return false
	}
	// A full port drops the edge; level-triggered waiters still see the
	// underlying signal on the source object.
	_ = c.port.Queue(IOPacket{
		Key:     c.key,
		Type:    PacketTypeSignal,
		Signals: rising,
	})
	return true
}

// OnCancel implements signal.Observer. Closing the bound handle does not
// tear the binding down; the binding dies with the source.
func (c *IOPortClient) OnCancel(key any) bool { return false }

// Key implements signal.Observer. The client is its own identity; it is
// never cancelled through a handle.
func (c *IOPortClient) Key() any { return c }
