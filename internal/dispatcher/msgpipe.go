package dispatcher

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// MessagePacket owns a byte payload and an array of handles in transit.
// In-transit handles have owner zero and appear in no handle table; a
// packet destroyed unread destroys its handles.
type MessagePacket struct {
	Data    []byte
	Handles []*object.Handle
}

// Release returns the payload to the pool. Call once the packet's data
// has been copied out or the packet is being destroyed.
func (p *MessagePacket) Release() {
	if p.Data != nil {
		putPayload(p.Data)
		p.Data = nil
	}
}

func (p *MessagePacket) destroy(arena *object.Arena) {
	for _, h := range p.Handles {
		arena.Delete(h)
	}
	p.Handles = nil
	p.Release()
}

// msgPipe is the shared state behind a pair of message pipe endpoints.
// queues[s] holds packets waiting to be read by side s.
type msgPipe struct {
	mu      sync.Mutex
	arena   *object.Arena
	queues  [2][]*MessagePacket
	pending [2]*MessagePacket
	alive   [2]bool
}

// MsgPipe is one endpoint of a message pipe: a thin facade that forwards
// to the correct side of the shared pipe.
type MsgPipe struct {
	object.Base
	side    int
	pipe    *msgPipe
	tracker *signal.StateTracker
	peer    *MsgPipe
}

// NewMsgPipePair creates a connected pair of endpoints. Both start
// writable and not readable.
func NewMsgPipePair(arena *object.Arena) (*MsgPipe, *MsgPipe) {
	shared := &msgPipe{arena: arena, alive: [2]bool{true, true}}
	mk := func(side int) *MsgPipe {
		return &MsgPipe{
			Base:    object.NewBase(object.TypeMsgPipe),
			side:    side,
			pipe:    shared,
			tracker: signal.New(signal.Writable, signal.Readable|signal.Writable|signal.PeerClosed),
		}
	}
	e0, e1 := mk(0), mk(1)
	e0.peer, e1.peer = e1, e0
	e0.SetOnZeroHandles(func() { shared.onSideClosed(0, e1) })
	e1.SetOnZeroHandles(func() { shared.onSideClosed(1, e0) })
	return e0, e1
}

// StateTracker implements object.Dispatcher.
func (e *MsgPipe) StateTracker() *signal.StateTracker { return e.tracker }

// UserSignal implements object.Dispatcher. Pipe endpoints accept only the
// user range.
func (e *MsgPipe) UserSignal(clear, set signal.Signals) error {
	if (clear|set)&^signal.UserAll != 0 {
		return status.ErrInvalidArgs
	}
	e.tracker.UserSignal(clear, set)
	return nil
}

// PeerKoid returns the other endpoint's koid.
func (e *MsgPipe) PeerKoid() uint64 { return e.peer.Koid() }

// IsPeerOf reports whether d is this endpoint's other end.
func (e *MsgPipe) IsPeerOf(d object.Dispatcher) bool { return d == object.Dispatcher(e.peer) }

// Write enqueues a packet for the other side. Handles must already be
// removed from the sender's table (owner zero); on any error none are
// consumed and the caller rolls its table back. With replyPipe set, the
// last handle must be the endpoint being written on; without it, neither
// endpoint of this pipe may be transferred through it.
func (e *MsgPipe) Write(data []byte, handles []*object.Handle, replyPipe bool) error {
	if len(data) > constants.MaxMessageSize {
		return status.ErrOutOfRange
	}
	if len(handles) > constants.MaxMessageHandles {
		return status.ErrOutOfRange
	}
	for i, h := range handles {
		d := h.Dispatcher()
		if d == object.Dispatcher(e) || d == object.Dispatcher(e.peer) {
			if !replyPipe || i != len(handles)-1 || d != object.Dispatcher(e) {
				return status.ErrNotSupported
			}
		}
	}
	if replyPipe {
		if len(handles) == 0 || handles[len(handles)-1].Dispatcher() != object.Dispatcher(e) {
			return status.ErrInvalidArgs
		}
	}

	other := 1 - e.side
	p := e.pipe

	p.mu.Lock()
	if !p.alive[other] {
		p.mu.Unlock()
		return status.ErrChannelClosed
	}
	if len(p.queues[other]) >= constants.MaxPendingMessages {
		p.mu.Unlock()
		return status.ErrShouldWait
	}
	payload := getPayload(len(data))
	copy(payload, data)
	p.queues[other] = append(p.queues[other], &MessagePacket{
		Data:    payload,
		Handles: handles,
	})
	full := len(p.queues[other]) >= constants.MaxPendingMessages
	p.mu.Unlock()

	// Reader side becomes readable; writer loses writability only at the
	// queue bound.
	e.peer.tracker.UpdateSatisfied(0, signal.Readable)
	if full {
		e.tracker.UpdateSatisfied(signal.Writable, 0)
	}
	return nil
}

// BeginRead peeks the head packet and returns its payload size and handle
// count without consuming it. The packet stays queued until AcceptRead.
func (e *MsgPipe) BeginRead() (dataLen, numHandles int, err error) {
	p := e.pipe
	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.queues[e.side]
	if len(q) == 0 {
		if !p.alive[1-e.side] {
			return 0, 0, status.ErrChannelClosed
		}
		return 0, 0, status.ErrBadState
	}
	head := q[0]
	p.pending[e.side] = head
	return len(head.Data), len(head.Handles), nil
}

// AcceptRead dequeues the packet peeked by BeginRead. Two racing readers
// may both BeginRead the same head; the first AcceptRead wins and the
// loser observes BAD_STATE.
func (e *MsgPipe) AcceptRead() (*MessagePacket, error) {
	p := e.pipe
	other := 1 - e.side

	p.mu.Lock()
	q := p.queues[e.side]
	pend := p.pending[e.side]
	if pend == nil || len(q) == 0 || q[0] != pend {
		p.mu.Unlock()
		return nil, status.ErrBadState
	}
	copy(q, q[1:])
	q[len(q)-1] = nil
	p.queues[e.side] = q[:len(q)-1]
	p.pending[e.side] = nil
	drained := len(p.queues[e.side]) == 0
	peerAlive := p.alive[other]
	unfull := len(p.queues[e.side]) < constants.MaxPendingMessages
	p.mu.Unlock()

	if drained {
		if peerAlive {
			e.tracker.UpdateSatisfied(signal.Readable, 0)
		} else {
			// Nothing queued and nothing can ever arrive.
			e.tracker.UpdateState(signal.Readable, 0, signal.Readable, 0)
		}
	}
	if peerAlive && unfull {
		e.peer.tracker.UpdateSatisfied(0, signal.Writable)
	}
	return pend, nil
}

// QueuedCount returns the number of unread packets on this side.
func (e *MsgPipe) QueuedCount() int {
	e.pipe.mu.Lock()
	defer e.pipe.mu.Unlock()
	return len(e.pipe.queues[e.side])
}

// onSideClosed runs when side's last handle goes away: it drops the
// side's unread packets (destroying their in-transit handles) and flips
// the survivor's signals.
func (p *msgPipe) onSideClosed(side int, survivor *MsgPipe) {
	other := 1 - side

	p.mu.Lock()
	p.alive[side] = false
	discarded := p.queues[side]
	p.queues[side] = nil
	p.pending[side] = nil
	otherAlive := p.alive[other]
	otherEmpty := len(p.queues[other]) == 0
	p.mu.Unlock()

	if otherAlive {
		// The survivor can never write again. Its queued messages stay
		// readable; once drained, READABLE stops being satisfiable.
		if otherEmpty {
			survivor.tracker.UpdateState(
				signal.Writable|signal.Readable, signal.PeerClosed,
				signal.Writable|signal.Readable, 0)
		} else {
			survivor.tracker.UpdateState(
				signal.Writable, signal.PeerClosed,
				signal.Writable, 0)
		}
	}

	// Packet destruction may recursively close other objects; no pipe
	// lock is held here.
	for _, pkt := range discarded {
		pkt.destroy(p.arena)
	}
}
