package dispatcher

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// byteRing is a plain byte FIFO over a fixed buffer.
type byteRing struct {
	buf  []byte
	head int
	n    int
}

func newByteRing(capacity int) byteRing {
	return byteRing{buf: make([]byte, capacity)}
}

func (r *byteRing) len() int  { return r.n }
func (r *byteRing) free() int { return len(r.buf) - r.n }

func (r *byteRing) write(b []byte) int {
	n := len(b)
	if n > r.free() {
		n = r.free()
	}
	w := (r.head + r.n) % len(r.buf)
	first := len(r.buf) - w
	if first > n {
		first = n
	}
	copy(r.buf[w:w+first], b[:first])
	copy(r.buf[:n-first], b[first:n])
	r.n += n
	return n
}

func (r *byteRing) read(b []byte) int {
	n := len(b)
	if n > r.n {
		n = r.n
	}
	first := len(r.buf) - r.head
	if first > n {
		first = n
	}
	copy(b[:first], r.buf[r.head:r.head+first])
	copy(b[first:n], r.buf[:n-first])
	r.head = (r.head + n) % len(r.buf)
	r.n -= n
	return n
}

// socketCore is the shared state behind a pair of socket halves.
// stream[i] carries data flowing toward half i; oob[i] carries that
// half's out-of-band datagrams.
type socketCore struct {
	mu     sync.Mutex
	stream [2]byteRing
	oob    [2][][]byte
	alive  [2]bool
	halves [2]*Socket
}

// Socket is one half of a bidirectional byte stream with an out-of-band
// side channel.
type Socket struct {
	object.Base
	side    int
	core    *socketCore
	tracker *signal.StateTracker
}

// NewSocketPair creates both halves over fresh stream buffers.
func NewSocketPair() (*Socket, *Socket) {
	core := &socketCore{alive: [2]bool{true, true}}
	for i := range core.stream {
		core.stream[i] = newByteRing(constants.DefaultSocketBuffer)
	}
	mk := func(side int) *Socket {
		return &Socket{
			Base:    object.NewBase(object.TypeSocket),
			side:    side,
			core:    core,
			tracker: signal.New(signal.Writable, signal.Readable|signal.Writable|signal.PeerClosed),
		}
	}
	s0, s1 := mk(0), mk(1)
	core.halves[0], core.halves[1] = s0, s1
	s0.SetOnZeroHandles(func() { core.onHalfClosed(0) })
	s1.SetOnZeroHandles(func() { core.onHalfClosed(1) })
	return s0, s1
}

// StateTracker implements object.Dispatcher.
func (s *Socket) StateTracker() *signal.StateTracker { return s.tracker }

// UserSignal implements object.Dispatcher.
func (s *Socket) UserSignal(clear, set signal.Signals) error {
	if (clear|set)&^signal.UserAll != 0 {
		return status.ErrInvalidArgs
	}
	s.tracker.UserSignal(clear, set)
	return nil
}

// PeerKoid returns the other half's koid.
func (s *Socket) PeerKoid() uint64 { return s.core.halves[1-s.side].Koid() }

// Write streams bytes toward the peer. Partial writes are normal; a full
// buffer with nothing written reports SHOULD_WAIT. With oob set, b is
// queued as a single out-of-band datagram that must fit entirely.
func (s *Socket) Write(b []byte, oob bool) (int, error) {
	if len(b) == 0 {
		return 0, status.ErrInvalidArgs
	}
	c := s.core
	other := 1 - s.side

	c.mu.Lock()
	if !c.alive[other] {
		c.mu.Unlock()
		return 0, status.ErrChannelClosed
	}

	var n int
	if oob {
		if len(b) > constants.SocketOOBBuffer {
			c.mu.Unlock()
			return 0, status.ErrOutOfRange
		}
		msg := make([]byte, len(b))
		copy(msg, b)
		c.oob[other] = append(c.oob[other], msg)
		n = len(b)
	} else {
		n = c.stream[other].write(b)
		if n == 0 {
			c.mu.Unlock()
			return 0, status.ErrShouldWait
		}
	}
	writerFull := !oob && c.stream[other].free() == 0
	c.mu.Unlock()

	c.halves[other].tracker.UpdateSatisfied(0, signal.Readable)
	if writerFull {
		s.tracker.UpdateSatisfied(signal.Writable, 0)
	}
	return n, nil
}

// Read drains bytes sent toward this half. With oob set, it returns the
// next out-of-band datagram; a too-small buffer fails without consuming.
func (s *Socket) Read(b []byte, oob bool) (int, error) {
	if len(b) == 0 {
		return 0, status.ErrInvalidArgs
	}
	c := s.core
	other := 1 - s.side

	c.mu.Lock()
	var n int
	if oob {
		if len(c.oob[s.side]) == 0 {
			defer c.mu.Unlock()
			if !c.alive[other] {
				return 0, status.ErrChannelClosed
			}
			return 0, status.ErrShouldWait
		}
		msg := c.oob[s.side][0]
		if len(b) < len(msg) {
			c.mu.Unlock()
			return 0, status.ErrBufferTooSmall
		}
		copy(c.oob[s.side], c.oob[s.side][1:])
		c.oob[s.side][len(c.oob[s.side])-1] = nil
		c.oob[s.side] = c.oob[s.side][:len(c.oob[s.side])-1]
		n = copy(b, msg)
	} else {
		if c.stream[s.side].len() == 0 {
			defer c.mu.Unlock()
			if !c.alive[other] {
				return 0, status.ErrChannelClosed
			}
			return 0, status.ErrShouldWait
		}
		n = c.stream[s.side].read(b)
	}
	drained := c.stream[s.side].len() == 0 && len(c.oob[s.side]) == 0
	peerAlive := c.alive[other]
	c.mu.Unlock()

	if drained {
		if peerAlive {
			s.tracker.UpdateSatisfied(signal.Readable, 0)
		} else {
			s.tracker.UpdateState(signal.Readable, 0, signal.Readable, 0)
		}
	}
	if peerAlive && !oob {
		c.halves[other].tracker.UpdateSatisfied(0, signal.Writable)
	}
	return n, nil
}

// OutstandingRead returns the bytes queued toward this half.
func (s *Socket) OutstandingRead() int {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return s.core.stream[s.side].len()
}

func (c *socketCore) onHalfClosed(side int) {
	other := 1 - side

	c.mu.Lock()
	c.alive[side] = false
	c.oob[side] = nil
	otherAlive := c.alive[other]
	otherDrained := c.stream[other].len() == 0 && len(c.oob[other]) == 0
	c.mu.Unlock()

	if !otherAlive {
		return
	}
	if otherDrained {
		c.halves[other].tracker.UpdateState(
			signal.Writable|signal.Readable, signal.PeerClosed,
			signal.Writable|signal.Readable, 0)
	} else {
		c.halves[other].tracker.UpdateState(
			signal.Writable, signal.PeerClosed,
			signal.Writable, 0)
	}
}
