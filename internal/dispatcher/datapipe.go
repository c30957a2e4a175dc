package dispatcher

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// dataPipe is the shared ring behind a producer/consumer pair. The ring
// carries whole elements; byte-oriented pipes use element size 1.
type dataPipe struct {
	mu       sync.Mutex
	elemSize int
	capacity int
	buf      []byte
	head     int // read index
	avail    int // bytes readable

	writeThreshold int // bytes of free space required for WRITABLE
	readThreshold  int // bytes available required for READABLE

	producerAlive bool
	consumerAlive bool

	// Two-phase transactions; at most one of each direction at a time.
	twWrite    bool
	twWriteLen int
	twRead     bool
	twReadLen  int

	producer *DataPipeProducer
	consumer *DataPipeConsumer
}

// DataPipeProducer is the write end of a data pipe.
type DataPipeProducer struct {
	object.Base
	pipe    *dataPipe
	tracker *signal.StateTracker
}

// DataPipeConsumer is the read end of a data pipe.
type DataPipeConsumer struct {
	object.Base
	pipe    *dataPipe
	tracker *signal.StateTracker
}

// ReadOptions select the consumer-side copy variants.
type ReadOptions struct {
	AllOrNone bool
	Discard   bool // consume without copying
	Peek      bool // copy without consuming
}

// NewDataPipe creates a producer/consumer pair over a fresh ring.
// Capacity zero selects the default; the capacity must be a positive
// multiple of the element size and within the global bound.
func NewDataPipe(elemSize, capacity int) (*DataPipeProducer, *DataPipeConsumer, error) {
	if elemSize <= 0 {
		return nil, nil, status.ErrInvalidArgs
	}
	if capacity == 0 {
		capacity = constants.DefaultDataPipeCapacity
		capacity -= capacity % elemSize
		if capacity == 0 {
			capacity = elemSize
		}
	}
	if capacity < 0 || capacity%elemSize != 0 || capacity > constants.MaxDataPipeCapacity {
		return nil, nil, status.ErrInvalidArgs
	}

	p := &dataPipe{
		elemSize:       elemSize,
		capacity:       capacity,
		buf:            make([]byte, capacity),
		writeThreshold: elemSize,
		readThreshold:  elemSize,
		producerAlive:  true,
		consumerAlive:  true,
	}
	prod := &DataPipeProducer{
		Base:    object.NewBase(object.TypeDataPipeProducer),
		pipe:    p,
		tracker: signal.New(signal.Writable, signal.Writable|signal.PeerClosed),
	}
	cons := &DataPipeConsumer{
		Base:    object.NewBase(object.TypeDataPipeConsumer),
		pipe:    p,
		tracker: signal.New(0, signal.Readable|signal.PeerClosed),
	}
	p.producer, p.consumer = prod, cons
	prod.SetOnZeroHandles(p.onProducerClosed)
	cons.SetOnZeroHandles(p.onConsumerClosed)
	return prod, cons, nil
}

// StateTracker implements object.Dispatcher.
func (d *DataPipeProducer) StateTracker() *signal.StateTracker { return d.tracker }

// StateTracker implements object.Dispatcher.
func (d *DataPipeConsumer) StateTracker() *signal.StateTracker { return d.tracker }

func (p *dataPipe) free() int { return p.capacity - p.avail }

// updateSignalsLocked recomputes both trackers from the ring state. Called
// with p.mu held; tracker locks nest inside the pipe lock.
func (p *dataPipe) updateSignalsLocked() {
	if p.consumerAlive {
		if p.producerAlive {
			if p.free() >= p.writeThreshold {
				p.producer.tracker.UpdateSatisfied(0, signal.Writable)
			} else {
				p.producer.tracker.UpdateSatisfied(signal.Writable, 0)
			}
		}
		if p.avail >= p.readThreshold {
			p.consumer.tracker.UpdateSatisfied(0, signal.Readable)
		} else if p.producerAlive {
			p.consumer.tracker.UpdateSatisfied(signal.Readable, 0)
		} else {
			// Producer gone and below threshold: whatever remains is
			// still readable piecemeal, but the threshold can never be
			// met again if the ring is empty.
			if p.avail > 0 {
				p.consumer.tracker.UpdateSatisfied(signal.Readable, 0)
			} else {
				p.consumer.tracker.UpdateState(signal.Readable, 0, signal.Readable, 0)
			}
		}
	}
}

// Write copies whole elements into the ring. With allOrNone, a write that
// does not fully fit fails with SHOULD_WAIT; otherwise it copies as many
// elements as fit and reports the count.
func (d *DataPipeProducer) Write(b []byte, allOrNone bool) (int, error) {
	p := d.pipe
	if len(b) == 0 || len(b)%p.elemSize != 0 {
		return 0, status.ErrInvalidArgs
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.consumerAlive {
		return 0, status.ErrChannelClosed
	}
	if p.twWrite {
		return 0, status.ErrBadState
	}

	n := len(b)
	if n > p.free() {
		n = p.free() - p.free()%p.elemSize
	}
	if n == 0 || (allOrNone && n < len(b)) {
		return 0, status.ErrShouldWait
	}

	w := (p.head + p.avail) % p.capacity
	first := p.capacity - w
	if first > n {
		first = n
	}
	copy(p.buf[w:w+first], b[:first])
	copy(p.buf[:n-first], b[first:n])
	p.avail += n
	p.updateSignalsLocked()
	return n, nil
}

// Read copies, peeks, or discards whole elements from the ring per opts.
func (d *DataPipeConsumer) Read(b []byte, opts ReadOptions) (int, error) {
	p := d.pipe
	want := len(b)
	if want == 0 || want%p.elemSize != 0 {
		return 0, status.ErrInvalidArgs
	}
	if opts.Discard && opts.Peek {
		return 0, status.ErrInvalidArgs
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.twRead {
		return 0, status.ErrBadState
	}
	if p.avail == 0 {
		if !p.producerAlive {
			return 0, status.ErrChannelClosed
		}
		return 0, status.ErrShouldWait
	}

	// avail is always a whole number of elements
	n := want
	if n > p.avail {
		n = p.avail
	}
	if opts.AllOrNone && n < want {
		return 0, status.ErrShouldWait
	}

	if !opts.Discard {
		first := p.capacity - p.head
		if first > n {
			first = n
		}
		copy(b[:first], p.buf[p.head:p.head+first])
		copy(b[first:n], p.buf[:n-first])
	}
	if !opts.Peek {
		p.head = (p.head + n) % p.capacity
		p.avail -= n
		p.updateSignalsLocked()
	}
	return n, nil
}

// Query returns the number of bytes available to read.
func (d *DataPipeConsumer) Query() int {
	p := d.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avail
}

// BeginWrite maps a contiguous free subrange of the ring for direct
// writing. The transaction holds the producer side until EndWrite.
func (d *DataPipeProducer) BeginWrite() ([]byte, error) {
	p := d.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.consumerAlive {
		return nil, status.ErrChannelClosed
	}
	if p.twWrite {
		return nil, status.ErrBadState
	}
	free := p.free()
	if free < p.elemSize {
		return nil, status.ErrShouldWait
	}
	w := (p.head + p.avail) % p.capacity
	contig := p.capacity - w
	if contig > free {
		contig = free
	}
	contig -= contig % p.elemSize
	p.twWrite = true
	p.twWriteLen = contig
	return p.buf[w : w+contig], nil
}

// EndWrite commits consumed bytes of the mapped range. EndWrite(0)
// releases the mapping without advancing.
func (d *DataPipeProducer) EndWrite(consumed int) error {
	p := d.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.twWrite {
		return status.ErrBadState
	}
	if consumed < 0 || consumed > p.twWriteLen || consumed%p.elemSize != 0 {
		return status.ErrInvalidArgs
	}
	p.twWrite = false
	p.twWriteLen = 0
	p.avail += consumed
	p.updateSignalsLocked()
	return nil
}

// BeginRead maps the contiguous head of the ring for direct reading.
func (d *DataPipeConsumer) BeginRead() ([]byte, error) {
	p := d.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.twRead {
		return nil, status.ErrBadState
	}
	if p.avail == 0 {
		if !p.producerAlive {
			return nil, status.ErrChannelClosed
		}
		return nil, status.ErrShouldWait
	}
	contig := p.capacity - p.head
	if contig > p.avail {
		contig = p.avail
	}
	p.twRead = true
	p.twReadLen = contig
	return p.buf[p.head : p.head+contig], nil
}

// EndRead consumes bytes of the mapped range. EndRead(0) releases the
// mapping without advancing.
func (d *DataPipeConsumer) EndRead(consumed int) error {
	p := d.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.twRead {
		return status.ErrBadState
	}
	if consumed < 0 || consumed > p.twReadLen || consumed%p.elemSize != 0 {
		return status.ErrInvalidArgs
	}
	p.twRead = false
	p.twReadLen = 0
	p.head = (p.head + consumed) % p.capacity
	p.avail -= consumed
	p.updateSignalsLocked()
	return nil
}

// SetWriteThreshold sets the free-space level (in bytes, a multiple of the
// element size) at which WRITABLE asserts. Zero restores the default of
// one element.
func (d *DataPipeProducer) SetWriteThreshold(bytes int) error {
	p := d.pipe
	if bytes == 0 {
		bytes = p.elemSize
	}
	if bytes < 0 || bytes%p.elemSize != 0 || bytes > p.capacity {
		return status.ErrInvalidArgs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeThreshold = bytes
	p.updateSignalsLocked()
	return nil
}

// WriteThreshold returns the current write threshold in bytes.
func (d *DataPipeProducer) WriteThreshold() int {
	p := d.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeThreshold
}

// SetReadThreshold sets the availability level at which READABLE asserts.
func (d *DataPipeConsumer) SetReadThreshold(bytes int) error {
	p := d.pipe
	if bytes == 0 {
		bytes = p.elemSize
	}
	if bytes < 0 || bytes%p.elemSize != 0 || bytes > p.capacity {
		return status.ErrInvalidArgs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readThreshold = bytes
	p.updateSignalsLocked()
	return nil
}

// ReadThreshold returns the current read threshold in bytes.
func (d *DataPipeConsumer) ReadThreshold() int {
	p := d.pipe
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readThreshold
}

// Capacity returns the ring capacity in bytes.
func (p *DataPipeProducer) Capacity() int { return p.pipe.capacity }

// Capacity returns the ring capacity in bytes.
func (c *DataPipeConsumer) Capacity() int { return c.pipe.capacity }

// ElementSize returns the pipe's element size in bytes.
func (p *DataPipeProducer) ElementSize() int { return p.pipe.elemSize }

// ElementSize returns the pipe's element size in bytes.
func (c *DataPipeConsumer) ElementSize() int { return c.pipe.elemSize }

func (p *dataPipe) onProducerClosed() {
	p.mu.Lock()
	p.producerAlive = false
	p.twWrite = false
	empty := p.avail == 0
	consumerAlive := p.consumerAlive
	p.mu.Unlock()

	if consumerAlive {
		if empty {
			p.consumer.tracker.UpdateState(signal.Readable, signal.PeerClosed, signal.Readable, 0)
		} else {
			// The consumer can still drain the buffer.
			p.consumer.tracker.UpdateSatisfied(0, signal.PeerClosed)
		}
	}
}

func (p *dataPipe) onConsumerClosed() {
	p.mu.Lock()
	p.consumerAlive = false
	p.twRead = false
	producerAlive := p.producerAlive
	p.mu.Unlock()

	if producerAlive {
		p.producer.tracker.UpdateState(signal.Writable, signal.PeerClosed, signal.Writable, 0)
	}
}
