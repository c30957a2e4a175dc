package object

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Type tags the concrete kind of a dispatcher.
type Type int

const (
	TypeNone Type = iota
	TypeProcess
	TypeThread
	TypeVMO
	TypeMsgPipe
	TypeEvent
	TypeIOPort
	TypeDataPipeProducer
	TypeDataPipeConsumer
	TypeInterrupt
	TypeIoMapping
	TypePCIDevice
	TypePCIInterrupt
	TypeLog
	TypeWaitSet
	TypeSocket
	TypeResource
)

func (t Type) String() string {
	switch t {
	case TypeProcess:
		return "process"
	case TypeThread:
		return "thread"
	case TypeVMO:
		return "vm-object"
	case TypeMsgPipe:
		return "message-pipe"
	case TypeEvent:
		return "event"
	case TypeIOPort:
		return "io-port"
	case TypeDataPipeProducer:
		return "data-pipe-producer"
	case TypeDataPipeConsumer:
		return "data-pipe-consumer"
	case TypeInterrupt:
		return "interrupt"
	case TypeIoMapping:
		return "io-mapping"
	case TypePCIDevice:
		return "pci-device"
	case TypePCIInterrupt:
		return "pci-interrupt"
	case TypeLog:
		return "log"
	case TypeWaitSet:
		return "wait-set"
	case TypeSocket:
		return "socket"
	case TypeResource:
		return "resource"
	default:
		return "none"
	}
}

// Dispatcher is the contract every kernel object fulfills. Concrete types
// embed Base and override StateTracker/UserSignal as appropriate.
type Dispatcher interface {
	// Koid returns the object's kernel id; assigned at construction,
	// frozen for life.
	Koid() uint64

	// Type returns the frozen type tag.
	Type() Type

	// StateTracker returns the signaling facade, or nil for objects that
	// cannot be waited on.
	StateTracker() *signal.StateTracker

	// UserSignal applies user-settable signal bits, or reports
	// NOT_SUPPORTED / INVALID_ARGS for objects or bits that do not
	// accept them.
	UserSignal(clear, set signal.Signals) error

	// HandleCount returns the number of live handles referencing the
	// object, including handles in transit inside messages.
	HandleCount() int32

	incHandles()
	decHandles()
	portClientSlot() *portClientSlot
}

// Base carries the identity and handle bookkeeping shared by every
// dispatcher. The on-zero-handles hook is uniform across all types; there
// are no special-cased destruction paths.
type Base struct {
	koid    uint64
	typ     Type
	handles atomic.Int32
	onZero  func()
	client  portClientSlot
}

// NewBase returns a Base with a fresh koid.
func NewBase(typ Type) Base {
	return Base{koid: NewKoid(), typ: typ}
}

// Koid implements Dispatcher.
func (b *Base) Koid() uint64 { return b.koid }

// Type implements Dispatcher.
func (b *Base) Type() Type { return b.typ }

// StateTracker implements Dispatcher; objects without a tracker inherit
// this nil default.
func (b *Base) StateTracker() *signal.StateTracker { return nil }

// UserSignal implements Dispatcher; objects without user-settable signals
// inherit this default.
func (b *Base) UserSignal(clear, set signal.Signals) error {
	return status.ErrNotSupported
}

// SetOnZeroHandles installs the hook run when the last handle to the
// object is closed. It must be installed before the first handle is
// created.
func (b *Base) SetOnZeroHandles(fn func()) {
	b.onZero = fn
}

// HandleCount implements Dispatcher.
func (b *Base) HandleCount() int32 {
	return b.handles.Load()
}

func (b *Base) incHandles() {
	b.handles.Add(1)
}

func (b *Base) decHandles() {
	if n := b.handles.Add(-1); n == 0 {
		if b.onZero != nil {
			b.onZero()
		}
	} else if n < 0 {
		panic("object: dispatcher handle count underflow")
	}
}

func (b *Base) portClientSlot() *portClientSlot { return &b.client }

// portClientSlot holds a dispatcher's optional bound I/O-port client. The
// concrete client type lives in the dispatcher package; this slot only
// enforces the at-most-one binding rule.
type portClientSlot struct {
	mu     sync.Mutex
	client any
}

// BindPortClient installs a client; a second bind without an unbind fails.
func BindPortClient(d Dispatcher, client any) error {
	s := d.portClientSlot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return status.ErrAlreadyBound
	}
	s.client = client
	return nil
}

// UnbindPortClient removes and returns the bound client, if any.
func UnbindPortClient(d Dispatcher) any {
	s := d.portClientSlot()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.client
	s.client = nil
	return c
}

// BoundPortClient returns the bound client without removing it.
func BoundPortClient(d Dispatcher) any {
	s := d.portClientSlot()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}
