package dispatcher

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// VMO range operations.
const (
	VMOOpCommit uint32 = iota
	VMOOpDecommit
	VMOOpZero
)

// VMO is a resizable byte store backing mappings and copy operations.
type VMO struct {
	object.Base
	mu      sync.Mutex
	data    []byte
	tracker *signal.StateTracker
}

// NewVMO returns a zero-filled VMO of the given size.
func NewVMO(size uint64) (*VMO, error) {
	if size > uint64(int(^uint(0)>>1)) {
		return nil, status.ErrNoMemory
	}
	return &VMO{
		Base:    object.NewBase(object.TypeVMO),
		data:    make([]byte, size),
		tracker: signal.New(0, signal.UserAll),
	}, nil
}

// StateTracker implements object.Dispatcher. VMOs expose only the user
// signal range.
func (v *VMO) StateTracker() *signal.StateTracker { return v.tracker }

// UserSignal implements object.Dispatcher.
func (v *VMO) UserSignal(clear, set signal.Signals) error {
	if (clear|set)&^signal.UserAll != 0 {
		return status.ErrInvalidArgs
	}
	v.tracker.UserSignal(clear, set)
	return nil
}

// Size returns the current size in bytes.
func (v *VMO) Size() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return uint64(len(v.data))
}

// SetSize grows or truncates the store; growth zero-fills.
func (v *VMO) SetSize(size uint64) error {
	if size > uint64(int(^uint(0)>>1)) {
		return status.ErrNoMemory
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	n := int(size)
	switch {
	case n <= len(v.data):
		v.data = v.data[:n]
	case n <= cap(v.data):
		old := len(v.data)
		v.data = v.data[:n]
		for i := old; i < n; i++ {
			v.data[i] = 0
		}
	default:
		grown := make([]byte, n)
		copy(grown, v.data)
		v.data = grown
	}
	return nil
}

// Read copies from offset into buf, returning the bytes copied. An offset
// past the end is out of range; an offset at the end copies nothing, and a
// short tail copy is not an error.
func (v *VMO) Read(buf []byte, offset uint64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if offset > uint64(len(v.data)) {
		return 0, status.ErrOutOfRange
	}
	return copy(buf, v.data[offset:]), nil
}

// Write copies buf into the store at offset.
func (v *VMO) Write(buf []byte, offset uint64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if offset > uint64(len(v.data)) {
		return 0, status.ErrOutOfRange
	}
	return copy(v.data[offset:], buf), nil
}

// OpRange applies a range operation. Commit only validates the range;
// decommit and zero both clear it.
func (v *VMO) OpRange(op uint32, offset, length uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	end := offset + length
	if end < offset || end > uint64(len(v.data)) {
		return status.ErrOutOfRange
	}
	switch op {
	case VMOOpCommit:
		// Backing storage is always committed.
	case VMOOpDecommit, VMOOpZero:
		for i := offset; i < end; i++ {
			v.data[i] = 0
		}
	default:
		return status.ErrInvalidArgs
	}
	return nil
}

// window returns a slice of the store for mappings. Callers hold the
// returned slice only while the mapping object is alive.
func (v *VMO) window(offset, length uint64) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	end := offset + length
	if end < offset || end > uint64(len(v.data)) {
		return nil, status.ErrOutOfRange
	}
	return v.data[offset:end], nil
}
