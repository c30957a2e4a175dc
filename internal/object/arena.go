package object

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Arena is the fixed-capacity slab every handle in the system is allocated
// from. Slot indices are stable for the life of a handle, which is what
// the value encoding keys off. A freed slot is zeroed; lookup relies on a
// zero slot being detectably free.
type Arena struct {
	mu    sync.Mutex
	slots []Handle
	free  []uint32
	live  int
}

// NewArena returns an arena with the given slot capacity; zero or negative
// selects the default.
func NewArena(capacity int) *Arena {
	if capacity <= 0 {
		capacity = constants.HandleArenaCapacity
	}
	a := &Arena{
		slots: make([]Handle, capacity),
		free:  make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		a.free = append(a.free, uint32(i))
	}
	return a
}

// New allocates a handle referencing d with the given rights. The handle
// starts unowned; the caller attaches it to a table or a message packet.
func (a *Arena) New(d Dispatcher, rights Rights) (*Handle, error) {
	if d == nil {
		return nil, status.ErrInvalidArgs
	}

	a.mu.Lock()
	if len(a.free) == 0 {
		a.mu.Unlock()
		return nil, status.ErrNoMemory
	}
	idx := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	h := &a.slots[idx]
	if h.inUse {
		panic("object: handle arena free-list handed out a live slot")
	}
	*h = Handle{
		dispatcher: d,
		rights:     rights,
		index:      idx,
		inUse:      true,
	}
	a.live++
	a.mu.Unlock()

	d.incHandles()
	return h, nil
}

// Delete destroys a handle: cancels waits attached through it, zeroes the
// slot, returns it to the free list, and drops the dispatcher reference
// (running the object's on-closed hook if this was the last handle). The
// handle must not be in any table.
func (a *Arena) Delete(h *Handle) {
	d := h.dispatcher
	if d == nil {
		panic("object: double free of handle")
	}
	if st := d.StateTracker(); st != nil {
		st.Cancel(h)
	}

	a.mu.Lock()
	if !h.inUse {
		a.mu.Unlock()
		panic("object: double free of handle")
	}
	idx := h.index
	*h = Handle{}
	a.free = append(a.free, idx)
	a.live--
	a.mu.Unlock()

	// The last handle dropping may destroy the object; that runs outside
	// every lock.
	d.decHandles()
}

// Get returns the live handle at index, or nil if the slot is out of range
// or free.
func (a *Arena) Get(index uint32) *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(index) >= len(a.slots) {
		return nil
	}
	h := &a.slots[index]
	if !h.inUse {
		return nil
	}
	return h
}

// LiveCount returns the number of allocated handles.
func (a *Arena) LiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Capacity returns the arena's slot count.
func (a *Arena) Capacity() int {
	return len(a.slots)
}
