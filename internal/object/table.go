package object

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Table is a process handle table: the mapping from randomized 32-bit
// values to owned handles. All mutations run under one mutex so value
// uniqueness and ownership are preserved across add, remove, duplicate,
// and replace. Handle destruction never happens under the table lock.
type Table struct {
	mu      sync.Mutex
	arena   *Arena
	process uint64
	secret  uint32
	handles map[uint32]*Handle
}

// NewTable returns an empty table for the given process. The secret's
// reserved bits are forced clear so encoded values keep their tag and
// sign properties.
func NewTable(arena *Arena, processKoid uint64, secret uint32) *Table {
	return &Table{
		arena:   arena,
		process: processKoid,
		secret:  secret & constants.HandleSecretMask,
		handles: make(map[uint32]*Handle),
	}
}

// Secret returns the per-process value-encoding secret.
func (t *Table) Secret() uint32 { return t.secret }

// Add takes ownership of h and returns its user-visible value.
func (t *Table) Add(h *Handle) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(h)
}

func (t *Table) addLocked(h *Handle) uint32 {
	h.owner = t.process
	t.handles[h.index] = h
	return EncodeHandleValue(h.index, t.secret)
}

// Remove releases ownership of the handle named by value and returns it.
// The handle is not destroyed.
func (t *Table) Remove(value uint32) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, err := t.lookupLocked(value)
	if err != nil {
		return nil, err
	}
	t.removeLocked(h)
	return h, nil
}

func (t *Table) removeLocked(h *Handle) {
	delete(t.handles, h.index)
	h.owner = 0
}

// UndoRemove reinstates a handle removed by Remove, restoring the same
// value (the value is a function of the stable arena index). Used to roll
// back partially failed multi-handle operations.
func (t *Table) UndoRemove(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(h)
}

// Lookup resolves value to a handle without transferring ownership.
func (t *Table) Lookup(value uint32) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(value)
}

// LookupRights resolves value and verifies the handle carries every right
// in required.
func (t *Table) LookupRights(value uint32, required Rights) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, err := t.lookupLocked(value)
	if err != nil {
		return nil, err
	}
	if !h.HasRights(required) {
		return nil, status.ErrAccessDenied
	}
	return h, nil
}

func (t *Table) lookupLocked(value uint32) (*Handle, error) {
	idx, ok := DecodeHandleValue(value, t.secret)
	if !ok {
		return nil, status.ErrBadHandle
	}
	h, ok := t.handles[idx]
	if !ok {
		return nil, status.ErrBadHandle
	}
	if h.owner != t.process {
		return nil, status.ErrBadHandle
	}
	return h, nil
}

// Value returns the user-visible value for an owned handle.
func (t *Table) Value(h *Handle) uint32 {
	return EncodeHandleValue(h.index, t.secret)
}

// Duplicate creates a second handle to the same dispatcher. The source
// must carry DUPLICATE; the requested rights must be RightSameRights or a
// subset of the source's. On failure the table is unchanged.
func (t *Table) Duplicate(value uint32, rights Rights) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.lookupLocked(value)
	if err != nil {
		return 0, err
	}
	if !h.HasRights(RightDuplicate) {
		return 0, status.ErrAccessDenied
	}
	if rights == RightSameRights {
		rights = h.Rights()
	} else if !h.Rights().Has(rights) {
		return 0, status.ErrInvalidArgs
	}

	nh, err := t.arena.New(h.Dispatcher(), rights)
	if err != nil {
		return 0, err
	}
	return t.addLocked(nh), nil
}

// Replace atomically exchanges a handle for one with new rights. The new
// rights must be RightSameRights or a subset of the old. On any failure
// the original handle remains in the table untouched; on success the old
// handle is returned for destruction outside the lock.
func (t *Table) Replace(value uint32, rights Rights) (uint32, *Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, err := t.lookupLocked(value)
	if err != nil {
		return 0, nil, err
	}
	if rights == RightSameRights {
		rights = h.Rights()
	} else if !h.Rights().Has(rights) {
		return 0, nil, status.ErrInvalidArgs
	}

	// Allocating before removing keeps the rollback trivial: a failed
	// allocation leaves the table observably unchanged.
	nh, err := t.arena.New(h.Dispatcher(), rights)
	if err != nil {
		return 0, nil, err
	}
	t.removeLocked(h)
	return t.addLocked(nh), h, nil
}

// Count returns the number of owned handles.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Drain releases ownership of every handle and returns them all. The
// caller destroys them one at a time outside the lock.
func (t *Table) Drain() []*Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		h.owner = 0
		drained = append(drained, h)
	}
	t.handles = make(map[uint32]*Handle)
	return drained
}
