package object

// Handle is a per-process capability to a dispatcher. Handles live in the
// global arena; at any instant a handle is owned by exactly one process
// table or is in transit inside a message (owner zero).
//
// The owner field is written only under the owning table's lock (or, for
// in-transit handles, by the pipe that carries them before any table can
// see them); the arena lock guards allocation state.
type Handle struct {
	dispatcher Dispatcher
	rights     Rights
	index      uint32
	owner      uint64
	inUse      bool
}

// Dispatcher returns the referenced kernel object.
func (h *Handle) Dispatcher() Dispatcher { return h.dispatcher }

// Rights returns the handle's rights mask.
func (h *Handle) Rights() Rights { return h.rights }

// HasRights reports whether the handle carries every right in want.
func (h *Handle) HasRights(want Rights) bool { return h.rights.Has(want) }

// Owner returns the owning process koid, or zero for a handle in transit.
func (h *Handle) Owner() uint64 { return h.owner }

// Index returns the handle's arena slot index.
func (h *Handle) Index() uint32 { return h.index }

// EncodeHandleValue computes the user-visible value for an arena index:
// the index shifted past the reserved bits, the validity tag set, then the
// per-process secret XORed in. With the secret's top and low-two bits
// clear, values come out non-negative with the low bit set, and zero is
// never produced.
func EncodeHandleValue(index, secret uint32) uint32 {
	return ((index << 2) | 1) ^ secret
}

// DecodeHandleValue inverts EncodeHandleValue, reporting false for values
// whose reserved bits do not check out.
func DecodeHandleValue(value, secret uint32) (uint32, bool) {
	if value == 0 || int32(value) < 0 {
		return 0, false
	}
	x := value ^ secret
	if x&3 != 1 {
		return 0, false
	}
	return x >> 2, true
}
