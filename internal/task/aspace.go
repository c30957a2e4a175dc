package task

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Protection bits for mappings.
type Protection uint32

const (
	ProtRead  Protection = 1 << 0
	ProtWrite Protection = 1 << 1
	ProtExec  Protection = 1 << 2
)

// validProtection admits R, R|W, and R|X. Write-only (and W|X) mappings
// are rejected.
func validProtection(p Protection) bool {
	switch p {
	case ProtRead, ProtRead | ProtWrite, ProtRead | ProtExec:
		return true
	default:
		return false
	}
}

const pageSize = 4096

// Mapping is one VMO window placed in an address space.
type Mapping struct {
	Addr   uint64
	Len    uint64
	VMO    *dispatcher.VMO
	Offset uint64
	Prot   Protection
}

// AddressSpace tracks a process's VMO mappings. Virtual addresses are
// synthetic: allocation is a simple bump past the last mapping.
type AddressSpace struct {
	mu       sync.Mutex
	mappings map[uint64]*Mapping
	next     uint64
}

// NewAddressSpace returns an empty space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		mappings: make(map[uint64]*Mapping),
		next:     pageSize, // address zero stays unmapped
	}
}

func roundUpPage(n uint64) uint64 {
	return (n + pageSize - 1) &^ uint64(pageSize-1)
}

// Map places [offset, offset+length) of vmo at a fresh address.
func (as *AddressSpace) Map(vmo *dispatcher.VMO, offset, length uint64, prot Protection) (uint64, error) {
	if length == 0 || !validProtection(prot) {
		return 0, status.ErrInvalidArgs
	}
	if offset+length < offset || offset+length > vmo.Size() {
		return 0, status.ErrOutOfRange
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	addr := as.next
	as.next += roundUpPage(length)
	as.mappings[addr] = &Mapping{
		Addr:   addr,
		Len:    length,
		VMO:    vmo,
		Offset: offset,
		Prot:   prot,
	}
	return addr, nil
}

// Unmap removes the mapping at addr. Partial unmaps are not supported:
// the length must cover the whole mapping.
func (as *AddressSpace) Unmap(addr, length uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.mappings[addr]
	if !ok {
		return status.ErrNotFound
	}
	if length < m.Len {
		return status.ErrInvalidArgs
	}
	delete(as.mappings, addr)
	return nil
}

// Protect changes the protection of the mapping at addr.
func (as *AddressSpace) Protect(addr, length uint64, prot Protection) error {
	if !validProtection(prot) {
		return status.ErrInvalidArgs
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.mappings[addr]
	if !ok {
		return status.ErrNotFound
	}
	if length > m.Len {
		return status.ErrInvalidArgs
	}
	m.Prot = prot
	return nil
}

// Lookup returns the mapping at addr, if any.
func (as *AddressSpace) Lookup(addr uint64) (*Mapping, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.mappings[addr]
	return m, ok
}

// MappingCount returns the number of live mappings.
func (as *AddressSpace) MappingCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return len(as.mappings)
}

// Destroy drops every mapping; used on process death.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.mappings = make(map[uint64]*Mapping)
}
