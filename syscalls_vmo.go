package kobj

import (
	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// VmoCreate returns a zero-filled VM object of the given size.
func (pr *Proc) VmoCreate(size uint64) (Handle, error) {
	const op = "vmo_create"
	vmo, err := dispatcher.NewVMO(size)
	if err != nil {
		return HandleInvalid, pr.done(op, WrapError(op, pr.Koid(), err))
	}
	h, err := pr.addHandle(op, vmo, object.DefaultRights(TypeVMO))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// VmoRead copies from the object at offset into buf.
func (pr *Proc) VmoRead(h Handle, buf []byte, offset uint64) (int, error) {
	const op = "vmo_read"
	vmo, err := pr.vmoFor(op, h, RightRead)
	if err != nil {
		return 0, pr.done(op, err)
	}
	n, err := vmo.Read(buf, offset)
	if err != nil {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return n, pr.done(op, nil)
}

// VmoWrite copies buf into the object at offset.
func (pr *Proc) VmoWrite(h Handle, buf []byte, offset uint64) (int, error) {
	const op = "vmo_write"
	vmo, err := pr.vmoFor(op, h, RightWrite)
	if err != nil {
		return 0, pr.done(op, err)
	}
	n, err := vmo.Write(buf, offset)
	if err != nil {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return n, pr.done(op, nil)
}

// VmoGetSize returns the object's size in bytes.
func (pr *Proc) VmoGetSize(h Handle) (uint64, error) {
	const op = "vmo_get_size"
	vmo, err := pr.vmoFor(op, h, RightNone)
	if err != nil {
		return 0, pr.done(op, err)
	}
	return vmo.Size(), pr.done(op, nil)
}

// VmoSetSize grows or truncates the object.
func (pr *Proc) VmoSetSize(h Handle, size uint64) error {
	const op = "vmo_set_size"
	vmo, err := pr.vmoFor(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := vmo.SetSize(size); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// VmoOpRange applies a range operation (commit, decommit, zero).
func (pr *Proc) VmoOpRange(h Handle, vmoOp uint32, offset, length uint64) error {
	const op = "vmo_op_range"
	required := RightNone
	if vmoOp == VMOOpDecommit || vmoOp == VMOOpZero {
		required = RightWrite
	}
	vmo, err := pr.vmoFor(op, h, required)
	if err != nil {
		return pr.done(op, err)
	}
	if err := vmo.OpRange(vmoOp, offset, length); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// ProcessMapVM maps a VMO window into the address space of the process
// named by ph. Returns the assigned virtual address.
func (pr *Proc) ProcessMapVM(ph, vmoH Handle, offset, length uint64, prot Protection) (uint64, error) {
	const op = "process_map_vm"
	target, err := pr.procFor(op, ph, RightWrite)
	if err != nil {
		return 0, pr.done(op, err)
	}
	vh, err := pr.lookup(op, vmoH, RightMap)
	if err != nil {
		return 0, pr.done(op, err)
	}
	vmo, ok := vh.Dispatcher().(*dispatcher.VMO)
	if !ok {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: vmoH, Code: ErrWrongType})
	}
	// The mapping cannot outrank the handle: reads need READ, writes
	// WRITE, executable mappings EXECUTE.
	if prot&ProtRead != 0 && !vh.HasRights(RightRead) {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: vmoH, Code: ErrAccessDenied})
	}
	if prot&ProtWrite != 0 && !vh.HasRights(RightWrite) {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: vmoH, Code: ErrAccessDenied})
	}
	if prot&ProtExec != 0 && !vh.HasRights(RightExecute) {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: vmoH, Code: ErrAccessDenied})
	}

	addr, err := target.p.Aspace().Map(vmo, offset, length, prot)
	if err != nil {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: vmoH, Code: GetCode(err)})
	}
	return addr, pr.done(op, nil)
}

// ProcessUnmapVM removes the mapping at addr.
func (pr *Proc) ProcessUnmapVM(ph Handle, addr, length uint64) error {
	const op = "process_unmap_vm"
	target, err := pr.procFor(op, ph, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := target.p.Aspace().Unmap(addr, length); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: ph, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// ProcessProtectVM changes the protection of the mapping at addr.
// READ, READ|WRITE, and READ|EXECUTE are accepted; write-only is not.
func (pr *Proc) ProcessProtectVM(ph Handle, addr, length uint64, prot Protection) error {
	const op = "process_protect_vm"
	target, err := pr.procFor(op, ph, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := target.p.Aspace().Protect(addr, length, prot); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: ph, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// IoMappingCreate hands out a direct window over a VMO range.
func (pr *Proc) IoMappingCreate(vmoH Handle, offset, length uint64) (Handle, error) {
	const op = "iomapping_create"
	vh, err := pr.lookup(op, vmoH, RightMap)
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	vmo, ok := vh.Dispatcher().(*dispatcher.VMO)
	if !ok {
		return HandleInvalid, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: vmoH, Code: ErrWrongType})
	}
	m, err := dispatcher.NewIoMapping(vmo, offset, length)
	if err != nil {
		return HandleInvalid, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: vmoH, Code: GetCode(err)})
	}
	h, err := pr.addHandle(op, m, object.DefaultRights(TypeIoMapping))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// IoMappingBuffer returns the live window of an I/O mapping.
func (pr *Proc) IoMappingBuffer(h Handle) ([]byte, error) {
	const op = "iomapping_buffer"
	handle, err := pr.lookupTyped(op, h, RightRead|RightWrite, TypeIoMapping)
	if err != nil {
		return nil, pr.done(op, err)
	}
	m, ok := handle.Dispatcher().(*dispatcher.IoMapping)
	if !ok {
		panic("kobj: io-mapping type tag on foreign dispatcher")
	}
	buf := m.Buffer()
	if buf == nil {
		return nil, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: ErrBadState})
	}
	return buf, pr.done(op, nil)
}

func (pr *Proc) vmoFor(op string, h Handle, required Rights) (*dispatcher.VMO, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeVMO)
	if err != nil {
		return nil, err
	}
	vmo, ok := handle.Dispatcher().(*dispatcher.VMO)
	if !ok {
		panic("kobj: vm-object type tag on foreign dispatcher")
	}
	return vmo, nil
}
