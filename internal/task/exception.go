package task

import (
	"encoding/binary"
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Exception subtypes.
const (
	ExceptionGeneral uint32 = iota
	ExceptionPageFault
	ExceptionUndefinedInstruction
	ExceptionSwBreakpoint
	ExceptionUnalignedAccess
	ExceptionProcessExit
)

// ArchIDGo identifies the synthetic register file this kernel reports.
const ArchIDGo uint32 = 0x676F // "go"

// NumRegisters is the size of the reported register file.
const NumRegisters = 16

// ExceptionContext is the machine state snapshot delivered with a fault.
type ExceptionContext struct {
	ArchID    uint32
	PID       uint64
	TID       uint64
	Subtype   uint32
	PC        uint64
	FaultAddr uint64
	Regs      [NumRegisters]uint64
}

// ExceptionReport is the wire form: a (size, type) header followed by the
// context.
type ExceptionReport struct {
	Type    uint32
	Context ExceptionContext
}

// ReportSize is the marshaled size of an exception report.
const ReportSize = 4 + 4 + // header: size, type
	4 + 4 + // arch id, subtype
	8 + 8 + // pid, tid
	8 + 8 + // pc, fault address
	8*NumRegisters

// Marshal encodes the report little-endian, header first.
func (r *ExceptionReport) Marshal() []byte {
	buf := make([]byte, ReportSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], ReportSize)
	le.PutUint32(buf[4:8], r.Type)
	le.PutUint32(buf[8:12], r.Context.ArchID)
	le.PutUint32(buf[12:16], r.Context.Subtype)
	le.PutUint64(buf[16:24], r.Context.PID)
	le.PutUint64(buf[24:32], r.Context.TID)
	le.PutUint64(buf[32:40], r.Context.PC)
	le.PutUint64(buf[40:48], r.Context.FaultAddr)
	off := 48
	for i := 0; i < NumRegisters; i++ {
		le.PutUint64(buf[off:off+8], r.Context.Regs[i])
		off += 8
	}
	return buf
}

// UnmarshalExceptionReport decodes a report, validating the size header.
func UnmarshalExceptionReport(buf []byte) (*ExceptionReport, error) {
	if len(buf) < ReportSize {
		return nil, status.ErrBufferTooSmall
	}
	le := binary.LittleEndian
	if le.Uint32(buf[0:4]) != ReportSize {
		return nil, status.ErrInvalidArgs
	}
	r := &ExceptionReport{Type: le.Uint32(buf[4:8])}
	r.Context.ArchID = le.Uint32(buf[8:12])
	r.Context.Subtype = le.Uint32(buf[12:16])
	r.Context.PID = le.Uint64(buf[16:24])
	r.Context.TID = le.Uint64(buf[24:32])
	r.Context.PC = le.Uint64(buf[32:40])
	r.Context.FaultAddr = le.Uint64(buf[40:48])
	off := 48
	for i := 0; i < NumRegisters; i++ {
		r.Context.Regs[i] = le.Uint64(buf[off : off+8])
		off += 8
	}
	return r, nil
}

// ExceptionPort designates a message-pipe end to receive fault reports
// under a caller-chosen key.
type ExceptionPort struct {
	Key  uint64
	Pipe *dispatcher.MsgPipe
}

// ExceptionScope holds at most one port. Replacing a set port requires
// clearing it first.
type ExceptionScope struct {
	mu   sync.Mutex
	port *ExceptionPort
}

// Set installs a port; fails if one is already installed.
func (s *ExceptionScope) Set(port *ExceptionPort) error {
	if port == nil || port.Pipe == nil {
		return status.ErrInvalidArgs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return status.ErrAlreadyBound
	}
	s.port = port
	return nil
}

// Clear removes the installed port, if any.
func (s *ExceptionScope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = nil
}

// Get returns the installed port, or nil.
func (s *ExceptionScope) Get() *ExceptionPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// deliver queues a report on the scope's pipe if a port is installed.
// Returns false when no port is set or the pipe refused the report.
func (s *ExceptionScope) deliver(report *ExceptionReport) bool {
	port := s.Get()
	if port == nil {
		return false
	}
	return port.Pipe.Write(report.Marshal(), nil, false) == nil
}
