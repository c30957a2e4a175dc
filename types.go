package kobj

import (
	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/task"
	"github.com/ehrlich-b/go-kobj/internal/waiter"
)

// Handle is the opaque user-visible handle value: non-negative, low bit
// set, never zero, meaningless outside the owning process.
type Handle = uint32

// HandleInvalid is never a valid handle.
const HandleInvalid Handle = 0

// Rights restrict which operations a handle permits.
type Rights = object.Rights

// Rights bits.
const (
	RightNone        = object.RightNone
	RightDuplicate   = object.RightDuplicate
	RightTransfer    = object.RightTransfer
	RightRead        = object.RightRead
	RightWrite       = object.RightWrite
	RightExecute     = object.RightExecute
	RightMap         = object.RightMap
	RightGetProperty = object.RightGetProperty
	RightSetProperty = object.RightSetProperty
	RightSameRights  = object.RightSameRights
)

// Signals is the level-triggered condition bitmask.
type Signals = signal.Signals

// Signal bits.
const (
	SignalReadable   = signal.Readable
	SignalWritable   = signal.Writable
	SignalPeerClosed = signal.PeerClosed
	SignalSignaled   = signal.Signaled
	SignalUser0      = signal.User0
	SignalUser1      = signal.User1
	SignalUser2      = signal.User2
	SignalUser3      = signal.User3
	SignalUserAll    = signal.UserAll
)

// SignalsState is an observable (satisfied, satisfiable) pair.
type SignalsState = signal.State

// ObjectType tags a dispatcher's concrete kind.
type ObjectType = object.Type

// Object types.
const (
	TypeProcess          = object.TypeProcess
	TypeThread           = object.TypeThread
	TypeVMO              = object.TypeVMO
	TypeMsgPipe          = object.TypeMsgPipe
	TypeEvent            = object.TypeEvent
	TypeIOPort           = object.TypeIOPort
	TypeDataPipeProducer = object.TypeDataPipeProducer
	TypeDataPipeConsumer = object.TypeDataPipeConsumer
	TypeInterrupt        = object.TypeInterrupt
	TypeIoMapping        = object.TypeIoMapping
	TypeLog              = object.TypeLog
	TypeWaitSet          = object.TypeWaitSet
	TypeSocket           = object.TypeSocket
	TypeResource         = object.TypeResource
)

// TimeoutInfinite blocks a wait without a deadline; a zero timeout polls.
const TimeoutInfinite = waiter.TimeoutInfinite

// IOPacket is one I/O-port packet.
type IOPacket = dispatcher.IOPacket

// Packet types.
const (
	PacketTypeUser      = dispatcher.PacketTypeUser
	PacketTypeSignal    = dispatcher.PacketTypeSignal
	PacketTypeException = dispatcher.PacketTypeException
)

// WaitSetResult is one ready entry reported by WaitSetWait.
type WaitSetResult = dispatcher.WaitSetResult

// LogRecord is one kernel log entry.
type LogRecord = dispatcher.LogRecord

// LogFlagReadable makes a created log handle readable.
const LogFlagReadable = dispatcher.LogFlagReadable

// DataPipeReadOptions select the data-pipe copy-read variants.
type DataPipeReadOptions = dispatcher.ReadOptions

// VMO range op codes.
const (
	VMOOpCommit   = dispatcher.VMOOpCommit
	VMOOpDecommit = dispatcher.VMOOpDecommit
	VMOOpZero     = dispatcher.VMOOpZero
)

// Protection bits for process VM mappings.
type Protection = task.Protection

const (
	ProtRead  = task.ProtRead
	ProtWrite = task.ProtWrite
	ProtExec  = task.ProtExec
)

// BadHandlePolicy selects a process's reaction to bad handles.
type BadHandlePolicy = task.BadHandlePolicy

const (
	PolicyIgnore = task.PolicyIgnore
	PolicyLog    = task.PolicyLog
	PolicyExit   = task.PolicyExit
)

// ProcessState is the process lifecycle state.
type ProcessState = task.ProcessState

const (
	ProcessInitial = task.ProcessInitial
	ProcessRunning = task.ProcessRunning
	ProcessDying   = task.ProcessDying
	ProcessDead    = task.ProcessDead
)

// ThreadState is the thread lifecycle state.
type ThreadState = task.ThreadState

const (
	ThreadInitial = task.ThreadInitial
	ThreadRunning = task.ThreadRunning
	ThreadDying   = task.ThreadDying
	ThreadDead    = task.ThreadDead
)

// EntryFunc is a thread body; the context cancels when the thread is
// killed.
type EntryFunc = task.EntryFunc

// Exception subtypes.
const (
	ExceptionGeneral              = task.ExceptionGeneral
	ExceptionPageFault            = task.ExceptionPageFault
	ExceptionUndefinedInstruction = task.ExceptionUndefinedInstruction
	ExceptionSwBreakpoint         = task.ExceptionSwBreakpoint
	ExceptionUnalignedAccess      = task.ExceptionUnalignedAccess
	ExceptionProcessExit          = task.ExceptionProcessExit
)

// ExceptionReport is a decoded fault report.
type ExceptionReport = task.ExceptionReport

// UnmarshalExceptionReport decodes a report read from an exception port's
// message pipe.
func UnmarshalExceptionReport(buf []byte) (*ExceptionReport, error) {
	return task.UnmarshalExceptionReport(buf)
}
