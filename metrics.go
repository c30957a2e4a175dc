package kobj

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a kernel instance
type Metrics struct {
	// System call counters
	Syscalls      atomic.Uint64 // Total system calls dispatched
	SyscallErrors atomic.Uint64 // System calls that returned a failure
	BadHandleHits atomic.Uint64 // Bad-handle errors routed through policy
	PolicyKills   atomic.Uint64 // Processes killed by the EXIT policy

	// Handle statistics
	HandlesCreated    atomic.Uint64 // Handles allocated from the arena
	HandlesClosed     atomic.Uint64 // Handles destroyed
	HandlesDuplicated atomic.Uint64 // handle_duplicate successes

	// Message pipe throughput
	MessagesWritten  atomic.Uint64 // Packets enqueued
	MessagesRead     atomic.Uint64 // Packets dequeued
	MessageBytes     atomic.Uint64 // Payload bytes moved
	HandlesInTransit atomic.Uint64 // Handles written into packets minus handles read out; handles destroyed with unread packets stay counted

	// Futex activity
	FutexWaits    atomic.Uint64 // futex_wait calls, including ones that do not park
	FutexWakes    atomic.Uint64 // waiters released by futex_wake and futex_requeue
	FutexRequeues atomic.Uint64 // successful futex_requeue calls

	// Task lifecycle
	ProcessesCreated atomic.Uint64
	ProcessesDead    atomic.Uint64
	ThreadsCreated   atomic.Uint64

	// Exception delivery
	ExceptionsDelivered atomic.Uint64
	ExceptionsUnhandled atomic.Uint64

	// Kernel lifecycle
	StartTime atomic.Int64 // Kernel start timestamp (UnixNano)
	StopTime  atomic.Int64 // Kernel shutdown timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop records the shutdown timestamp
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of the counters
type MetricsSnapshot struct {
	Syscalls            uint64 `json:"syscalls"`
	SyscallErrors       uint64 `json:"syscall_errors"`
	BadHandleHits       uint64 `json:"bad_handle_hits"`
	PolicyKills         uint64 `json:"policy_kills"`
	HandlesCreated      uint64 `json:"handles_created"`
	HandlesClosed       uint64 `json:"handles_closed"`
	HandlesDuplicated   uint64 `json:"handles_duplicated"`
	MessagesWritten     uint64 `json:"messages_written"`
	MessagesRead        uint64 `json:"messages_read"`
	MessageBytes        uint64 `json:"message_bytes"`
	FutexWaits          uint64 `json:"futex_waits"`
	FutexWakes          uint64 `json:"futex_wakes"`
	FutexRequeues       uint64 `json:"futex_requeues"`
	ProcessesCreated    uint64 `json:"processes_created"`
	ProcessesDead       uint64 `json:"processes_dead"`
	ThreadsCreated      uint64 `json:"threads_created"`
	ExceptionsDelivered uint64 `json:"exceptions_delivered"`
	ExceptionsUnhandled uint64 `json:"exceptions_unhandled"`
	UptimeNs            int64  `json:"uptime_ns"`
}

// Snapshot returns a consistent-enough copy for reporting
func (m *Metrics) Snapshot() MetricsSnapshot {
	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	return MetricsSnapshot{
		Syscalls:            m.Syscalls.Load(),
		SyscallErrors:       m.SyscallErrors.Load(),
		BadHandleHits:       m.BadHandleHits.Load(),
		PolicyKills:         m.PolicyKills.Load(),
		HandlesCreated:      m.HandlesCreated.Load(),
		HandlesClosed:       m.HandlesClosed.Load(),
		HandlesDuplicated:   m.HandlesDuplicated.Load(),
		MessagesWritten:     m.MessagesWritten.Load(),
		MessagesRead:        m.MessagesRead.Load(),
		MessageBytes:        m.MessageBytes.Load(),
		FutexWaits:          m.FutexWaits.Load(),
		FutexWakes:          m.FutexWakes.Load(),
		FutexRequeues:       m.FutexRequeues.Load(),
		ProcessesCreated:    m.ProcessesCreated.Load(),
		ProcessesDead:       m.ProcessesDead.Load(),
		ThreadsCreated:      m.ThreadsCreated.Load(),
		ExceptionsDelivered: m.ExceptionsDelivered.Load(),
		ExceptionsUnhandled: m.ExceptionsUnhandled.Load(),
		UptimeNs:            stop - m.StartTime.Load(),
	}
}

// Observer receives syscall completion callbacks for external metrics
// collection
type Observer interface {
	OnSyscall(op string, code Code)
}

// NoOpObserver ignores all callbacks
type NoOpObserver struct{}

// OnSyscall implements Observer
func (NoOpObserver) OnSyscall(op string, code Code) {}

// MetricsObserver folds syscall completions into a Metrics instance
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer backed by m
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

// OnSyscall implements Observer
func (o *MetricsObserver) OnSyscall(op string, code Code) {
	o.metrics.Syscalls.Add(1)
	if code != OK {
		o.metrics.SyscallErrors.Add(1)
	}
}
