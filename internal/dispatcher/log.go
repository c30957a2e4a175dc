package dispatcher

import (
	"sync"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// LogRecord is one entry in the kernel log ring.
type LogRecord struct {
	Seq       uint64
	Timestamp int64
	PID       uint64
	TID       uint64
	Data      []byte
}

// LogBuffer is the system-wide log ring. Writers append; each reader
// dispatcher keeps its own cursor. When the ring wraps, laggard readers
// skip ahead and lose the overwritten records.
type LogBuffer struct {
	mu       sync.Mutex
	records  []LogRecord
	start    int
	count    int
	nextSeq  uint64
	readers  map[*Log]struct{}
	capacity int
}

// NewLogBuffer returns an empty ring; zero capacity selects the default.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = constants.LogRingRecords
	}
	return &LogBuffer{
		records:  make([]LogRecord, capacity),
		readers:  make(map[*Log]struct{}),
		capacity: capacity,
	}
}

// Append adds a record, dropping the oldest if full, and marks every
// readable log dispatcher readable.
func (b *LogBuffer) Append(pid, tid uint64, data []byte) error {
	if len(data) > constants.MaxLogRecordData {
		return status.ErrOutOfRange
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	b.mu.Lock()
	rec := LogRecord{
		Seq:       b.nextSeq,
		Timestamp: time.Now().UnixNano(),
		PID:       pid,
		TID:       tid,
		Data:      stored,
	}
	b.nextSeq++
	if b.count == b.capacity {
		b.start = (b.start + 1) % b.capacity
		b.count--
	}
	b.records[(b.start+b.count)%b.capacity] = rec
	b.count++
	readers := make([]*Log, 0, len(b.readers))
	for r := range b.readers {
		readers = append(readers, r)
	}
	b.mu.Unlock()

	for _, r := range readers {
		r.tracker.UpdateSatisfied(0, signal.Readable)
	}
	return nil
}

// readFrom returns the first record with Seq >= seq, if any.
func (b *LogBuffer) readFrom(seq uint64) (LogRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return LogRecord{}, false
	}
	oldest := b.records[b.start].Seq
	if seq < oldest {
		seq = oldest
	}
	if seq >= b.nextSeq {
		return LogRecord{}, false
	}
	idx := (b.start + int(seq-oldest)) % b.capacity
	return b.records[idx], true
}

// Log flags.
const (
	LogFlagReadable uint32 = 1 << 0
)

// Log is a handle onto the kernel log: writers append, readable logs
// consume the ring from their own cursor.
type Log struct {
	object.Base
	buf      *LogBuffer
	readable bool
	tracker  *signal.StateTracker

	mu     sync.Mutex
	cursor uint64
}

// NewLog returns a log dispatcher over buf.
func NewLog(buf *LogBuffer, flags uint32) *Log {
	l := &Log{
		Base:     object.NewBase(object.TypeLog),
		buf:      buf,
		readable: flags&LogFlagReadable != 0,
		tracker:  signal.New(signal.Writable, signal.Readable|signal.Writable),
	}
	if l.readable {
		buf.mu.Lock()
		l.cursor = buf.nextSeq
		buf.readers[l] = struct{}{}
		buf.mu.Unlock()
		l.SetOnZeroHandles(func() {
			buf.mu.Lock()
			delete(buf.readers, l)
			buf.mu.Unlock()
		})
	}
	return l
}

// StateTracker implements object.Dispatcher.
func (l *Log) StateTracker() *signal.StateTracker { return l.tracker }

// Write appends a record attributed to the calling process and thread.
func (l *Log) Write(pid, tid uint64, data []byte) error {
	return l.buf.Append(pid, tid, data)
}

// Read consumes the next record past this log's cursor. Logs created
// without the readable flag cannot read.
func (l *Log) Read() (LogRecord, error) {
	if !l.readable {
		return LogRecord{}, status.ErrAccessDenied
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.buf.readFrom(l.cursor)
	if !ok {
		l.tracker.UpdateSatisfied(signal.Readable, 0)
		return LogRecord{}, status.ErrShouldWait
	}
	l.cursor = rec.Seq + 1
	if _, more := l.buf.readFrom(l.cursor); !more {
		l.tracker.UpdateSatisfied(signal.Readable, 0)
	}
	return rec, nil
}
