package dispatcher

import "sync"

// Message payload pool. Payloads are bounded by MaxMessageSize, so four
// power-of-4 buckets cover the range without much slack. Uses the
// *[]byte pattern to avoid sync.Pool interface allocation overhead.

const (
	size1k  = 1 * 1024
	size4k  = 4 * 1024
	size16k = 16 * 1024
	size64k = 64 * 1024
)

var payloadPool = struct {
	pool1k  sync.Pool
	pool4k  sync.Pool
	pool16k sync.Pool
	pool64k sync.Pool
}{
	pool1k:  sync.Pool{New: func() any { b := make([]byte, size1k); return &b }},
	pool4k:  sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool16k: sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool64k: sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
}

// getPayload returns a pooled buffer of at least the requested size,
// sliced to it. Caller must call putPayload when the payload is consumed
// or destroyed.
func getPayload(size int) []byte {
	switch {
	case size <= size1k:
		return (*payloadPool.pool1k.Get().(*[]byte))[:size]
	case size <= size4k:
		return (*payloadPool.pool4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*payloadPool.pool16k.Get().(*[]byte))[:size]
	default:
		return (*payloadPool.pool64k.Get().(*[]byte))[:size]
	}
}

// putPayload returns a buffer to its bucket. Buffers with non-standard
// capacity are dropped.
func putPayload(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size1k:
		payloadPool.pool1k.Put(&buf)
	case size4k:
		payloadPool.pool4k.Put(&buf)
	case size16k:
		payloadPool.pool16k.Put(&buf)
	case size64k:
		payloadPool.pool64k.Put(&buf)
	}
}
