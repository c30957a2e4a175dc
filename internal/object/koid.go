// Package object implements the capability plumbing of the kernel core:
// kernel object identity, the dispatcher contract, handles, the global
// handle arena, and per-process handle tables.
package object

import "sync/atomic"

var koidCounter atomic.Uint64

// NewKoid returns the next kernel object id. Koids are globally monotonic,
// never reused, and never zero.
func NewKoid() uint64 {
	return koidCounter.Add(1)
}
