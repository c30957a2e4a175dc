package dispatcher

import (
	"sync"

	"github.com/ehrlich-b/go-kobj/internal/object"
)

// IoMapping is a window over a VMO handed out for direct access. Like
// every other dispatcher it is torn down by the uniform on-zero-handles
// hook; there is no separate close protocol.
type IoMapping struct {
	object.Base
	mu     sync.Mutex
	vmo    *VMO
	offset uint64
	length uint64
	window []byte
}

// NewIoMapping maps [offset, offset+length) of vmo.
func NewIoMapping(vmo *VMO, offset, length uint64) (*IoMapping, error) {
	win, err := vmo.window(offset, length)
	if err != nil {
		return nil, err
	}
	m := &IoMapping{
		Base:   object.NewBase(object.TypeIoMapping),
		vmo:    vmo,
		offset: offset,
		length: length,
		window: win,
	}
	m.SetOnZeroHandles(m.release)
	return m, nil
}

func (m *IoMapping) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = nil
	m.vmo = nil
}

// Buffer returns the mapped window, or nil once released.
func (m *IoMapping) Buffer() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window
}

// Range returns the mapped offset and length.
func (m *IoMapping) Range() (offset, length uint64) {
	return m.offset, m.length
}
