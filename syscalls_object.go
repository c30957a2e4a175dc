package kobj

import (
	"encoding/binary"

	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/task"
)

// ObjectInfo is the object_get_info result.
type ObjectInfo struct {
	Koid        uint64
	Type        ObjectType
	Rights      Rights
	HandleCount int32
	State       SignalsState // zero for objects without a tracker
}

// ObjectGetInfo reports identity and accounting for the object behind h.
func (pr *Proc) ObjectGetInfo(h Handle) (ObjectInfo, error) {
	const op = "object_get_info"
	handle, err := pr.lookup(op, h, RightNone)
	if err != nil {
		return ObjectInfo{}, pr.done(op, err)
	}
	d := handle.Dispatcher()
	info := ObjectInfo{
		Koid:        d.Koid(),
		Type:        d.Type(),
		Rights:      handle.Rights(),
		HandleCount: d.HandleCount(),
	}
	if tracker := d.StateTracker(); tracker != nil {
		info.State = tracker.State()
	}
	return info, pr.done(op, nil)
}

// ObjectSignal applies user signal bits to the object behind h.
func (pr *Proc) ObjectSignal(h Handle, clear, set Signals) error {
	const op = "object_signal"
	handle, err := pr.lookup(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := handle.Dispatcher().UserSignal(clear, set); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// Object properties.
const (
	PropName                   uint32 = 1
	PropBadHandlePolicy        uint32 = 2
	PropDataPipeWriteThreshold uint32 = 3
	PropDataPipeReadThreshold  uint32 = 4
)

// ObjectGetProperty reads a property into buf and returns the bytes
// written.
func (pr *Proc) ObjectGetProperty(h Handle, prop uint32, buf []byte) (int, error) {
	const op = "object_get_property"
	handle, err := pr.lookup(op, h, RightGetProperty)
	if err != nil {
		return 0, pr.done(op, err)
	}
	d := handle.Dispatcher()

	fail := func(code Code) (int, error) {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: code})
	}
	put64 := func(v uint64) (int, error) {
		if len(buf) < 8 {
			return fail(ErrBufferTooSmall)
		}
		binary.LittleEndian.PutUint64(buf[:8], v)
		return 8, pr.done(op, nil)
	}

	switch prop {
	case PropName:
		var name string
		switch t := d.(type) {
		case *task.Process:
			name = t.Name()
		case *task.Thread:
			name = t.Name()
		default:
			return fail(ErrWrongType)
		}
		if len(buf) < len(name) {
			return fail(ErrBufferTooSmall)
		}
		return copy(buf, name), pr.done(op, nil)

	case PropBadHandlePolicy:
		t, ok := d.(*task.Process)
		if !ok {
			return fail(ErrWrongType)
		}
		return put64(uint64(t.BadHandlePolicy()))

	case PropDataPipeWriteThreshold:
		t, ok := d.(*dispatcher.DataPipeProducer)
		if !ok {
			return fail(ErrWrongType)
		}
		return put64(uint64(t.WriteThreshold()))

	case PropDataPipeReadThreshold:
		t, ok := d.(*dispatcher.DataPipeConsumer)
		if !ok {
			return fail(ErrWrongType)
		}
		return put64(uint64(t.ReadThreshold()))

	default:
		return fail(ErrInvalidArgs)
	}
}

// ObjectSetProperty writes a property from buf.
func (pr *Proc) ObjectSetProperty(h Handle, prop uint32, buf []byte) error {
	const op = "object_set_property"
	handle, err := pr.lookup(op, h, RightSetProperty)
	if err != nil {
		return pr.done(op, err)
	}
	d := handle.Dispatcher()

	fail := func(code Code) error {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: code})
	}
	get64 := func() (uint64, bool) {
		if len(buf) < 8 {
			return 0, false
		}
		return binary.LittleEndian.Uint64(buf[:8]), true
	}

	switch prop {
	case PropBadHandlePolicy:
		t, ok := d.(*task.Process)
		if !ok {
			return fail(ErrWrongType)
		}
		v, ok := get64()
		if !ok {
			return fail(ErrBufferTooSmall)
		}
		if err := t.SetBadHandlePolicy(BadHandlePolicy(v)); err != nil {
			return fail(GetCode(err))
		}
		return pr.done(op, nil)

	case PropDataPipeWriteThreshold:
		t, ok := d.(*dispatcher.DataPipeProducer)
		if !ok {
			return fail(ErrWrongType)
		}
		v, ok := get64()
		if !ok {
			return fail(ErrBufferTooSmall)
		}
		if err := t.SetWriteThreshold(int(v)); err != nil {
			return fail(GetCode(err))
		}
		return pr.done(op, nil)

	case PropDataPipeReadThreshold:
		t, ok := d.(*dispatcher.DataPipeConsumer)
		if !ok {
			return fail(ErrWrongType)
		}
		v, ok := get64()
		if !ok {
			return fail(ErrBufferTooSmall)
		}
		if err := t.SetReadThreshold(int(v)); err != nil {
			return fail(GetCode(err))
		}
		return pr.done(op, nil)

	case PropName:
		return fail(ErrNotSupported)

	default:
		return fail(ErrInvalidArgs)
	}
}
