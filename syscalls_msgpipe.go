package kobj

import (
	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// Message pipe write flags.
const (
	// MsgPipeFlagReplyPipe marks a write that transfers the pipe's own
	// handle through itself; it must be the last handle listed.
	MsgPipeFlagReplyPipe uint32 = 1 << 0
)

// MsgPipeCreate returns the two endpoints of a fresh message pipe.
func (pr *Proc) MsgPipeCreate(flags uint32) (Handle, Handle, error) {
	const op = "msgpipe_create"
	if flags != 0 {
		return HandleInvalid, HandleInvalid, pr.done(op, NewError(op, ErrInvalidArgs, "bad flags"))
	}
	e0, e1 := dispatcher.NewMsgPipePair(pr.k.arena)
	h0, err := pr.addHandle(op, e0, object.DefaultRights(TypeMsgPipe))
	if err != nil {
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	h1, err := pr.addHandle(op, e1, object.DefaultRights(TypeMsgPipe))
	if err != nil {
		// Roll the first endpoint back; its close tears the pipe down.
		_ = pr.HandleClose(h0)
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	return h0, h1, pr.done(op, nil)
}

// MsgPipeWrite sends data and optionally transfers handles. The transfer
// is atomic: on success every listed handle has left this process; on any
// failure the table is unchanged.
func (pr *Proc) MsgPipeWrite(h Handle, data []byte, handles []Handle, flags uint32) error {
	const op = "msgpipe_write"
	if flags&^MsgPipeFlagReplyPipe != 0 {
		return pr.done(op, NewError(op, ErrInvalidArgs, "bad flags"))
	}
	endpoint, err := pr.msgPipeFor(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	tbl, err := pr.table(op)
	if err != nil {
		return pr.done(op, err)
	}

	// Pull the transferred handles out of the table, keeping an undo log
	// so a failure part-way restores every removal.
	removed := make([]*object.Handle, 0, len(handles))
	seen := make(map[Handle]struct{}, len(handles))
	var werr error
	for _, hv := range handles {
		if _, dup := seen[hv]; dup {
			werr = &Error{Op: op, Proc: pr.Koid(), Handle: hv, Code: ErrInvalidArgs, Msg: "duplicate handle in transfer"}
			break
		}
		seen[hv] = struct{}{}
		rh, err := tbl.Remove(hv)
		if err != nil {
			werr = pr.badHandle(op, hv)
			break
		}
		removed = append(removed, rh)
		if !rh.HasRights(RightTransfer) {
			werr = &Error{Op: op, Proc: pr.Koid(), Handle: hv, Code: ErrAccessDenied}
			break
		}
	}
	if werr == nil {
		if err := endpoint.Write(data, removed, flags&MsgPipeFlagReplyPipe != 0); err != nil {
			werr = &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)}
		}
	}
	if werr != nil {
		for _, rh := range removed {
			tbl.UndoRemove(rh)
		}
		return pr.done(op, werr)
	}

	pr.k.metrics.MessagesWritten.Add(1)
	pr.k.metrics.MessageBytes.Add(uint64(len(data)))
	pr.k.metrics.HandlesInTransit.Add(uint64(len(removed)))
	return pr.done(op, nil)
}

// MsgPipeRead receives the head message. A buffer or handle array too
// small for the head message fails with BUFFER_TOO_SMALL and leaves it
// queued; the returned count then reports the required payload size.
func (pr *Proc) MsgPipeRead(h Handle, buf []byte, maxHandles int) (int, []Handle, error) {
	const op = "msgpipe_read"
	endpoint, err := pr.msgPipeFor(op, h, RightRead)
	if err != nil {
		return 0, nil, pr.done(op, err)
	}
	tbl, err := pr.table(op)
	if err != nil {
		return 0, nil, pr.done(op, err)
	}

	dataLen, numHandles, err := endpoint.BeginRead()
	if err != nil {
		return 0, nil, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	if dataLen > len(buf) || numHandles > maxHandles {
		return dataLen, nil, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: ErrBufferTooSmall})
	}
	pkt, err := endpoint.AcceptRead()
	if err != nil {
		return 0, nil, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}

	n := copy(buf, pkt.Data)
	values := make([]Handle, len(pkt.Handles))
	for i, rh := range pkt.Handles {
		// Cancel waits that were attached through the in-flight handle
		// identity before it becomes visible in this table.
		if tracker := rh.Dispatcher().StateTracker(); tracker != nil {
			tracker.Cancel(rh)
		}
		values[i] = tbl.Add(rh)
	}
	pkt.Release()

	pr.k.metrics.MessagesRead.Add(1)
	if len(values) > 0 {
		pr.k.metrics.HandlesInTransit.Add(^uint64(len(values) - 1))
	}
	return n, values, pr.done(op, nil)
}

// MsgPipeQueuedCount reports the unread messages on this endpoint.
func (pr *Proc) MsgPipeQueuedCount(h Handle) (int, error) {
	const op = "msgpipe_queued_count"
	endpoint, err := pr.msgPipeFor(op, h, RightNone)
	if err != nil {
		return 0, pr.done(op, err)
	}
	return endpoint.QueuedCount(), pr.done(op, nil)
}

func (pr *Proc) msgPipeFor(op string, h Handle, required Rights) (*dispatcher.MsgPipe, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeMsgPipe)
	if err != nil {
		return nil, err
	}
	endpoint, ok := handle.Dispatcher().(*dispatcher.MsgPipe)
	if !ok {
		panic("kobj: message-pipe type tag on foreign dispatcher")
	}
	return endpoint, nil
}
