package kobj

import (
	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// SocketCreate returns both halves of a fresh byte-stream socket.
func (pr *Proc) SocketCreate() (Handle, Handle, error) {
	const op = "socket_create"
	s0, s1 := dispatcher.NewSocketPair()
	h0, err := pr.addHandle(op, s0, object.DefaultRights(TypeSocket))
	if err != nil {
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	h1, err := pr.addHandle(op, s1, object.DefaultRights(TypeSocket))
	if err != nil {
		_ = pr.HandleClose(h0)
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	return h0, h1, pr.done(op, nil)
}

// SocketWrite streams bytes toward the peer half; with oob set, the whole
// buffer travels as one out-of-band datagram.
func (pr *Proc) SocketWrite(h Handle, b []byte, oob bool) (int, error) {
	const op = "socket_write"
	sock, err := pr.socketFor(op, h, RightWrite)
	if err != nil {
		return 0, pr.done(op, err)
	}
	n, err := sock.Write(b, oob)
	if err != nil {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return n, pr.done(op, nil)
}

// SocketRead drains bytes sent toward this half; with oob set, the next
// out-of-band datagram.
func (pr *Proc) SocketRead(h Handle, b []byte, oob bool) (int, error) {
	const op = "socket_read"
	sock, err := pr.socketFor(op, h, RightRead)
	if err != nil {
		return 0, pr.done(op, err)
	}
	n, err := sock.Read(b, oob)
	if err != nil {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return n, pr.done(op, nil)
}

func (pr *Proc) socketFor(op string, h Handle, required Rights) (*dispatcher.Socket, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeSocket)
	if err != nil {
		return nil, err
	}
	sock, ok := handle.Dispatcher().(*dispatcher.Socket)
	if !ok {
		panic("kobj: socket type tag on foreign dispatcher")
	}
	return sock, nil
}
