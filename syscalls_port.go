package kobj

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// PortCreate returns a fresh I/O port with the given FIFO depth (zero
// selects the default).
func (pr *Proc) PortCreate(depth int) (Handle, error) {
	const op = "port_create"
	port, err := dispatcher.NewIOPort(depth)
	if err != nil {
		return HandleInvalid, pr.done(op, WrapError(op, pr.Koid(), err))
	}
	h, err := pr.addHandle(op, port, object.DefaultRights(TypeIOPort))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// PortQueue appends a user packet to the port.
func (pr *Proc) PortQueue(h Handle, pkt IOPacket) error {
	const op = "port_queue"
	port, err := pr.portFor(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := port.Queue(pkt); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// PortWait blocks until a packet arrives and dequeues it.
func (pr *Proc) PortWait(ctx context.Context, h Handle, timeout time.Duration) (IOPacket, error) {
	const op = "port_wait"
	port, err := pr.portFor(op, h, RightRead)
	if err != nil {
		return IOPacket{}, pr.done(op, err)
	}
	pkt, err := port.Wait(ctx, timeout)
	if err != nil {
		return IOPacket{}, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pkt, pr.done(op, nil)
}

// PortBind attaches the port to source's state tracker: every rising edge
// of a signal in signals enqueues a signal packet carrying key.
func (pr *Proc) PortBind(port Handle, key uint64, source Handle, signals Signals) error {
	const op = "port_bind"
	p, err := pr.portFor(op, port, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	src, err := pr.lookup(op, source, RightRead)
	if err != nil {
		return pr.done(op, err)
	}
	if _, err := dispatcher.BindPort(p, src.Dispatcher(), key, signals); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: source, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// PortUnbind detaches source's bound port client.
func (pr *Proc) PortUnbind(source Handle) error {
	const op = "port_unbind"
	src, err := pr.lookup(op, source, RightRead)
	if err != nil {
		return pr.done(op, err)
	}
	if err := dispatcher.UnbindPort(src.Dispatcher()); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: source, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

func (pr *Proc) portFor(op string, h Handle, required Rights) (*dispatcher.IOPort, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeIOPort)
	if err != nil {
		return nil, err
	}
	port, ok := handle.Dispatcher().(*dispatcher.IOPort)
	if !ok {
		panic("kobj: io-port type tag on foreign dispatcher")
	}
	return port, nil
}
