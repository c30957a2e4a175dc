package kobj

import (
	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// DataPipeCreate returns the producer and consumer ends of a fresh ring
// carrying elements of elemSize bytes. Zero capacity selects the default.
func (pr *Proc) DataPipeCreate(elemSize, capacity int) (Handle, Handle, error) {
	const op = "datapipe_create"
	prod, cons, err := dispatcher.NewDataPipe(elemSize, capacity)
	if err != nil {
		return HandleInvalid, HandleInvalid, pr.done(op, WrapError(op, pr.Koid(), err))
	}
	hp, err := pr.addHandle(op, prod, object.DefaultRights(TypeDataPipeProducer))
	if err != nil {
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	hc, err := pr.addHandle(op, cons, object.DefaultRights(TypeDataPipeConsumer))
	if err != nil {
		_ = pr.HandleClose(hp)
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	return hp, hc, pr.done(op, nil)
}

// DataPipeWrite copies whole elements into the ring.
func (pr *Proc) DataPipeWrite(h Handle, b []byte, allOrNone bool) (int, error) {
	const op = "datapipe_write"
	prod, err := pr.producerFor(op, h, RightWrite)
	if err != nil {
		return 0, pr.done(op, err)
	}
	n, err := prod.Write(b, allOrNone)
	if err != nil {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return n, pr.done(op, nil)
}

// DataPipeRead copies, peeks, or discards whole elements per opts.
func (pr *Proc) DataPipeRead(h Handle, b []byte, opts DataPipeReadOptions) (int, error) {
	const op = "datapipe_read"
	cons, err := pr.consumerFor(op, h, RightRead)
	if err != nil {
		return 0, pr.done(op, err)
	}
	n, err := cons.Read(b, opts)
	if err != nil {
		return 0, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return n, pr.done(op, nil)
}

// DataPipeQuery returns the bytes available to read.
func (pr *Proc) DataPipeQuery(h Handle) (int, error) {
	const op = "datapipe_query"
	cons, err := pr.consumerFor(op, h, RightRead)
	if err != nil {
		return 0, pr.done(op, err)
	}
	return cons.Query(), pr.done(op, nil)
}

// DataPipeBeginWrite maps a contiguous free span of the ring for direct
// writing; DataPipeEndWrite commits it.
func (pr *Proc) DataPipeBeginWrite(h Handle) ([]byte, error) {
	const op = "datapipe_begin_write"
	prod, err := pr.producerFor(op, h, RightWrite)
	if err != nil {
		return nil, pr.done(op, err)
	}
	win, err := prod.BeginWrite()
	if err != nil {
		return nil, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return win, pr.done(op, nil)
}

// DataPipeEndWrite commits consumed bytes of the mapped span; zero
// releases it without advancing.
func (pr *Proc) DataPipeEndWrite(h Handle, consumed int) error {
	const op = "datapipe_end_write"
	prod, err := pr.producerFor(op, h, RightWrite)
	if err != nil {
		return pr.done(op, err)
	}
	if err := prod.EndWrite(consumed); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

// DataPipeBeginRead maps the contiguous head of the ring for direct
// reading; DataPipeEndRead consumes it.
func (pr *Proc) DataPipeBeginRead(h Handle) ([]byte, error) {
	const op = "datapipe_begin_read"
	cons, err := pr.consumerFor(op, h, RightRead)
	if err != nil {
		return nil, pr.done(op, err)
	}
	win, err := cons.BeginRead()
	if err != nil {
		return nil, pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return win, pr.done(op, nil)
}

// DataPipeEndRead consumes bytes of the mapped span; zero releases it
// without advancing.
func (pr *Proc) DataPipeEndRead(h Handle, consumed int) error {
	const op = "datapipe_end_read"
	cons, err := pr.consumerFor(op, h, RightRead)
	if err != nil {
		return pr.done(op, err)
	}
	if err := cons.EndRead(consumed); err != nil {
		return pr.done(op, &Error{Op: op, Proc: pr.Koid(), Handle: h, Code: GetCode(err)})
	}
	return pr.done(op, nil)
}

func (pr *Proc) producerFor(op string, h Handle, required Rights) (*dispatcher.DataPipeProducer, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeDataPipeProducer)
	if err != nil {
		return nil, err
	}
	prod, ok := handle.Dispatcher().(*dispatcher.DataPipeProducer)
	if !ok {
		panic("kobj: data-pipe-producer type tag on foreign dispatcher")
	}
	return prod, nil
}

func (pr *Proc) consumerFor(op string, h Handle, required Rights) (*dispatcher.DataPipeConsumer, error) {
	handle, err := pr.lookupTyped(op, h, required, TypeDataPipeConsumer)
	if err != nil {
		return nil, err
	}
	cons, ok := handle.Dispatcher().(*dispatcher.DataPipeConsumer)
	if !ok {
		panic("kobj: data-pipe-consumer type tag on foreign dispatcher")
	}
	return cons, nil
}
