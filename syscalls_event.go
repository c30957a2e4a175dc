package kobj

import (
	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/object"
)

// EventCreate returns a fresh event object.
func (pr *Proc) EventCreate() (Handle, error) {
	const op = "event_create"
	h, err := pr.addHandle(op, dispatcher.NewEvent(), object.DefaultRights(TypeEvent))
	if err != nil {
		return HandleInvalid, pr.done(op, err)
	}
	return h, pr.done(op, nil)
}

// EventPairCreate returns both halves of a linked event pair.
func (pr *Proc) EventPairCreate() (Handle, Handle, error) {
	const op = "eventpair_create"
	e0, e1 := dispatcher.NewEventPair()
	h0, err := pr.addHandle(op, e0, object.DefaultRights(TypeEvent))
	if err != nil {
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	h1, err := pr.addHandle(op, e1, object.DefaultRights(TypeEvent))
	if err != nil {
		_ = pr.HandleClose(h0)
		return HandleInvalid, HandleInvalid, pr.done(op, err)
	}
	return h0, h1, pr.done(op, nil)
}
