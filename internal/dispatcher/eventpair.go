package dispatcher

import (
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/signal"
	"github.com/ehrlich-b/go-kobj/internal/status"
)

// EventPair is one half of a linked pair of events. Each half signals
// independently; closing the last handle to one half raises PEER_CLOSED
// on the other.
type EventPair struct {
	object.Base
	tracker *signal.StateTracker
	peer    *EventPair
}

// NewEventPair returns both halves.
func NewEventPair() (*EventPair, *EventPair) {
	mk := func() *EventPair {
		return &EventPair{
			Base:    object.NewBase(object.TypeEvent),
			tracker: signal.New(0, signal.Signaled|signal.PeerClosed|signal.UserAll),
		}
	}
	e0, e1 := mk(), mk()
	e0.peer, e1.peer = e1, e0
	e0.SetOnZeroHandles(func() { e1.onPeerClosed() })
	e1.SetOnZeroHandles(func() { e0.onPeerClosed() })
	return e0, e1
}

func (e *EventPair) onPeerClosed() {
	// Nothing further can arrive from the dead peer; only PEER_CLOSED
	// and this half's own user bits remain meaningful.
	e.tracker.UpdateState(0, signal.PeerClosed, 0, 0)
}

// StateTracker implements object.Dispatcher.
func (e *EventPair) StateTracker() *signal.StateTracker { return e.tracker }

// UserSignal implements object.Dispatcher.
func (e *EventPair) UserSignal(clear, set signal.Signals) error {
	const allowed = signal.Signaled | signal.UserAll
	if (clear|set)&^allowed != 0 {
		return status.ErrInvalidArgs
	}
	e.tracker.UserSignal(clear, set)
	return nil
}

// PeerKoid returns the koid of the other half.
func (e *EventPair) PeerKoid() uint64 { return e.peer.Koid() }
