package kobj

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleWaitOneTimeout(t *testing.T) {
	_, pr := mustKernel(t)
	h, _ := pr.EventCreate()
	start := time.Now()
	_, err := pr.HandleWaitOne(context.Background(), h, SignalSignaled, 20*time.Millisecond)
	require.True(t, IsCode(err, ErrTimedOut), "wait = %v", err)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestHandleWaitOnePoll(t *testing.T) {
	_, pr := mustKernel(t)
	h, _ := pr.EventCreate()

	// Zero timeout: not ready reports immediately.
	_, err := pr.HandleWaitOne(context.Background(), h, SignalSignaled, 0)
	require.True(t, IsCode(err, ErrTimedOut))

	require.NoError(t, pr.ObjectSignal(h, 0, SignalSignaled))
	state, err := pr.HandleWaitOne(context.Background(), h, SignalSignaled, 0)
	require.NoError(t, err)
	require.NotZero(t, state.Satisfied&SignalSignaled)
}

func TestHandleWaitOneCanceledByClose(t *testing.T) {
	_, pr := mustKernel(t)
	h, _ := pr.EventCreate()

	done := make(chan error, 1)
	go func() {
		_, err := pr.HandleWaitOne(context.Background(), h, SignalSignaled, time.Second)
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, pr.HandleClose(h))

	select {
	case err := <-done:
		require.True(t, IsCode(err, ErrCanceled), "wait after close = %v", err)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock the wait")
	}
}

// Scenario: wait over three handles with a 500ms deadline; making h2
// readable 10ms in wakes the wait with result_index=2 and READABLE in
// its state, others unchanged.
func TestHandleWaitMany(t *testing.T) {
	_, pr := mustKernel(t)
	p0a, _, err := pr.MsgPipeCreate(0)
	require.NoError(t, err)
	p1a, _, err := pr.MsgPipeCreate(0)
	require.NoError(t, err)
	p2a, p2b, err := pr.MsgPipeCreate(0)
	require.NoError(t, err)
	_ = p2b

	items := []WaitItem{
		{Handle: p0a, Signals: SignalReadable},
		{Handle: p1a, Signals: SignalReadable},
		{Handle: p2a, Signals: SignalReadable},
	}

	type result struct {
		idx    int
		states []SignalsState
		err    error
	}
	done := make(chan result, 1)
	go func() {
		idx, states, err := pr.HandleWaitMany(context.Background(), items, 500*time.Millisecond)
		done <- result{idx, states, err}
	}()

	time.Sleep(10 * time.Millisecond)
	// Make item 2 readable by writing into its peer.
	require.NoError(t, pr.MsgPipeWrite(p2b, []byte("x"), nil, 0))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, 2, r.idx, "result index")
		require.NotZero(t, r.states[2].Satisfied&SignalReadable, "woken state missing READABLE")
		require.Zero(t, r.states[0].Satisfied&SignalReadable, "item 0 spuriously readable")
		require.Zero(t, r.states[1].Satisfied&SignalReadable, "item 1 spuriously readable")
	case <-time.After(time.Second):
		t.Fatal("wait_many never returned")
	}
}

func TestHandleWaitManyValidation(t *testing.T) {
	_, pr := mustKernel(t)
	_, _, err := pr.HandleWaitMany(context.Background(), nil, 0)
	require.True(t, IsCode(err, ErrInvalidArgs))

	items := make([]WaitItem, MaxWaitHandleCount+1)
	_, _, err = pr.HandleWaitMany(context.Background(), items, 0)
	require.True(t, IsCode(err, ErrInvalidArgs))
}

func TestWaitSetSyscallSurface(t *testing.T) {
	_, pr := mustKernel(t)
	ws, err := pr.WaitSetCreate()
	require.NoError(t, err)
	ev, _ := pr.EventCreate()

	require.NoError(t, pr.WaitSetAdd(ws, 7, ev, SignalSignaled))
	err = pr.WaitSetAdd(ws, 7, ev, SignalSignaled)
	require.True(t, IsCode(err, ErrAlreadyBound), "duplicate cookie = %v", err)

	require.NoError(t, pr.ObjectSignal(ev, 0, SignalSignaled))
	results, total, err := pr.WaitSetWait(context.Background(), ws, time.Second, 8)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, uint64(7), results[0].Cookie)
	require.NotZero(t, results[0].State.Satisfied&SignalSignaled)

	require.NoError(t, pr.WaitSetRemove(ws, 7))
	_, _, err = pr.WaitSetWait(context.Background(), ws, 0, 8)
	require.True(t, IsCode(err, ErrTimedOut))
}

func TestPortSyscallSurface(t *testing.T) {
	_, pr := mustKernel(t)
	port, err := pr.PortCreate(0)
	require.NoError(t, err)

	require.NoError(t, pr.PortQueue(port, IOPacket{Key: 3, Type: PacketTypeUser, Data: []byte("pkt")}))
	pkt, err := pr.PortWait(context.Background(), port, time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(3), pkt.Key)
	require.Equal(t, "pkt", string(pkt.Data))

	// Bind a pipe end: a rising READABLE edge enqueues automatically.
	h0, h1, err := pr.MsgPipeCreate(0)
	require.NoError(t, err)
	require.NoError(t, pr.PortBind(port, 0xabc, h1, SignalReadable))
	require.NoError(t, pr.MsgPipeWrite(h0, []byte("m"), nil, 0))

	pkt, err = pr.PortWait(context.Background(), port, time.Second)
	require.NoError(t, err)
	require.Equal(t, PacketTypeSignal, pkt.Type)
	require.Equal(t, uint64(0xabc), pkt.Key)
	require.NotZero(t, pkt.Signals&SignalReadable)

	require.NoError(t, pr.PortUnbind(h1))
}
