package kobj

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Scenario: a futex word holding 7 parks a waiter; another goroutine
// stores 8 and wakes one; the waiter returns NO_ERROR inside the
// deadline. With the store before the wait, the wait reports
// ALREADY_BOUND immediately.
func TestFutexWaitWakeScenario(t *testing.T) {
	_, pr := mustKernel(t)
	word := new(int32)
	*word = 7

	done := make(chan error, 1)
	go func() {
		done <- pr.FutexWait(context.Background(), word, 7, time.Second)
	}()
	for i := 0; i < 200 && pr.p.Futexes().WaiterCount(word) == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	atomic.StoreInt32(word, 8)
	woken, err := pr.FutexWake(word, 1)
	require.NoError(t, err)
	require.Equal(t, 1, woken)

	select {
	case err := <-done:
		require.NoError(t, err, "parked waiter result")
	case <-time.After(time.Second):
		t.Fatal("waiter missed the wake")
	}

	// Repeat with the store first: the compare fails immediately.
	err = pr.FutexWait(context.Background(), word, 7, time.Millisecond)
	require.True(t, IsCode(err, ErrAlreadyBound), "stale wait = %v", err)
}

func TestFutexRequeueSyscall(t *testing.T) {
	_, pr := mustKernel(t)
	wordA := new(int32)
	wordB := new(int32)

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			results <- pr.FutexWait(context.Background(), wordA, 0, time.Second)
		}()
	}
	for i := 0; i < 200 && pr.p.Futexes().WaiterCount(wordA) < 3; i++ {
		time.Sleep(time.Millisecond)
	}

	woken, err := pr.FutexRequeue(wordA, 1, 0, wordB, 2)
	require.NoError(t, err)
	require.Equal(t, 1, woken)
	require.Equal(t, 2, pr.p.Futexes().WaiterCount(wordB))

	_, err = pr.FutexRequeue(wordA, 1, 0, wordA, 1)
	require.True(t, IsCode(err, ErrInvalidArgs), "same-address requeue = %v", err)

	woken, err = pr.FutexWake(wordB, 8)
	require.NoError(t, err)
	require.Equal(t, 2, woken)
	for i := 0; i < 3; i++ {
		require.NoError(t, <-results)
	}
}

func TestFutexPrivateToProcess(t *testing.T) {
	// Futex contexts are per process: a waiter in one process is not
	// visible to wakes issued from another.
	k, pr1 := mustKernel(t)
	pr2, err := k.CreateProcess("other")
	require.NoError(t, err)

	word := new(int32)
	done := make(chan error, 1)
	go func() {
		done <- pr1.FutexWait(context.Background(), word, 0, 200*time.Millisecond)
	}()
	for i := 0; i < 200 && pr1.p.Futexes().WaiterCount(word) == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	woken, err := pr2.FutexWake(word, 1)
	require.NoError(t, err)
	require.Zero(t, woken, "cross-process wake reached a private futex")
	require.True(t, IsCode(<-done, ErrTimedOut))
}
