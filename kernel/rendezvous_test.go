package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSleepWakeupRendezvous exercises the core invariant of spec.md §4.1: a
// task that Sleeps on a channel only resumes once another task Wakeups that
// same channel, and the external lock it held is re-acquired on return.
func TestSleepWakeupRendezvous(t *testing.T) {
	k := New(WithNCPU(2))
	sched := NewScheduler(k)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	ready := false
	ch := Chan(0xdeadbeef)

	sleeperDone := make(chan struct{})
	_, err := k.Spawn(func(t *Task) error {
		mu.Lock()
		for !ready {
			if err := k.Sleep(t, ch, &mu); err != nil {
				mu.Unlock()
				return err
			}
		}
		mu.Unlock()
		close(sleeperDone)
		k.Exit(t, 0)
		return nil
	})
	require.NoError(t, err)

	go sched.Run(ctx)

	// The sleeper must not report done before the waker runs.
	select {
	case <-sleeperDone:
		t.Fatal("sleeper resumed before any wakeup")
	case <-time.After(50 * time.Millisecond):
	}

	wakerDone := make(chan struct{})
	_, err = k.Spawn(func(t *Task) error {
		mu.Lock()
		ready = true
		mu.Unlock()
		k.Wakeup(ch)
		k.Exit(t, 0)
		close(wakerDone)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-wakerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("waker never finished")
	}
	select {
	case <-sleeperDone:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke")
	}
}

// TestWakeupOnWrongChanDoesNotWake confirms Wakeup only promotes sleepers
// blocked on the exact channel given.
func TestWakeupOnWrongChanDoesNotWake(t *testing.T) {
	k := New(WithNCPU(1))
	sched := NewScheduler(k)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	woke := false

	done := make(chan struct{})
	tsk, err := k.Spawn(func(t *Task) error {
		mu.Lock()
		_ = k.Sleep(t, Chan(1), &mu)
		woke = true
		mu.Unlock()
		k.Exit(t, 0)
		close(done)
		return nil
	})
	require.NoError(t, err)

	go sched.Run(ctx)

	// give the sleeper a chance to actually reach Sleeping
	require.Eventually(t, func() bool {
		tsk.Lock()
		defer tsk.Unlock()
		return tsk.State == Sleeping
	}, time.Second, time.Millisecond)

	k.Wakeup(Chan(2))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, woke)

	k.Wakeup(Chan(1))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("never woke on matching chan")
	}
	assert.True(t, woke)
}
