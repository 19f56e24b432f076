package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toykernel/internal/vm"
)

func runScheduler(t *testing.T, k *Kernel) context.CancelFunc {
	t.Helper()
	sched := NewScheduler(k)
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return cancel
}

// TestForkExitWait exercises the fork/exit/wait lifecycle of spec.md §4.2-3:
// a parent forks a child, the child exits with a status, and wait(2) on the
// parent returns that child's exit status.
func TestForkExitWait(t *testing.T) {
	k := New(WithNCPU(2))
	defer runScheduler(t, k)()

	result := make(chan [2]int, 1)
	errCh := make(chan error, 1)

	_, err := k.Spawn(func(t *Task) error {
		childPID, err := k.Fork(t, func(ct *Task) error {
			k.Exit(ct, 7)
			return nil
		})
		if err != nil {
			errCh <- err
			return err
		}
		pid, status, werr := k.Wait(t)
		if werr != nil {
			errCh <- werr
			return werr
		}
		result <- [2]int{pid, status}
		_ = childPID
		k.Exit(t, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case res := <-result:
		assert.Equal(t, 7, res[1])
	case werr := <-errCh:
		t.Fatalf("unexpected error: %v", werr)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wait() to return")
	}
}

// TestWaitNoChildReturnsErrNoChild mirrors wait() on a task with no children.
func TestWaitNoChildReturnsErrNoChild(t *testing.T) {
	k := New(WithNCPU(1))
	defer runScheduler(t, k)()

	errCh := make(chan error, 1)
	_, err := k.Spawn(func(t *Task) error {
		_, _, werr := k.Wait(t)
		errCh <- werr
		k.Exit(t, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case werr := <-errCh:
		assert.ErrorIs(t, werr, ErrNoChild)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestOrphanReparentedToInit mirrors original_source/kernel/proc.c's
// reparent: a grandchild whose parent exits first is handed to the kernel's
// init task and reaped there instead of being abandoned.
func TestOrphanReparentedToInit(t *testing.T) {
	k := New(WithNCPU(3))
	defer runScheduler(t, k)()

	grandchildExited := make(chan struct{})
	initReaped := make(chan int, 1)

	initTask, err := k.Spawn(func(initT *Task) error {
		for {
			pid, _, werr := k.Wait(initT)
			if errors.Is(werr, ErrNoChild) {
				// nothing has been reparented to init yet; look again
				k.Yield(initT)
				continue
			}
			if werr != nil {
				return werr
			}
			initReaped <- pid
		}
	})
	require.NoError(t, err)
	require.NotNil(t, initTask)

	midDone := make(chan struct{})
	_, err = k.Spawn(func(midT *Task) error {
		_, ferr := k.Fork(midT, func(gc *Task) error {
			// outlive the mid parent briefly so it gets orphaned
			k.Yield(gc)
			k.Yield(gc)
			k.Exit(gc, 3)
			close(grandchildExited)
			return nil
		})
		if ferr != nil {
			return ferr
		}
		// mid exits immediately without waiting on its child
		k.Exit(midT, 0)
		close(midDone)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-midDone:
	case <-time.After(2 * time.Second):
		t.Fatal("mid task never exited")
	}
	select {
	case <-grandchildExited:
	case <-time.After(2 * time.Second):
		t.Fatal("grandchild never exited")
	}
	select {
	case pid := <-initReaped:
		assert.Greater(t, pid, 0)
	case <-time.After(2 * time.Second):
		t.Fatal("init never reaped the orphan")
	}
}

// TestKillDuringWaitUnblocks confirms Kill promotes a Sleeping waiter to
// Runnable so Wait returns ErrKilled instead of sleeping forever.
func TestKillDuringWaitUnblocks(t *testing.T) {
	k := New(WithNCPU(2))
	defer runScheduler(t, k)()

	errCh := make(chan error, 1)
	var waiterPID int
	pidReady := make(chan struct{})

	_, err := k.Spawn(func(t *Task) error {
		// A child that never exits, so Wait finds a live child and sleeps
		// instead of returning ErrNoChild straight away.
		if _, ferr := k.Fork(t, func(c *Task) error {
			for {
				k.Yield(c)
			}
		}); ferr != nil {
			errCh <- ferr
			return ferr
		}
		waiterPID = t.PID
		close(pidReady)
		_, _, werr := k.Wait(t)
		errCh <- werr
		return werr
	})
	require.NoError(t, err)

	<-pidReady
	require.Eventually(t, func() bool {
		return k.Kill(waiterPID) == nil
	}, time.Second, time.Millisecond)

	select {
	case werr := <-errCh:
		assert.ErrorIs(t, werr, ErrKilled)
	case <-time.After(2 * time.Second):
		t.Fatal("wait never unblocked after kill")
	}
}

// TestBodyErrorExitsNonZero confirms a Body that returns a non-nil error
// without calling Exit itself is exited with status -1, not the implicit
// 0 a plain fall-through return gets.
func TestBodyErrorExitsNonZero(t *testing.T) {
	k := New(WithNCPU(2))
	defer runScheduler(t, k)()

	sentinel := errors.New("child body failed")
	result := make(chan [2]int, 1)

	_, err := k.Spawn(func(parent *Task) error {
		if _, ferr := k.Fork(parent, func(child *Task) error {
			return sentinel
		}); ferr != nil {
			return ferr
		}
		pid, status, werr := k.Wait(parent)
		if werr != nil {
			return werr
		}
		result <- [2]int{pid, status}
		k.Exit(parent, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case res := <-result:
		assert.Equal(t, -1, res[1])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestGrowProcShrink mirrors growproc(n) growing then shrinking a task's
// address space.
func TestGrowProcShrink(t *testing.T) {
	k := New()
	tsk, err := k.allocproc()
	require.NoError(t, err)
	tsk.ownsAddrSpace = true
	tsk.AddrSpace = vm.NewAddressSpace()
	tsk.Unlock()

	require.NoError(t, k.GrowProc(tsk, 4096*3))
	assert.Equal(t, uintptr(4096*3), tsk.AddrSpace.Size())

	require.NoError(t, k.GrowProc(tsk, -4096*5))
	assert.Equal(t, uintptr(0), tsk.AddrSpace.Size())
}
