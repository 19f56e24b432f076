package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCloneJoinRoundTrip mirrors spec.md §8 scenario 5 and
// original_source/user/cloneTest.c: a parent clones a thread that writes a
// shared global through the borrowed address space and returns; join()
// yields the thread's tid and the parent observes the write.
func TestCloneJoinRoundTrip(t *testing.T) {
	k := New(WithNCPU(2))
	defer runScheduler(t, k)()

	var shared int
	result := make(chan struct {
		tid  int
		sawWrite bool
		err  error
	}, 1)

	_, err := k.Spawn(func(tk *Task) error {
		const stackSize = 4096
		stack := k.MyAlloc(tk, stackSize)

		_, cerr := k.Clone(tk, stack, func(ct *Task) error {
			shared = 99
			return nil
		})
		if cerr != nil {
			result <- struct {
				tid      int
				sawWrite bool
				err      error
			}{0, false, cerr}
			return cerr
		}

		joined, jerr := k.Join(tk)
		result <- struct {
			tid      int
			sawWrite bool
			err      error
		}{joined, shared == 99, jerr}
		k.Exit(tk, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case res := <-result:
		require.NoError(t, res.err)
		assert.True(t, res.sawWrite, "parent did not observe the clone's write")
		assert.Greater(t, res.tid, 0)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestJoinNoThreadChild mirrors join() on a task with no cloned children.
func TestJoinNoThreadChild(t *testing.T) {
	k := New(WithNCPU(1))
	defer runScheduler(t, k)()

	errCh := make(chan error, 1)
	_, err := k.Spawn(func(t *Task) error {
		_, jerr := k.Join(t)
		errCh <- jerr
		k.Exit(t, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case jerr := <-errCh:
		assert.ErrorIs(t, jerr, ErrNoThreadChild)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestJoinDoesNotMisreadFreedPID is a regression test for the source's
// join() bug (spec.md §9): the returned tid must be the cloned thread's own
// pid, not whatever freeproc happens to zero it to afterward.
func TestJoinDoesNotMisreadFreedPID(t *testing.T) {
	k := New(WithNCPU(2))
	defer runScheduler(t, k)()

	tidCh := make(chan int, 1)
	joinedCh := make(chan int, 1)

	_, err := k.Spawn(func(tk *Task) error {
		stack := k.MyAlloc(tk, 4096)
		tid, cerr := k.Clone(tk, stack, func(ct *Task) error { return nil })
		if cerr != nil {
			return cerr
		}
		tidCh <- tid

		joined, jerr := k.Join(tk)
		if jerr != nil {
			return jerr
		}
		joinedCh <- joined
		k.Exit(tk, 0)
		return nil
	})
	require.NoError(t, err)

	var tid, joined int
	select {
	case tid = <-tidCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tid")
	}
	select {
	case joined = <-joinedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for join")
	}
	assert.Equal(t, tid, joined)
	assert.NotZero(t, joined)
}
