package shm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toykernel/kernel"
)

func runScheduler(k *kernel.Kernel) context.CancelFunc {
	sched := kernel.NewScheduler(k)
	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)
	return cancel
}

// TestGetIdempotence mirrors spec.md §8's round-trip law: shmgetat(k, n)
// then shmgetat(k, m) from the same task returns the same va regardless of
// m, the "established size wins" rule.
func TestGetIdempotence(t *testing.T) {
	k := kernel.New(kernel.WithNCPU(1))
	defer runScheduler(k)()
	mgr := NewManager(k)

	type result struct {
		va1, va2 uintptr
		refcount int
		err      error
	}
	resCh := make(chan result, 1)

	_, err := k.Spawn(func(tk *kernel.Task) error {
		va1, gerr := mgr.Get(tk, 0, 1)
		if gerr != nil {
			resCh <- result{err: gerr}
			return gerr
		}
		va2, gerr := mgr.Get(tk, 0, 4) // different num must not matter
		if gerr != nil {
			resCh <- result{err: gerr}
			return gerr
		}
		rc, _ := mgr.RefCount(0)
		resCh <- result{va1: va1, va2: va2, refcount: rc}
		k.Exit(tk, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		assert.Equal(t, res.va1, res.va2)
		assert.Equal(t, 1, res.refcount, "a second Get from the same task must not bump refcount")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestInvalidKeyAndNum mirrors shmgetat's argument validation.
func TestInvalidKeyAndNum(t *testing.T) {
	k := kernel.New(kernel.WithNCPU(1))
	defer runScheduler(k)()
	mgr := NewManager(k)

	errCh := make(chan [2]error, 1)
	_, err := k.Spawn(func(tk *kernel.Task) error {
		_, e1 := mgr.Get(tk, -1, 1)
		_, e2 := mgr.Get(tk, 0, MaxShmPgnum+1)
		errCh <- [2]error{e1, e2}
		k.Exit(tk, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case errs := <-errCh:
		assert.ErrorIs(t, errs[0], ErrInvalidKey)
		assert.ErrorIs(t, errs[1], ErrInvalidNum)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestVisibilityAcrossForkedChildren mirrors spec.md §8 scenario 3: two
// forked children each shmgetat the same key; one writes, the other reads
// the write back, proving the two children share the same backing page
// rather than each holding a private post-fork copy.
func TestVisibilityAcrossForkedChildren(t *testing.T) {
	k := kernel.New(kernel.WithNCPU(2))
	defer runScheduler(k)()
	mgr := NewManager(k)

	written := make(chan struct{})
	readBack := make(chan byte, 1)
	childErrs := make(chan error, 2)

	_, err := k.Spawn(func(parent *kernel.Task) error {
		// Two forked children, each attaching to key 0 on its own — neither
		// inherits an existing attachment from the parent.
		_, ferr := k.Fork(parent, func(a *kernel.Task) error {
			va, gerr := mgr.Get(a, 0, 1)
			if gerr != nil {
				childErrs <- gerr
				return gerr
			}
			if werr := a.AddrSpace.CopyOut(va, []byte{0xA5}); werr != nil {
				childErrs <- werr
				return werr
			}
			close(written)
			childErrs <- nil
			k.Exit(a, 0)
			return nil
		})
		if ferr != nil {
			return ferr
		}

		_, ferr = k.Fork(parent, func(b *kernel.Task) error {
			<-written
			va, gerr := mgr.Get(b, 0, 1)
			if gerr != nil {
				childErrs <- gerr
				return gerr
			}
			buf := make([]byte, 1)
			if rerr := b.AddrSpace.CopyIn(buf, va); rerr != nil {
				childErrs <- rerr
				return rerr
			}
			readBack <- buf[0]
			childErrs <- nil
			k.Exit(b, 0)
			return nil
		})
		if ferr != nil {
			return ferr
		}

		for i := 0; i < 2; i++ {
			if _, _, werr := k.Wait(parent); werr != nil {
				return werr
			}
		}
		k.Exit(parent, 0)
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case cerr := <-childErrs:
			require.NoError(t, cerr)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a child")
		}
	}

	select {
	case got := <-readBack:
		assert.Equal(t, byte(0xA5), got, "child B did not observe child A's write")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the read-back")
	}
}

// TestRefCountDropsAfterChildReap mirrors shmaddcount/shmrelease: a forked
// child's inherited attachment bumps the key's refcount, and reaping the
// child through Wait drops it by one. The parent itself is never reaped
// here, so the count ends at 1.
func TestRefCountDropsAfterChildReap(t *testing.T) {
	k := kernel.New(kernel.WithNCPU(2))
	defer runScheduler(k)()
	mgr := NewManager(k)

	doneCh := make(chan struct{})

	_, err := k.Spawn(func(parent *kernel.Task) error {
		if _, gerr := mgr.Get(parent, 1, 1); gerr != nil {
			return gerr
		}
		rc, _ := mgr.RefCount(1)
		assert.Equal(t, 1, rc)

		_, ferr := k.Fork(parent, func(child *kernel.Task) error {
			k.Exit(child, 0)
			return nil
		})
		if ferr != nil {
			return ferr
		}

		rc, _ = mgr.RefCount(1)
		assert.Equal(t, 2, rc, "fork must bump the inherited key's refcount")

		if _, _, werr := k.Wait(parent); werr != nil {
			return werr
		}
		rc, _ = mgr.RefCount(1)
		assert.Equal(t, 1, rc, "reaping the child must drop its refcount")

		close(doneCh)
		k.Exit(parent, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

// TestSecondAttacherGetsEstablishedPageCount mirrors "established size
// wins": a fresh task attaching to an already-created key by a different
// num receives the segment's original pagenum, not its own request.
func TestSecondAttacherGetsEstablishedPageCount(t *testing.T) {
	k := kernel.New(kernel.WithNCPU(2))
	defer runScheduler(k)()
	mgr := NewManager(k)

	firstDone := make(chan struct{})
	pageCh := make(chan int, 1)

	_, err := k.Spawn(func(a *kernel.Task) error {
		if _, gerr := mgr.Get(a, 2, 3); gerr != nil {
			return gerr
		}
		close(firstDone)
		k.Exit(a, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the first attacher")
	}

	_, err = k.Spawn(func(b *kernel.Task) error {
		// Attach with a different requested num; the segment already
		// exists at 3 pages, so b must end up mapped at 3 pages too.
		if _, gerr := mgr.Get(b, 2, 1); gerr != nil {
			return gerr
		}
		mgr.mu.Lock()
		pageCh <- mgr.table[2].pagenum
		mgr.mu.Unlock()
		k.Exit(b, 0)
		return nil
	})
	require.NoError(t, err)

	select {
	case pages := <-pageCh:
		assert.Equal(t, 3, pages)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
