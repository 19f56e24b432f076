package kernel

import "sync"

// relinquish hands the "CPU" this task is currently running on back to the
// scheduler worker that dispatched it, and parks this task's own goroutine
// until a worker grants it another turn. Every blocking point in the core —
// Sleep, Yield, Wait, Join — funnels through this, mirroring how every one
// of the source's blocking sites ends in a call to sched().
func (t *Task) relinquish() {
	t.yielded <- struct{}{}
	<-t.turn
}

// Sleep implements spec.md §4.1's contract: the caller holds external
// (already acquired) and has just observed a reason to block tied to ch.
// Sleep acquires the task's own lock before releasing external — the
// lock-ordering invariant (external → self TCB lock; wakeup → other TCB
// lock) that makes this atomic with respect to a concurrent Wakeup(ch), so
// no wakeup can be missed between the caller's check and the call to Sleep.
//
// The predicate re-check this requires of every caller (spec.md §5) is the
// same discipline _examples/other_examples's nsync-cv.go.go documents for
// Mesa-style condition variables: callers loop on their own condition
// around Sleep, since a broadcast Wakeup may promote more than one sleeper.
//
// On return, external is re-held and t.Chan is cleared. If the task was
// killed before or while sleeping, Sleep returns ErrKilled instead of
// silently resuming.
func (k *Kernel) Sleep(t *Task, ch Chan, external sync.Locker) error {
	t.Lock()
	if t.Killed() {
		// A kill that landed before this call found the task not Sleeping
		// and so could not promote it; honour it here instead of sleeping.
		t.Unlock()
		return ErrKilled
	}
	external.Unlock()
	t.Chan = ch
	t.State = Sleeping
	t.Unlock()

	k.log.Debug().Int("pid", t.PID).Uint64("chan", uint64(ch)).Msg("sleep")
	t.relinquish()

	t.Lock()
	t.Chan = 0
	killed := t.Killed()
	t.Unlock()

	external.Lock()
	if killed {
		k.log.Debug().Int("pid", t.PID).Msg("wake: killed")
		return ErrKilled
	}
	k.log.Debug().Int("pid", t.PID).Uint64("chan", uint64(ch)).Msg("wake")
	return nil
}

// Wakeup promotes every Sleeping task blocked on ch to Runnable, in
// deterministic table order. The promoted tasks are picked up by whichever
// scheduler worker next finds them at the front of the priority scan —
// Wakeup itself does not dispatch anything.
func (k *Kernel) Wakeup(ch Chan) {
	if ch == 0 {
		return
	}
	k.forEachTask(func(t *Task) {
		t.Lock()
		if t.State == Sleeping && t.Chan == ch {
			t.State = Runnable
			t.Unlock()
			k.log.Debug().Int("pid", t.PID).Uint64("chan", uint64(ch)).Msg("wakeup")
			return
		}
		t.Unlock()
	})
}

// WakeupOne wakes at most the first Sleeping task blocked on ch, in table
// order.
func (k *Kernel) WakeupOne(ch Chan) {
	if ch == 0 {
		return
	}
	for _, t := range k.procs {
		t.Lock()
		if t.State == Sleeping && t.Chan == ch {
			t.State = Runnable
			t.Unlock()
			k.log.Debug().Int("pid", t.PID).Uint64("chan", uint64(ch)).Msg("wakeup-one")
			return
		}
		t.Unlock()
	}
}
