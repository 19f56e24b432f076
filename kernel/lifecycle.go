package kernel

import "toykernel/internal/vm"

// Spawn creates the first task of a new process tree: it has no parent, is
// given a fresh, empty address space, and begins running body once the
// scheduler dispatches it. It is the TCB birth original_source
// /kernel/proc.c's userinit performs for the very first process; since there
// is no real ELF loader in scope, body maps whatever "user memory" it needs
// itself through t.AddrSpace.
func (k *Kernel) Spawn(body func(t *Task) error) (*Task, error) {
	t, err := k.allocproc()
	if err != nil {
		return nil, err
	}
	t.ownsAddrSpace = true
	t.AddrSpace = vm.NewAddressSpace()
	t.Body = body
	t.State = Runnable
	t.Unlock()

	if k.initproc == nil {
		k.initproc = t
	}

	k.startTaskGoroutine(t)
	return t, nil
}

// Fork implements spec.md §4.3's fork(): allocate a child TCB, clone the
// parent's address space and shm/mq attachments, copy the trapframe, link
// the child under wait_lock, then mark it Runnable. Returns the child's pid.
//
// The source's fork() returns twice into one shared call stack, branching
// on the return value; a Task's Body is a single Go closure that cannot be
// resumed from the middle the way a duplicated kernel stack can, so Fork
// takes the child's continuation as an explicit childBody closure rather
// than letting the child fall out the far side of the call. The parent's
// own Body simply keeps running after Fork returns, exactly like the
// source's parent branch.
func (k *Kernel) Fork(parent *Task, childBody func(t *Task) error) (int, error) {
	child, err := k.allocproc()
	if err != nil {
		return -1, err
	}

	// parent is the currently-running task (its own goroutine is the only
	// writer of its own fields), so these reads need no lock — matching
	// original_source/kernel/proc.c's fork(), which reads myproc() fields
	// unlocked too.
	clonedAS, err := parent.AddrSpace.Clone(k.alloc)
	if err != nil {
		k.freeproc(child)
		child.Unlock()
		return -1, err
	}
	child.ownsAddrSpace = true
	child.AddrSpace = clonedAS

	child.ShmKeyMask = parent.ShmKeyMask
	child.ShmVA = parent.ShmVA
	child.ShmTop = parent.ShmTop
	shmMask := parent.ShmKeyMask

	if parent.TrapFrame != nil {
		tf := *parent.TrapFrame
		child.TrapFrame = &tf
	}
	child.Cwd = parent.Cwd
	mqMask := parent.MQMask
	child.MQMask = mqMask
	child.Body = childBody

	if k.shmHooks != nil && shmMask != 0 {
		k.shmHooks.OnFork(child.AddrSpace, child.ShmVA, shmMask)
	}
	if k.mqHooks != nil && mqMask != 0 {
		k.mqHooks.OnFork(mqMask)
	}

	pid := child.PID
	child.Unlock()

	k.waitLock.Lock()
	child.Lock()
	child.Parent = ParentLink{Kind: ProcessParent, Task: parent}
	child.Unlock()
	k.waitLock.Unlock()

	child.Lock()
	child.State = Runnable
	child.Unlock()

	k.startTaskGoroutine(child)
	return pid, nil
}

// reparent hands p's children to the kernel's init task, waking it so it can
// eventually reap them — original_source/kernel/proc.c's reparent. Caller
// holds k.waitLock.
func (k *Kernel) reparent(p *Task) {
	if k.initproc == nil {
		return
	}
	for _, np := range k.procs {
		np.Lock()
		if np.Parent.Kind == ProcessParent && np.Parent.Task == p {
			np.Parent = ParentLink{Kind: ProcessParent, Task: k.initproc}
			np.Unlock()
			k.Wakeup(k.initproc.ChanSelf())
			continue
		}
		np.Unlock()
	}
}

// exit is Exit's implementation, also used internally by startTaskGoroutine
// for a task whose Body returns without calling Exit itself.
func (k *Kernel) exit(t *Task, status int) {
	k.waitLock.Lock()
	k.reparent(t)

	t.Lock()
	waiter := t.Parent
	t.XState = status
	t.State = Zombie
	t.Unlock()
	k.waitLock.Unlock()

	if waiter.Task != nil {
		k.Wakeup(waiter.Task.ChanSelf())
	}
}

// Exit implements spec.md §4.3's exit(status): reparents orphans to init,
// wakes whichever of {process parent, thread parent} is waiting, and leaves
// the task Zombie until reaped by Wait or Join. The source's exit() never
// returns to its caller; a Task's Body func cannot be unwound the same way,
// so by convention Body must `return` immediately after calling Exit — the
// scheduler worker observes the Zombie state and retires the task cleanly
// without dispatching it again.
func (k *Kernel) Exit(t *Task, status int) {
	k.exit(t, status)
}

// Wait implements spec.md §4.3's wait(): scan for a Zombie child, reap it
// (releasing its shm/mq attachments and address space, then freeing its
// TCB), or sleep on the caller's own identity and retry. Returns
// ErrNoChild if the caller has no children at all, and ErrKilled if the
// caller was killed while waiting.
func (k *Kernel) Wait(caller *Task) (pid int, status int, err error) {
	k.waitLock.Lock()
	for {
		havekids := false
		for _, np := range k.procs {
			np.Lock()
			if np.Parent.Kind == ProcessParent && np.Parent.Task == caller {
				havekids = true
				if np.State == Zombie {
					pid = np.PID
					status = np.XState
					shmMask := np.ShmKeyMask
					shmTop := np.ShmTop
					as := np.AddrSpace
					mqMask := np.MQMask
					np.Unlock()

					if k.shmHooks != nil {
						k.shmHooks.OnReap(as, shmTop, shmMask)
					}
					if k.mqHooks != nil {
						k.mqHooks.OnReap(mqMask)
					}

					np.Lock()
					k.freeproc(np)
					np.Unlock()
					k.waitLock.Unlock()
					return pid, status, nil
				}
			}
			np.Unlock()
		}

		if !havekids || caller.Killed() {
			k.waitLock.Unlock()
			if caller.Killed() {
				return -1, 0, ErrKilled
			}
			return -1, 0, ErrNoChild
		}

		if serr := k.Sleep(caller, caller.ChanSelf(), &k.waitLock); serr != nil {
			k.waitLock.Unlock()
			return -1, 0, serr
		}
	}
}

// Kill implements spec.md §4.3's kill(pid): sets the kill flag and, if the
// victim is Sleeping, promotes it to Runnable so it observes the flag at
// its next wakeup rather than sleeping forever.
func (k *Kernel) Kill(pid int) error {
	for _, t := range k.procs {
		t.Lock()
		if t.State != Unused && t.PID == pid {
			t.setKilled()
			if t.State == Sleeping {
				t.State = Runnable
			}
			t.Unlock()
			return nil
		}
		t.Unlock()
	}
	return ErrNotFound
}

// GrowProc implements spec.md §4.2's growproc/sbrk(n): grows the caller's
// address space by n bytes (n<0 shrinks). Returns ErrOutOfMemory on
// allocation failure.
func (k *Kernel) GrowProc(t *Task, n int) error {
	t.Lock()
	defer t.Unlock()
	if n > 0 {
		if _, err := t.AddrSpace.Grow(k.alloc, n); err != nil {
			return ErrOutOfMemory
		}
		return nil
	}
	if n < 0 {
		sz := t.AddrSpace.Size()
		shrink := uintptr(-n)
		if shrink > sz {
			shrink = sz
		}
		t.AddrSpace.Shrink(k.alloc, sz-shrink)
	}
	return nil
}
