package kernel

import "toykernel/internal/vm"

// Clone implements spec.md §4.3's clone(fn, stack, arg): allocate a TCB that
// borrows the caller's address space instead of copying it, map a private
// single-page trap frame at TRAPFRAME-PGSIZE, seed its user stack pointer
// from the caller-supplied stack, and record it as a thread-child of the
// caller (joined, not waited). body stands in for the source's fcn pointer.
// Clone takes no separate arg: body receives any argument as the closure's
// own captured value instead of a trapframe field. The stack address is only
// recorded (TrapFrame.SP and UserStack); Clone maps no stack pages itself.
func (k *Kernel) Clone(parent *Task, stack uintptr, body func(t *Task) error) (int, error) {
	child, err := k.allocproc()
	if err != nil {
		return -1, err
	}

	child.ownsAddrSpace = false
	child.AddrSpace = parent.AddrSpace

	tfPage := k.alloc.Kalloc()
	if tfPage == nil {
		k.freeproc(child)
		child.Unlock()
		return -1, ErrOutOfMemory
	}
	child.AddrSpace.MapPages(TRAPFRAME-vm.PGSIZE, []vm.Page{tfPage})
	child.privateTF = true
	if parent.TrapFrame != nil {
		tf := *parent.TrapFrame
		child.TrapFrame = &tf
	}
	child.TrapFrame.SP = stack
	child.UserStack = stack
	child.Cwd = parent.Cwd
	child.Body = body

	pid := child.PID
	child.Parent = ParentLink{Kind: ThreadParent, Task: parent}
	child.State = Runnable
	child.Unlock()

	k.startTaskGoroutine(child)
	return pid, nil
}

// Join implements spec.md §4.3's join(): scan for a Zombie thread-child of
// the caller, tear down its private trap-frame mapping (but not the shared
// address space, which it never owned), zero the TCB, and return its pid —
// captured before the teardown zeroes it, fixing the source's join() bug of
// reading p->pid after p->pid has already been cleared to 0. If the caller
// has no thread-children at all, returns ErrNoThreadChild; if killed while
// waiting, returns ErrKilled.
func (k *Kernel) Join(caller *Task) (int, error) {
	k.waitLock.Lock()
	for {
		havekids := false
		for _, np := range k.procs {
			np.Lock()
			if np.Parent.Kind == ThreadParent && np.Parent.Task == caller {
				havekids = true
				if np.State == Zombie {
					pid := np.PID
					k.freeproc(np)
					np.Unlock()
					k.waitLock.Unlock()
					return pid, nil
				}
			}
			np.Unlock()
		}

		if !havekids || caller.Killed() {
			k.waitLock.Unlock()
			if caller.Killed() {
				return -1, ErrKilled
			}
			return -1, ErrNoThreadChild
		}

		if err := k.Sleep(caller, caller.ChanSelf(), &k.waitLock); err != nil {
			k.waitLock.Unlock()
			return -1, err
		}
	}
}
