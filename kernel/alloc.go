package kernel

import "toykernel/internal/vm"

// TRAPFRAME is the well-known high virtual address spec.md §4.2/§4.3 places
// the trap-frame mapping at (and clone's private trap frame one page below
// it). It is symbolic here — there is no real page table below it — but
// keeping it as a concrete uintptr preserves the address arithmetic the
// shared-memory window is specified in terms of.
const TRAPFRAME = uintptr(1) << 40

// ShmWindowPages is the "128*PAGE" shared-memory window spec.md §4.5 states:
// every task's shm high-water mark starts at TRAPFRAME - 128*PGSIZE. Exported
// so the shm package can compute the same floor when unmapping a reaped
// task's window.
const ShmWindowPages = 128

// DefaultShmTop returns the shm high-water mark a freshly allocated task
// starts at.
func DefaultShmTop() uintptr {
	return TRAPFRAME - ShmWindowPages*vm.PGSIZE
}

func defaultShmTop() uintptr { return DefaultShmTop() }

// allocproc finds an Unused task, assigns it a fresh pid, and returns it
// with its lock held, exactly as original_source/kernel/proc.c's allocproc.
// Returns ErrNoFreeProc if the table is full.
func (k *Kernel) allocproc() (*Task, error) {
	for _, t := range k.procs {
		t.Lock()
		if t.State == Unused {
			k.initTaskLocked(t)
			return t, nil
		}
		t.Unlock()
	}
	k.log.Warn().Int("nproc", len(k.procs)).Msg("allocproc: task table exhausted")
	return nil, ErrNoFreeProc
}

// initTaskLocked resets t into a freshly-allocated Used task. Caller holds
// t.mu.
func (k *Kernel) initTaskLocked(t *Task) {
	t.PID = k.allocPID()
	t.State = Used
	t.Priority = k.cfg.DefaultPriority
	t.Slot = k.cfg.DefaultSlot
	t.Parent = ParentLink{}
	t.MQMask = 0
	t.ShmKeyMask = 0
	t.ShmVA = [8]uintptr{}
	t.ShmTop = defaultShmTop()
	t.XState = 0
	t.Chan = 0
	t.UserStack = 0
	t.Cwd = "/"
	t.killed.Store(false)
	t.Body = nil
	t.TrapFrame = &vm.TrapFrame{}
	t.privateTF = false
	// Fresh channels per allocation generation: a task's goroutine from a
	// prior life (if any) has already exited past freeproc, so reusing its
	// channels would let a stale relinquish() rendezvous with this new one.
	t.turn = make(chan struct{})
	t.yielded = make(chan struct{})

	// vma sentinel head (index 0) plus nine free entries, matching
	// original_source/kernel/proc.c's allocproc vm[] initialisation.
	for i := range t.vmas {
		t.vmas[i] = vma{next: -1}
	}
	t.vmas[0] = vma{next: 0}
}

// freeproc tears down a task back to Unused. Caller holds t.mu. It frees the
// task's address space only if it owns one (a full process); a clone()d
// thread's page table is never freed here, matching the source's "a cloned
// TCB does not own its page table" invariant.
func (k *Kernel) freeproc(t *Task) {
	if t.TrapFrame != nil && t.privateTF && t.AddrSpace != nil {
		k.alloc.KfreeN(t.AddrSpace.UnmapPages(TRAPFRAME-vm.PGSIZE, 1))
	}
	t.TrapFrame = nil
	t.privateTF = false

	if t.ownsAddrSpace && t.AddrSpace != nil {
		sz := t.AddrSpace.Size()
		npages := int((sz + vm.PGSIZE - 1) / vm.PGSIZE)
		pages := t.AddrSpace.UnmapPages(0, npages)
		k.alloc.KfreeN(pages)
	}
	t.AddrSpace = nil
	t.ownsAddrSpace = false

	t.PID = 0
	t.Parent = ParentLink{}
	t.UserStack = 0
	t.Cwd = ""
	t.Chan = 0
	t.killed.Store(false)
	t.XState = 0
	t.Body = nil
	t.State = Unused
}
