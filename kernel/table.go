package kernel

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"toykernel/internal/vm"
)

// cpu is the per-CPU record of spec.md §3: which task (if any) this CPU is
// currently running. Kernel holds a slice of these, but the scheduler's
// workers (see sched.go) neither create nor update them.
type cpu struct {
	id   int
	task *Task
}

// Kernel owns every piece of global state spec.md §3 enumerates: the
// process table, the pid/wait locks, and the per-CPU records. It is
// constructed explicitly (no package-level globals), matching the teacher's
// habit of threading a *Scheduler receiver through every method.
type Kernel struct {
	cfg   Config
	alloc *vm.PageAllocator
	log   zerolog.Logger

	procs []*Task

	pidLock sync.Mutex
	nextPID int

	waitLock sync.Mutex

	cpuLock sync.Mutex
	cpus    []*cpu

	initproc *Task

	mqHooks  MQHooks
	shmHooks ShmHooks
}

// New constructs a Kernel with a fixed-size process table and a bounded
// simulated page allocator.
func New(opts ...Option) *Kernel {
	cfg := buildConfig(opts...)
	k := &Kernel{
		cfg:   cfg,
		alloc: vm.NewPageAllocator(cfg.MaxPages),
		log:   zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "kernel").Logger(),
		procs: make([]*Task, cfg.NPROC),
	}
	for i := range k.procs {
		k.procs[i] = &Task{State: Unused}
	}
	return k
}

// Logger exposes the kernel's logger so sibling packages (mqueue, shm) can
// log under the same sink and component style.
func (k *Kernel) Logger() zerolog.Logger { return k.log }

// PageAllocator exposes the simulated physical allocator to sibling
// packages that back their own kernel objects with pages (mqueue's arena,
// shm's segments).
func (k *Kernel) PageAllocator() *vm.PageAllocator { return k.alloc }

// Config returns the kernel's effective configuration.
func (k *Kernel) Config() Config { return k.cfg }

func (k *Kernel) allocPID() int {
	k.pidLock.Lock()
	defer k.pidLock.Unlock()
	k.nextPID++
	return k.nextPID
}

// forEachTask calls f for every task slot, Unused ones included, in table
// order — the deterministic iteration order spec.md §9 requires callers
// (the priority scan, wakeup) to preserve. It takes no lock; f locks the
// task itself.
func (k *Kernel) forEachTask(f func(*Task)) {
	for _, t := range k.procs {
		f(t)
	}
}
