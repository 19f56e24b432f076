package kernel

import (
	"reflect"
	"sync"
	"sync/atomic"

	"toykernel/internal/vm"
)

// State is a TCB's lifecycle state, spec.md §3.
type State int

const (
	Unused State = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Used:
		return "used"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "???"
	}
}

// ParentKind tags a ParentLink, replacing the source's raw parent/pthread
// pointer pair per spec.md §9's design note.
type ParentKind int

const (
	NoParent ParentKind = iota
	ProcessParent
	ThreadParent
)

// ParentLink is the tagged variant spec.md §9 recommends in place of two
// mutually-exclusive raw pointers: a task has at most one of a process
// parent (who `wait`s for it) or a thread parent (who `join`s it).
type ParentLink struct {
	Kind ParentKind
	Task *Task
}

// Chan is the opaque rendezvous key sleep/wakeup block on, the explicit
// event-id type spec.md §9 recommends in place of a raw address. It is
// still derived from a Go pointer's identity via reflect, preserving the
// "any unique address works" property the original C relies on.
type Chan uintptr

// ChanOf derives a Chan from any pointer value's identity.
func ChanOf(p any) Chan {
	v := reflect.ValueOf(p)
	return Chan(v.Pointer())
}

// vmaCount is the fixed capacity of a task's first-fit free-list, matching
// original_source/kernel/proc.c's 10-entry p->vm array (entry 0 is the
// sentinel head).
const vmaCount = 10

// vma is one first-fit free-list entry describing one allocated user-memory
// block (see Kernel.MyAlloc / MyFree), spec.md glossary "vma".
type vma struct {
	addr   uintptr
	length uintptr
	next   int // -1 marks the slot free; the sentinel (index 0) chains live entries
}

// Task is a task control block: a process or, when Parent.Kind ==
// ThreadParent, a lightweight clone()d thread. Exactly one of Task.mu's
// owner may mutate State at a time; wakeup may only set another task's
// State after acquiring that task's lock (spec.md §3 invariant).
type Task struct {
	mu sync.Mutex

	// turn and yielded are the channel handoff a scheduler worker and this
	// task's own persistent goroutine use to trade control of one "CPU"
	// back and forth: the worker sends on turn to grant a dispatch, the
	// task's goroutine sends on yielded whenever it relinquishes (Yield,
	// Sleep, or finishing), exactly the swtch() hook spec.md §1 places out
	// of scope, reimplemented as a channel rendezvous since there is no
	// real register context to save here.
	turn    chan struct{}
	yielded chan struct{}

	PID      int
	State    State
	Priority int
	Slot     int

	Parent ParentLink

	AddrSpace     *vm.AddressSpace
	ownsAddrSpace bool // false for a clone()d thread: it borrows the parent's table
	TrapFrame     *vm.TrapFrame
	privateTF     bool // true when TrapFrame is this task's own mapped page (clone)

	UserStack uintptr
	Cwd       string
	XState    int
	killed    atomic.Bool

	Chan Chan

	MQMask uint32

	ShmKeyMask uint8
	ShmVA      [8]uintptr
	ShmTop     uintptr

	vmas [vmaCount]vma

	// Body is the task's executable code, run on the task's own goroutine
	// once a scheduler worker first dispatches it. It returns when the task
	// is ready to exit; blocking kernel
	// calls (Sleep, Wait, Join, msgsnd/msgrcv) are made from inside it.
	Body func(t *Task) error
}

// Lock acquires the TCB lock. Exported so other packages (mqueue, shm) can
// follow the same external-lock-then-self-lock ordering sleep's contract
// requires when they need to read/mutate a *Task directly.
func (t *Task) Lock() { t.mu.Lock() }

// Unlock releases the TCB lock.
func (t *Task) Unlock() { t.mu.Unlock() }

// Killed reports whether kill(pid) has been called on this task.
func (t *Task) Killed() bool { return t.killed.Load() }

// setKilled sets the kill flag; see Kernel.Kill.
func (t *Task) setKilled() { t.killed.Store(true) }

// ChanSelf returns the Chan derived from this task's own identity, the
// convention Wait and Join use to sleep "on myproc()".
func (t *Task) ChanSelf() Chan { return ChanOf(t) }
