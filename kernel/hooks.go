package kernel

import "toykernel/internal/vm"

// MQHooks lets the mqueue package hang its refcounting off Fork/Wait
// without the kernel package importing mqueue (spec.md §7's addmqcount /
// releasemq2 are owned by the message-queue table, not the task table).
type MQHooks interface {
	// OnFork is called once per fork(), after the child's MQMask is copied
	// from the parent, to bump the queue refcounts for every bit set.
	OnFork(mask uint32)
	// OnReap is called once a zombie child's resources are being released
	// by Wait, to drop the queue refcounts for every bit set — releasemq2.
	// Join does not call it.
	OnReap(mask uint32)
}

// ShmHooks is MQHooks's counterpart for the shared-memory table (spec.md
// §8's shmaddcount / shmrelease).
type ShmHooks interface {
	// OnFork bumps refcounts for every key bit set in mask, mirroring the
	// child inheriting its parent's attachments, and re-maps the real
	// backing pages into as at shmVA: AddressSpace.Clone deep-copies every
	// mapped page including the parent's shm window, which would otherwise
	// leave the child looking at a private copy instead of the shared
	// segment (spec.md §8 scenario 3 requires writes from one forked child
	// to be visible to another).
	OnFork(as *vm.AddressSpace, shmVA [8]uintptr, mask uint8)
	// OnReap unmaps as, releases the task's window down to shmTop, and
	// drops refcounts for every key bit set in mask.
	OnReap(as *vm.AddressSpace, shmTop uintptr, mask uint8)
}

// SetMQHooks registers the message-queue manager's hooks. Called once at
// wiring time (typically from mqueue.NewManager).
func (k *Kernel) SetMQHooks(h MQHooks) { k.mqHooks = h }

// SetShmHooks registers the shared-memory manager's hooks.
func (k *Kernel) SetShmHooks(h ShmHooks) { k.shmHooks = h }
