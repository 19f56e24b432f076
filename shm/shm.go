// Package shm implements the keyed shared-memory facility of spec.md §4.5:
// up to MaxKeys regions, each up to MaxShmPgnum pages, reference-counted
// across tasks and mapped high in every attached task's address space.
package shm

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"toykernel/internal/vm"
	"toykernel/kernel"
)

type segment struct {
	refcount int
	pagenum  int
	pages    [MaxShmPgnum]vm.Page
}

// Manager owns the fixed shared-memory key table and wires into a Kernel as
// its ShmHooks implementation.
type Manager struct {
	mu    sync.Mutex
	alloc *vm.PageAllocator
	table [MaxKeys]*segment
	log   zerolog.Logger
}

// NewManager builds a Manager backed by k's page allocator and registers it
// as k's ShmHooks.
func NewManager(k *kernel.Kernel) *Manager {
	m := &Manager{
		alloc: k.PageAllocator(),
		log:   zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "shm").Logger(),
	}
	for i := range m.table {
		m.table[i] = &segment{}
	}
	k.SetShmHooks(m)
	return m
}

// Get implements shmgetat(key, num): attach t to the shared region named by
// key, creating it with num pages if it does not yet exist, and return the
// virtual address t's window maps it at.
func (m *Manager) Get(t *kernel.Task, key int, num int) (uintptr, error) {
	if key < 0 || key >= MaxKeys {
		return 0, ErrInvalidKey
	}
	if num < 0 || num > MaxShmPgnum {
		return 0, ErrInvalidNum
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t.Lock()
	bit := uint8(1) << uint(key)
	if t.ShmKeyMask&bit != 0 {
		va := t.ShmVA[key]
		t.Unlock()
		return va, nil
	}

	seg := m.table[key]
	if seg.refcount == 0 {
		pages := m.alloc.KallocN(num)
		if pages == nil {
			t.Unlock()
			m.log.Warn().Int("key", key).Int("pages", num).Msg("shmgetat: out of memory")
			return 0, ErrOutOfMemory
		}
		copy(seg.pages[:], pages)
		seg.pagenum = num
		seg.refcount = 1

		va := t.ShmTop - uintptr(num)*vm.PGSIZE
		t.AddrSpace.MapPages(va, pages)
		t.ShmVA[key] = va
		t.ShmTop = va
		t.ShmKeyMask |= bit
		t.Unlock()
		m.log.Debug().Int("key", key).Int("pages", num).Msg("shmgetat: created")
		return va, nil
	}

	num = seg.pagenum
	pages := seg.pages[:num]
	va := t.ShmTop - uintptr(num)*vm.PGSIZE
	t.AddrSpace.MapPages(va, pages)
	t.ShmVA[key] = va
	t.ShmTop = va
	t.ShmKeyMask |= bit
	seg.refcount++
	t.Unlock()
	m.log.Debug().Int("key", key).Int("pages", num).Msg("shmgetat: attached")
	return va, nil
}

// RefCount implements shmrefcount(key).
func (m *Manager) RefCount(key int) (int, error) {
	if key < 0 || key >= MaxKeys {
		return -1, ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table[key].refcount, nil
}

// OnFork implements kernel.ShmHooks: bump refcounts for every key bit set in
// mask, and re-map the real backing pages into the child's address space at
// its inherited shmVA. AddrSpace.Clone already deep-copied whatever sat at
// those addresses when it copied the parent's whole address space; without
// this re-map the child would see a private snapshot instead of the live
// segment, breaking visibility of writes from sibling forks.
func (m *Manager) OnFork(as *vm.AddressSpace, shmVA [MaxKeys]uintptr, mask uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := 0; key < MaxKeys; key++ {
		if mask>>uint(key)&1 != 1 {
			continue
		}
		seg := m.table[key]
		seg.refcount++
		if as != nil {
			as.MapPages(shmVA[key], seg.pages[:seg.pagenum])
		}
	}
}

// OnReap implements kernel.ShmHooks: unmap a reaped task's shared-memory
// window and drop refcounts for every key bit set in mask, freeing physical
// pages whose refcount reaches zero.
func (m *Manager) OnReap(as *vm.AddressSpace, shmTop uintptr, mask uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if as != nil {
		floor := kernel.DefaultShmTop()
		if shmTop < floor {
			npages := int((floor - shmTop) / vm.PGSIZE)
			as.UnmapPages(shmTop, npages)
		}
	}

	for key := 0; key < MaxKeys; key++ {
		if mask>>uint(key)&1 != 1 {
			continue
		}
		seg := m.table[key]
		seg.refcount--
		m.log.Debug().Int("key", key).Int("refcount", seg.refcount).Msg("shm release")
		if seg.refcount <= 0 {
			for i := 0; i < seg.pagenum; i++ {
				m.alloc.Kfree(seg.pages[i])
			}
			m.table[key] = &segment{}
		}
	}
}
