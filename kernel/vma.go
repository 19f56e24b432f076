package kernel

import "toykernel/internal/vm"

// MyAlloc implements spec.md §4.2's myalloc(n): a first-fit allocator over
// the caller's 10-entry vma free-list, mirroring
// original_source/kernel/proc.c's mygrowproc. It walks the sentinel-headed
// chain looking for the first gap big enough to hold n bytes past the
// current end of the previous block, claims a free vma slot to describe the
// new block, backs it with freshly allocated pages, and returns its
// address. Returns 0 (matching the source) if no free vma slot remains.
func (k *Kernel) MyAlloc(t *Task, n int) uintptr {
	t.Lock()
	defer t.Unlock()

	start := t.AddrSpace.Size()
	index := t.vmas[0].next
	prev := 0
	for index != 0 {
		v := t.vmas[index]
		if start+uintptr(n) < v.addr {
			break
		}
		start = v.addr + v.length
		prev = index
		index = v.next
	}

	for i := 1; i < vmaCount; i++ {
		if t.vmas[i].next == -1 {
			t.vmas[i] = vma{addr: start, length: uintptr(n), next: index}
			t.vmas[prev].next = i
			if _, err := t.AddrSpace.Grow(k.alloc, n); err != nil {
				t.vmas[i] = vma{next: -1}
				t.vmas[prev].next = index
				k.log.Warn().Int("pid", t.PID).Int("n", n).Msg("myalloc: backing page allocation failed")
				return 0
			}
			return start
		}
	}
	k.log.Warn().Int("pid", t.PID).Msg("myalloc: no free vma slot")
	return 0
}

// MyFree implements spec.md §4.2's myfree(addr): releases the vma block
// starting at addr, mirroring original_source/kernel/proc.c's
// myreduceproc. A no-op if no block starts at addr.
func (k *Kernel) MyFree(t *Task, addr uintptr) {
	t.Lock()
	defer t.Unlock()

	prev := 0
	for index := t.vmas[0].next; index != 0; index = t.vmas[index].next {
		v := t.vmas[index]
		if v.addr == addr && v.length > 0 {
			npages := int((v.length + vm.PGSIZE - 1) / vm.PGSIZE)
			k.alloc.KfreeN(t.AddrSpace.UnmapPages(v.addr, npages))
			t.vmas[prev].next = v.next
			t.vmas[index] = vma{next: -1}
			return
		}
		prev = index
	}
}
