// Package vm simulates the external collaborators spec.md §1 places out of
// scope: the physical page allocator, the per-process address space, and the
// user-copy helpers. toykernel is a hosted process rather than a bare-metal
// image, so there is no real MMU to drive; this package gives the rest of
// the module the same contracts (kalloc/kfree, mappages/uvmunmap,
// copyin/copyout/copyoutstr) backed by plain Go memory.
package vm

import (
	"golang.org/x/sync/semaphore"
)

// PGSIZE is the fixed page size every kernel object is sized in multiples of.
const PGSIZE = 4096

// Page is one kalloc'd unit of backing storage.
type Page = []byte

// PageAllocator hands out zero-filled, fixed-size pages up to a bounded
// total, mirroring kalloc/kfree over a finite pool of physical frames.
type PageAllocator struct {
	sem *semaphore.Weighted
}

// NewPageAllocator bounds the allocator to maxPages concurrently live pages.
func NewPageAllocator(maxPages int64) *PageAllocator {
	return &PageAllocator{sem: semaphore.NewWeighted(maxPages)}
}

// Kalloc returns one zero-filled page, or nil if the pool is exhausted.
func (a *PageAllocator) Kalloc() Page {
	if !a.sem.TryAcquire(1) {
		return nil
	}
	return make([]byte, PGSIZE)
}

// Kfree returns a page to the pool. Passing nil is a no-op.
func (a *PageAllocator) Kfree(p Page) {
	if p == nil {
		return
	}
	a.sem.Release(1)
}

// KallocN allocates num contiguous pages, rolling back on partial failure,
// mirroring allocshm's loop over kalloc in original_source/kernel/sharemem.c.
func (a *PageAllocator) KallocN(num int) []Page {
	pages := make([]Page, 0, num)
	for i := 0; i < num; i++ {
		p := a.Kalloc()
		if p == nil {
			for _, got := range pages {
				a.Kfree(got)
			}
			return nil
		}
		pages = append(pages, p)
	}
	return pages
}

// KfreeN returns every page in pages to the pool.
func (a *PageAllocator) KfreeN(pages []Page) {
	for _, p := range pages {
		a.Kfree(p)
	}
}
