package vm

import (
	"errors"
	"sync"
)

// ErrCopyFault mirrors the copy-failed error class of spec.md §7: the
// target virtual address is not backed by a mapped page.
var ErrCopyFault = errors.New("vm: copy fault: address not mapped")

// ErrOutOfMemory mirrors kalloc returning nil under memory pressure.
var ErrOutOfMemory = errors.New("vm: out of memory")

func pageAlign(va uintptr) uintptr { return va &^ (PGSIZE - 1) }

func pageRoundUp(n uintptr) uintptr { return (n + PGSIZE - 1) &^ (PGSIZE - 1) }

// AddressSpace is the simulated stand-in for a page table: a sparse map from
// page-aligned virtual address to backing page. A cloned (thread) task
// borrows its parent's AddressSpace by pointer instead of copying it, which
// is the invariant spec.md §3 states ("a cloned TCB does not own its page
// table; it borrows the parent's").
type AddressSpace struct {
	mu    sync.Mutex
	pages map[uintptr]Page
	sz    uintptr
}

// NewAddressSpace returns an empty address space with no user memory.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{pages: make(map[uintptr]Page)}
}

// Size returns the current end of the contiguous user region [0, sz).
func (as *AddressSpace) Size() uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.sz
}

// MapPages installs pages contiguously starting at va (page-aligned), the
// simulated equivalent of mappages.
func (as *AddressSpace) MapPages(va uintptr, pages []Page) {
	as.mu.Lock()
	defer as.mu.Unlock()
	a := pageAlign(va)
	for _, p := range pages {
		as.pages[a] = p
		a += PGSIZE
	}
}

// UnmapPages removes n mapped pages starting at va and returns them, the
// simulated equivalent of uvmunmap. The caller decides whether the returned
// pages should be kfree'd (owned memory) or left alone (borrowed shm/clone
// pages, matching the source's distinct "do_free" argument to uvmunmap).
func (as *AddressSpace) UnmapPages(va uintptr, n int) []Page {
	as.mu.Lock()
	defer as.mu.Unlock()
	a := pageAlign(va)
	out := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		if p, ok := as.pages[a]; ok {
			out = append(out, p)
			delete(as.pages, a)
		}
		a += PGSIZE
	}
	return out
}

// Grow extends user memory [0, sz) by n bytes, allocating and mapping
// whatever whole pages the growth newly spans, the simulated equivalent of
// uvmalloc. It returns the new size.
func (as *AddressSpace) Grow(alloc *PageAllocator, n int) (uintptr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	oldSz := as.sz
	newSz := oldSz + uintptr(n)
	oldTop := pageRoundUp(oldSz)
	newTop := pageRoundUp(newSz)
	if newTop > oldTop {
		count := int((newTop - oldTop) / PGSIZE)
		pages := alloc.KallocN(count)
		if pages == nil {
			return 0, ErrOutOfMemory
		}
		a := oldTop
		for _, p := range pages {
			as.pages[a] = p
			a += PGSIZE
		}
	}
	as.sz = newSz
	return newSz, nil
}

// Shrink reduces user memory from oldSz down to newSz, freeing whatever
// whole pages fall out of range, the simulated equivalent of uvmdealloc.
func (as *AddressSpace) Shrink(alloc *PageAllocator, newSz uintptr) uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	if newSz >= as.sz {
		return as.sz
	}
	oldTop := pageRoundUp(as.sz)
	newTop := pageRoundUp(newSz)
	for a := newTop; a < oldTop; a += PGSIZE {
		if p, ok := as.pages[a]; ok {
			alloc.Kfree(p)
			delete(as.pages, a)
		}
	}
	as.sz = newSz
	return newSz
}

// Clone deep-copies every mapped page into a freshly allocated address
// space, the simulated equivalent of uvmcopy used by fork.
func (as *AddressSpace) Clone(alloc *PageAllocator) (*AddressSpace, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	out := NewAddressSpace()
	out.sz = as.sz
	for a, p := range as.pages {
		np := alloc.Kalloc()
		if np == nil {
			for _, already := range out.pages {
				alloc.Kfree(already)
			}
			return nil, ErrOutOfMemory
		}
		copy(np, p)
		out.pages[a] = np
	}
	return out, nil
}

// lookup returns the backing page and in-page offset for va, without
// locking (callers hold as.mu).
func (as *AddressSpace) lookup(va uintptr) (Page, uintptr, bool) {
	a := pageAlign(va)
	p, ok := as.pages[a]
	if !ok {
		return nil, 0, false
	}
	return p, va - a, true
}

// CopyOut copies src into the user address space at dst, the simulated
// equivalent of copyout. It can span a single page only, matching how
// toykernel's messages and shm segments are always page-bounded.
func (as *AddressSpace) CopyOut(dst uintptr, src []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	p, off, ok := as.lookup(dst)
	if !ok || off+uintptr(len(src)) > PGSIZE {
		return ErrCopyFault
	}
	copy(p[off:], src)
	return nil
}

// CopyIn copies from the user address space at src into dst, the simulated
// equivalent of copyin.
func (as *AddressSpace) CopyIn(dst []byte, src uintptr) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	p, off, ok := as.lookup(src)
	if !ok || off+uintptr(len(dst)) > PGSIZE {
		return ErrCopyFault
	}
	copy(dst, p[off:])
	return nil
}

// CopyOutString is copyoutstr: like CopyOut but for a raw byte run that the
// kernel does not know the length of ahead of time (msgrcv's user buffer).
func (as *AddressSpace) CopyOutString(dst uintptr, src []byte) error {
	return as.CopyOut(dst, src)
}
