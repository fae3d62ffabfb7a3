// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pagetables

import (
	"unsafe"

	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/pgalloc"
	"rvkern.dev/rvkern/pkg/ram"
)

// RAMAllocator allocates page table storage from the physical page
// allocator. Tables handed out by NewPTEs are zeroed, so a freshly
// linked table translates nothing.
type RAMAllocator struct {
	arena *ram.Arena
	pages *pgalloc.Allocator
}

// NewRAMAllocator returns an allocator drawing table pages from pages.
func NewRAMAllocator(arena *ram.Arena, pages *pgalloc.Allocator) *RAMAllocator {
	return &RAMAllocator{arena: arena, pages: pages}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *RAMAllocator) NewPTEs() *PTEs {
	pa := a.pages.AllocPage()
	a.arena.ZeroPages(pa, 1)
	return (*PTEs)(a.arena.Pointer(pa))
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *RAMAllocator) PhysicalFor(ptes *PTEs) memarch.PhysAddr {
	return a.arena.PhysFor(unsafe.Pointer(ptes))
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *RAMAllocator) LookupPTEs(pa memarch.PhysAddr) *PTEs {
	return (*PTEs)(a.arena.Pointer(pa))
}

// FreePTEs implements Allocator.FreePTEs.
func (a *RAMAllocator) FreePTEs(ptes *PTEs) {
	a.pages.FreePage(a.PhysicalFor(ptes))
}
