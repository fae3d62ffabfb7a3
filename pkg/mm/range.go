// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import (
	"fmt"

	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/pagetables"
)

// AllocPhysPages allocates a run of n consecutive physical pages.
func (m *MemoryManager) AllocPhysPages(n uint64) (memarch.PhysAddr, error) {
	return m.pages.AllocPages(n)
}

// FreePhysPages returns a run of physical pages to the allocator.
func (m *MemoryManager) FreePhysPages(pa memarch.PhysAddr, n uint64) {
	m.pages.FreePages(pa, n)
}

// checkMappable rejects addresses the range API must not touch: the
// address must be page aligned, well formed, and above the kernel/user
// boundary.
func checkMappable(va memarch.VirtAddr) error {
	if !va.PageAligned() || !va.WellFormed() {
		return ErrInvalidArgument
	}
	if va < memarch.UserStart || va >= memarch.MaxVirtAddr {
		return ErrInvalidArgument
	}
	return nil
}

// mapPage installs a leaf without fencing. The caller fences.
func (m *MemoryManager) mapPage(pt *pagetables.PageTables, va memarch.VirtAddr, pa memarch.PhysAddr, at memarch.AccessType) error {
	if err := checkMappable(va); err != nil {
		return err
	}
	pte, level := pt.Ensure(va)
	if pte.Valid() || level != 0 {
		// Overwriting a valid leaf would leak its backing page, and a
		// superpage in the way means the caller's layout is wrong.
		return fmt.Errorf("%w: %#x", ErrAlreadyMapped, uint64(va))
	}
	*pte = pagetables.MakeLeaf(pa, at)
	return nil
}

// MapPage maps the physical page at pa into the active address space at
// va. The caller must unmap an existing mapping first; overwriting is
// refused rather than silently leaking the old page.
func (m *MemoryManager) MapPage(va memarch.VirtAddr, pa memarch.PhysAddr, at memarch.AccessType) error {
	if err := m.mapPage(m.activeTables(), va, pa, at); err != nil {
		return err
	}
	m.csr.SFenceVMA(va)
	return nil
}

// MapRange maps size bytes of contiguous physical memory starting at pa
// into the active address space at va. The size is rounded up to whole
// pages; the translation cache is fenced once for the whole range.
func (m *MemoryManager) MapRange(va memarch.VirtAddr, size uint64, pa memarch.PhysAddr, at memarch.AccessType) error {
	pt := m.activeTables()
	n := memarch.PageCount(size)
	for i := uint64(0); i < n; i++ {
		off := memarch.VirtAddr(i * memarch.PageSize)
		if err := m.mapPage(pt, va+off, pa+memarch.PhysAddr(i*memarch.PageSize), at); err != nil {
			m.csr.SFenceAll()
			return err
		}
	}
	m.csr.SFenceAll()
	return nil
}

// AllocAndMapRange allocates enough contiguous physical pages to cover
// size bytes, zeroes them, and maps them at va. The physical base of
// the run is returned.
func (m *MemoryManager) AllocAndMapRange(va memarch.VirtAddr, size uint64, at memarch.AccessType) (memarch.PhysAddr, error) {
	n := memarch.PageCount(size)
	pa, err := m.pages.AllocPages(n)
	if err != nil {
		return 0, err
	}
	m.arena.ZeroPages(pa, n)
	if err := m.MapRange(va, size, pa, at); err != nil {
		m.pages.FreePages(pa, n)
		return 0, err
	}
	return pa, nil
}

// SetRangeFlags rewrites the access flags of every leaf in
// [va, va+size), keeping the physical pages. Calling it on a range that
// is not fully mapped is a programming error and fatal: this operation
// changes permissions, it does not create mappings.
func (m *MemoryManager) SetRangeFlags(va memarch.VirtAddr, size uint64, at memarch.AccessType) {
	pt := m.activeTables()
	end := (va + memarch.VirtAddr(size)).RoundUp()
	for page := va.RoundDown(); page < end; {
		pte, level := pt.Lookup(page)
		if !pte.Valid() || !pte.Leaf() {
			panic(fmt.Sprintf("mm: SetRangeFlags on unmapped address %#x (level %d)", uint64(page), level))
		}
		*pte = pagetables.MakeLeaf(pte.Address(), at)
		granule := pagetables.LevelSize(level)
		page = memarch.VirtAddr(uint64(page)&^(granule-1) + granule)
	}
	m.csr.SFenceAll()
}

// unmapVisitor frees the backing pages of non global leaves. Unmapped
// and global pages are skipped silently.
type unmapVisitor struct {
	m *MemoryManager
}

// Visit implements pagetables.Visitor.Visit.
func (v *unmapVisitor) Visit(start memarch.VirtAddr, pte *pagetables.PTE, size uint64) bool {
	if pte.Global() {
		return true
	}
	v.m.pages.FreePages(pte.Address(), size/memarch.PageSize)
	pte.Clear()
	return true
}

// UnmapAndFreeRange unmaps [va, va+size) from the active address space
// and returns the backing pages of every non global mapping to the
// allocator. Page tables left empty by the unmap are freed as well.
func (m *MemoryManager) UnmapAndFreeRange(va memarch.VirtAddr, size uint64) {
	end := (va + memarch.VirtAddr(size)).RoundUp()
	m.activeTables().IterateRange(va.RoundDown(), end, &unmapVisitor{m: m})
	m.csr.SFenceAll()
}
