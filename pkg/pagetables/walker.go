// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pagetables

import (
	"fmt"

	"rvkern.dev/rvkern/pkg/memarch"
)

// Visitor is called for each valid entry found by IterateRange.
type Visitor interface {
	// Visit is called with the virtual address covered by the entry,
	// the entry itself, and the number of bytes it maps (4 KiB, 2 MiB
	// or 1 GiB). The visitor may clear or rewrite the entry. Returning
	// false aborts the walk.
	Visit(start memarch.VirtAddr, pte *PTE, size uint64) bool
}

// Walker walks a range of the tree, visiting every valid entry and
// reclaiming child tables that end up entirely clear. Invalid entries
// are skipped; the walker never allocates.
type Walker struct {
	pageTables *PageTables
	visitor    Visitor
}

// boundary returns the lesser of the next size boundary above addr and
// end. size is a power of two.
func boundary(addr, end memarch.VirtAddr, size uint64) memarch.VirtAddr {
	next := (addr + memarch.VirtAddr(size)) &^ memarch.VirtAddr(size-1)
	if next < addr || next > end {
		return end
	}
	return next
}

// walkPTEs visits the level 0 entries covering [start, end) and returns
// whether the walk may continue and the number of clear entries seen.
func (w *Walker) walkPTEs(entries *PTEs, start, end memarch.VirtAddr) (bool, int) {
	clearEntries := 0
	for start < end {
		pte := &entries[Index(start, 0)]
		if !pte.Valid() {
			clearEntries++
			start += memarch.PageSize
			continue
		}
		if !w.visitor.Visit(start.RoundDown(), pte, memarch.PageSize) {
			return false, clearEntries
		}
		if !pte.Valid() {
			clearEntries++
		}
		start += memarch.PageSize
	}
	return true, clearEntries
}

// walkMegas visits the level 1 entries covering [start, end), descending
// through table pointers and visiting megapage leaves whole.
func (w *Walker) walkMegas(entries *PTEs, start, end memarch.VirtAddr) (bool, int) {
	clearEntries := 0
	for start < end {
		nextBoundary := boundary(start, end, memarch.MegaSize)
		pte := &entries[Index(start, 1)]
		if !pte.Valid() {
			clearEntries++
			start = nextBoundary
			continue
		}
		if pte.Leaf() {
			if !w.visitor.Visit(start&^memarch.VirtAddr(memarch.MegaSize-1), pte, memarch.MegaSize) {
				return false, clearEntries
			}
			if !pte.Valid() {
				clearEntries++
			}
			start = nextBoundary
			continue
		}

		child := w.pageTables.Allocator.LookupPTEs(pte.Address())
		ok, clearPTEs := w.walkPTEs(child, start, nextBoundary)
		if !ok {
			return false, clearEntries
		}
		if clearPTEs == entriesPerTable {
			pte.Clear()
			w.pageTables.Allocator.FreePTEs(child)
			clearEntries++
		}
		start = nextBoundary
	}
	return true, clearEntries
}

// IterateRange walks [start, end) in the canonical lower half, calling
// the visitor for every valid entry at the level where translation
// terminates. A child table whose entries are all clear after its span
// has been walked in full is freed and its parent entry cleared.
// Returns false if the visitor aborted the walk.
func (p *PageTables) IterateRange(start, end memarch.VirtAddr, v Visitor) bool {
	if start > end || end > memarch.MaxVirtAddr {
		panic(fmt.Sprintf("pagetables: bad walk range [%#x, %#x)", uint64(start), uint64(end)))
	}
	w := Walker{pageTables: p, visitor: v}
	for start < end {
		nextBoundary := boundary(start, end, memarch.GigaSize)
		pte := &p.root[Index(start, 2)]
		if !pte.Valid() {
			start = nextBoundary
			continue
		}
		if pte.Leaf() {
			if !v.Visit(start&^memarch.VirtAddr(memarch.GigaSize-1), pte, memarch.GigaSize) {
				return false
			}
			start = nextBoundary
			continue
		}

		child := p.Allocator.LookupPTEs(pte.Address())
		ok, clearMegas := w.walkMegas(child, start, nextBoundary)
		if !ok {
			return false
		}
		if clearMegas == entriesPerTable {
			pte.Clear()
			p.Allocator.FreePTEs(child)
		}
		start = nextBoundary
	}
	return true
}
