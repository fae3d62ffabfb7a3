// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pagetables builds and traverses Sv39 page tables.
//
// The engine is purely structural: it encodes and decodes entries and
// walks the three-level radix tree, allocating zeroed child tables where
// a caller asks it to. Deciding whether an address may be mapped, what
// happens to the backing pages, and when to fence the translation cache
// is the business of higher layers.
package pagetables

import (
	"rvkern.dev/rvkern/pkg/memarch"
)

// Allocator is the source of page table storage.
type Allocator interface {
	// NewPTEs returns a new, zeroed table.
	NewPTEs() *PTEs

	// PhysicalFor returns the physical address of the given table.
	PhysicalFor(ptes *PTEs) memarch.PhysAddr

	// LookupPTEs returns the table at the given physical address.
	LookupPTEs(pa memarch.PhysAddr) *PTEs

	// FreePTEs releases the given table.
	FreePTEs(ptes *PTEs)
}

// PageTables is a set of Sv39 translation tables rooted at a single
// level 2 table.
type PageTables struct {
	// Allocator is used to allocate and look up child tables.
	Allocator Allocator

	root     *PTEs
	rootPhys memarch.PhysAddr
}

// New returns a set of page tables with a fresh, empty root.
func New(a Allocator) *PageTables {
	root := a.NewPTEs()
	return &PageTables{
		Allocator: a,
		root:      root,
		rootPhys:  a.PhysicalFor(root),
	}
}

// Attach returns a set of page tables rooted at an existing root table,
// such as one recovered from the active translation tag.
func Attach(a Allocator, rootPhys memarch.PhysAddr) *PageTables {
	return &PageTables{
		Allocator: a,
		root:      a.LookupPTEs(rootPhys),
		rootPhys:  rootPhys,
	}
}

// Root returns the root table.
func (p *PageTables) Root() *PTEs {
	return p.root
}

// RootPhysical returns the physical address of the root table.
func (p *PageTables) RootPhysical() memarch.PhysAddr {
	return p.rootPhys
}

// Lookup descends toward va without modifying the tree. It returns the
// entry and level at which the descent stopped: the first invalid entry,
// a leaf (possibly a superpage above level 0), or the level 0 slot. A
// valid non-leaf entry at level 0 is returned as is; callers treat it as
// a structural inconsistency.
func (p *PageTables) Lookup(va memarch.VirtAddr) (*PTE, int) {
	table := p.root
	for level := memarch.RootLevel; ; level-- {
		pte := &table[Index(va, level)]
		if !pte.Valid() || pte.Leaf() || level == 0 {
			return pte, level
		}
		table = p.Allocator.LookupPTEs(pte.Address())
	}
}

// Ensure descends toward va, allocating and linking zeroed child tables
// across invalid entries, and returns the level 0 slot for va. If an
// existing leaf terminates the descent early at a superpage boundary,
// that entry and its level are returned instead.
func (p *PageTables) Ensure(va memarch.VirtAddr) (*PTE, int) {
	table := p.root
	for level := memarch.RootLevel; ; level-- {
		pte := &table[Index(va, level)]
		if pte.Leaf() {
			return pte, level
		}
		if level == 0 {
			return pte, 0
		}
		if !pte.Valid() {
			child := p.Allocator.NewPTEs()
			*pte = MakeTable(p.Allocator.PhysicalFor(child), false)
			table = child
			continue
		}
		table = p.Allocator.LookupPTEs(pte.Address())
	}
}
