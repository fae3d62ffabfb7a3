// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package pagetables

import (
	"fmt"

	"rvkern.dev/rvkern/pkg/memarch"
)

// PTE is a page table entry in the Sv39 hardware encoding: flag bits
// 0..7 (V, R, W, X, U, G, A, D) and the physical page number in bits
// 10..53. An entry is invalid (V clear), a leaf (V set and any of R/W/X
// set), or a pointer to a child table (V set, R/W/X clear). It is never
// more than one of these.
type PTE uint64

const (
	pteValid PTE = 1 << iota
	pteRead
	pteWrite
	pteExec
	pteUser
	pteGlobal
	pteAccessed
	pteDirty
)

const (
	ppnShift = 10
	ppnMask  = (1 << 44) - 1
)

// entriesPerTable is the number of PTEs in one page table.
const entriesPerTable = memarch.PageSize / 8

// PTEs is a page of page table entries, page aligned in physical memory.
type PTEs [entriesPerTable]PTE

// Valid returns true if the entry is valid.
func (p PTE) Valid() bool {
	return p&pteValid != 0
}

// Leaf returns true if the entry maps a physical page directly. A leaf
// in a level 1 or level 2 table maps a megapage or gigapage.
func (p PTE) Leaf() bool {
	return p&(pteRead|pteWrite|pteExec) != 0
}

// Global returns true if the entry is marked global. Global entries
// belong to the kernel and survive address space resets.
func (p PTE) Global() bool {
	return p&pteGlobal != 0
}

// Address returns the physical address encoded in the entry: for a leaf
// the mapped page, for a table pointer the child table.
func (p PTE) Address() memarch.PhysAddr {
	return memarch.PageNum(p >> ppnShift & ppnMask).Addr()
}

// Access returns the access rights of a leaf entry.
func (p PTE) Access() memarch.AccessType {
	return memarch.AccessType{
		Read:    p&pteRead != 0,
		Write:   p&pteWrite != 0,
		Execute: p&pteExec != 0,
		User:    p&pteUser != 0,
		Global:  p&pteGlobal != 0,
	}
}

// Clear zaps the entry.
func (p *PTE) Clear() {
	*p = 0
}

// String implements fmt.Stringer.
func (p PTE) String() string {
	switch {
	case !p.Valid():
		return "invalid"
	case p.Leaf():
		return fmt.Sprintf("leaf %#x %s", uint64(p.Address()), p.Access())
	default:
		return fmt.Sprintf("table %#x", uint64(p.Address()))
	}
}

// MakeLeaf builds a leaf entry mapping the page at pa with the given
// access. Leaves are created with A and D preset so the hardware never
// needs to write back into the tables.
func MakeLeaf(pa memarch.PhysAddr, at memarch.AccessType) PTE {
	p := PTE(pa.PageNum())<<ppnShift | pteValid | pteAccessed | pteDirty
	if at.Read {
		p |= pteRead
	}
	if at.Write {
		p |= pteWrite
	}
	if at.Execute {
		p |= pteExec
	}
	if at.User {
		p |= pteUser
	}
	if at.Global {
		p |= pteGlobal
	}
	return p
}

// MakeTable builds an entry pointing at the child table at pa. A global
// table entry marks the whole subtree as kernel owned.
func MakeTable(pa memarch.PhysAddr, global bool) PTE {
	p := PTE(pa.PageNum())<<ppnShift | pteValid
	if global {
		p |= pteGlobal
	}
	return p
}

// Index extracts the page table index of va for the given level.
func Index(va memarch.VirtAddr, level int) int {
	return int(uint64(va) >> (memarch.PageShift + level*memarch.LevelBits) & (entriesPerTable - 1))
}

// LevelSize returns the number of bytes mapped by one entry at the
// given level: 4 KiB pages, 2 MiB megapages, 1 GiB gigapages.
func LevelSize(level int) uint64 {
	return memarch.PageSize << (level * memarch.LevelBits)
}
