// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import (
	"rvkern.dev/rvkern/pkg/log"
	"rvkern.dev/rvkern/pkg/machine"
	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/pagetables"
)

// ActiveSpace returns the tag of the active address space.
func (m *MemoryManager) ActiveSpace() machine.Tag {
	return m.csr.ReadSATP()
}

// SwitchSpace makes the address space identified by tag active and
// returns the previously active tag. The translation cache is fenced so
// that no stale translation from either space survives the switch.
func (m *MemoryManager) SwitchSpace(tag machine.Tag) machine.Tag {
	prev := m.csr.SwapSATP(tag)
	m.csr.SFenceAll()
	return prev
}

// CloneActiveSpace builds a fully independent copy of the active
// address space and returns its tag under a fresh ASID. Every valid non
// global leaf gets a freshly allocated physical page with its contents
// copied; every non global child table is cloned recursively. Global
// mappings are shared by reference, never copied.
//
// The copy is eager. Copy-on-write would avoid the page copies but
// needs reference counting on physical pages, which this kernel does
// not keep.
func (m *MemoryManager) CloneActiveSpace() machine.Tag {
	src := m.activeTables()
	dst := pagetables.New(m.tables)
	m.cloneTable(src.Root(), dst.Root(), memarch.RootLevel)
	tag := machine.MakeTag(m.allocASID(), dst.RootPhysical())
	log.Debugf("mm: cloned %v -> %v", m.csr.ReadSATP(), tag)
	return tag
}

func (m *MemoryManager) cloneTable(src, dst *pagetables.PTEs, level int) {
	for i := range src {
		pte := src[i]
		switch {
		case !pte.Valid():
			// Leave dst[i] null.
		case pte.Global():
			// Shared with the source space by reference.
			dst[i] = pte
		case pte.Leaf():
			n := pagetables.LevelSize(level) / memarch.PageSize
			pa, err := m.pages.AllocPages(n)
			if err != nil {
				panic(err)
			}
			m.arena.CopyPages(pa, pte.Address(), n)
			dst[i] = pagetables.MakeLeaf(pa, pte.Access())
		default:
			child := m.tables.NewPTEs()
			m.cloneTable(m.tables.LookupPTEs(pte.Address()), child, level-1)
			dst[i] = pagetables.MakeTable(m.tables.PhysicalFor(child), false)
		}
	}
}

// resetVisitor frees the backing pages of non global leaves across the
// whole address space.
type resetVisitor struct {
	m *MemoryManager
}

// Visit implements pagetables.Visitor.Visit.
func (v *resetVisitor) Visit(start memarch.VirtAddr, pte *pagetables.PTE, size uint64) bool {
	if pte.Global() {
		return true
	}
	v.m.pages.FreePages(pte.Address(), size/memarch.PageSize)
	pte.Clear()
	return true
}

// ResetActiveSpace tears down every non global mapping in the active
// address space, returning the backing pages and the emptied child
// tables to the allocator. Kernel mappings, being global, survive. The
// root table itself is kept so the tag stays valid.
func (m *MemoryManager) ResetActiveSpace() {
	m.activeTables().IterateRange(0, memarch.MaxVirtAddr, &resetVisitor{m: m})
	m.csr.SFenceAll()
}

// DiscardActiveSpace resets the active address space, switches back to
// the permanent kernel space, and returns the previously active tag.
// Used when a process exits or is replaced by a fresh exec.
func (m *MemoryManager) DiscardActiveSpace() machine.Tag {
	m.ResetActiveSpace()
	return m.SwitchSpace(m.kernelTag)
}

// ReleaseSpace frees the root table of an inactive address space
// previously produced by CloneActiveSpace, after tearing down any non
// global mappings still in it. The tag must not be active and must not
// be the kernel's; it is dangling afterwards.
func (m *MemoryManager) ReleaseSpace(tag machine.Tag) error {
	if tag == m.kernelTag || tag.RootPhysical() == m.csr.ReadSATP().RootPhysical() {
		return ErrInvalidArgument
	}
	pt := pagetables.Attach(m.tables, tag.RootPhysical())
	pt.IterateRange(0, memarch.MaxVirtAddr, &resetVisitor{m: m})
	m.tables.FreePTEs(pt.Root())
	return nil
}
