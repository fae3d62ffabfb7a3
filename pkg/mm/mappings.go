// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import (
	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/pagetables"
)

// Mapping describes one leaf of an address space.
type Mapping struct {
	Virtual  memarch.VirtAddr
	Size     uint64
	Physical memarch.PhysAddr
	Access   memarch.AccessType
}

// Mappings enumerates every leaf of the active address space in virtual
// address order, merging virtually and physically contiguous leaves
// with identical access. Intended for diagnostics.
func (m *MemoryManager) Mappings() []Mapping {
	var out []Mapping
	m.collect(&out, m.activeTables().Root(), memarch.RootLevel, 0)
	return out
}

func (m *MemoryManager) collect(out *[]Mapping, table *pagetables.PTEs, level int, base memarch.VirtAddr) {
	span := pagetables.LevelSize(level)
	for i := range table {
		pte := table[i]
		if !pte.Valid() {
			continue
		}
		va := base + memarch.VirtAddr(uint64(i)*span)
		if !pte.Leaf() {
			m.collect(out, m.tables.LookupPTEs(pte.Address()), level-1, va)
			continue
		}
		if n := len(*out); n > 0 {
			last := &(*out)[n-1]
			if last.Virtual+memarch.VirtAddr(last.Size) == va &&
				last.Physical+memarch.PhysAddr(last.Size) == pte.Address() &&
				last.Access == pte.Access() {
				last.Size += span
				continue
			}
		}
		*out = append(*out, Mapping{Virtual: va, Size: span, Physical: pte.Address(), Access: pte.Access()})
	}
}
