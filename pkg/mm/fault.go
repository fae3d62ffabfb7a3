// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import (
	"rvkern.dev/rvkern/pkg/log"
	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/pagetables"
)

// HandleUserFault services a page fault at va taken in user mode. If va
// lies in the user region and is entirely unmapped, one zeroed page is
// allocated and mapped read/write/user, realizing on demand allocation
// for the process's stack and heap, and true is returned.
//
// False means the fault was not handled: the address is outside the
// user region, or something along the translation path is already a
// valid mapping, so the fault is a genuine protection violation and the
// trap dispatcher should terminate the process.
func (m *MemoryManager) HandleUserFault(va memarch.VirtAddr) bool {
	if va < memarch.UserStart || va >= memarch.UserEnd {
		return false
	}

	pt := m.activeTables()
	if pte, _ := pt.Lookup(va); pte.Valid() {
		// A valid leaf (at any level) or a corrupt bottom entry: the
		// access itself was illegal, not the mapping missing.
		return false
	}

	pa, err := m.pages.AllocPages(1)
	if err != nil {
		return false
	}
	m.arena.ZeroPages(pa, 1)

	pte, level := pt.Ensure(va)
	if pte.Valid() || level != 0 {
		m.pages.FreePages(pa, 1)
		return false
	}
	*pte = pagetables.MakeLeaf(pa, memarch.UserReadWrite)
	m.csr.SFenceVMA(va)

	log.Debugf("mm: demand mapped %#x -> %#x", uint64(va.RoundDown()), uint64(pa))
	return true
}
