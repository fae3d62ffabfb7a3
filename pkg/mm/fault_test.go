// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import (
	"testing"

	"rvkern.dev/rvkern/pkg/memarch"
)

func TestFaultOutsideUserRegion(t *testing.T) {
	m := newTestMM(t)
	for _, va := range []memarch.VirtAddr{
		0,
		0x1000,
		memarch.VirtAddr(memarch.RamStart),
		memarch.UserStart - memarch.PageSize,
		memarch.UserEnd,
		memarch.UserEnd + memarch.PageSize,
	} {
		if m.HandleUserFault(va) {
			t.Errorf("HandleUserFault(%#x) handled a fault outside the user region", uint64(va))
		}
	}
}

func TestFaultDemandMapsPage(t *testing.T) {
	m := newTestMM(t)
	before := m.FreePageCount()
	va := memarch.UserStart + 0x7123 // deliberately unaligned

	if !m.HandleUserFault(va) {
		t.Fatal("HandleUserFault did not handle a first touch")
	}
	// One data page plus the two page tables for a fresh user branch.
	if got := m.FreePageCount(); got != before-3 {
		t.Errorf("free count = %d, want %d", got, before-3)
	}

	// The whole page is mapped and zeroed, not just the faulting byte.
	page := va.RoundDown()
	if err := m.ValidatePointer(page, memarch.PageSize, memarch.UserReadWrite); err != nil {
		t.Errorf("demand mapped page does not validate: %v", err)
	}
	pa, _, err := m.lookupLeaf(page, memarch.UserRead)
	if err != nil {
		t.Fatalf("lookupLeaf: %v", err)
	}
	for _, b := range m.arena.Slice(pa, memarch.PageSize) {
		if b != 0 {
			t.Fatal("demand mapped page not zeroed")
		}
	}
}

func TestFaultOnMappedPage(t *testing.T) {
	m := newTestMM(t)
	va := memarch.UserStart + 0x4000

	if !m.HandleUserFault(va) {
		t.Fatal("first fault not handled")
	}
	before := m.FreePageCount()
	// A second fault on the same page is a protection violation: the
	// mapping exists, so the access itself must have been illegal.
	if m.HandleUserFault(va) {
		t.Error("fault on an already mapped page was handled")
	}
	if m.HandleUserFault(va + 0x800) {
		t.Error("fault elsewhere in a mapped page was handled")
	}
	if got := m.FreePageCount(); got != before {
		t.Errorf("refused faults changed the free count: %d != %d", got, before)
	}
}

func TestFaultAdjacentPages(t *testing.T) {
	m := newTestMM(t)
	before := m.FreePageCount()

	// Pages in the same user branch share its page tables, so each
	// additional fault costs exactly one page.
	if !m.HandleUserFault(memarch.UserStart) {
		t.Fatal("first fault not handled")
	}
	if !m.HandleUserFault(memarch.UserStart + memarch.PageSize) {
		t.Fatal("second fault not handled")
	}
	if got := m.FreePageCount(); got != before-4 {
		t.Errorf("free count = %d, want %d", got, before-4)
	}
}
