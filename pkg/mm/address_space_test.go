// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvkern.dev/rvkern/pkg/memarch"
)

// userByte reads one byte of user memory through the active space.
func userByte(t *testing.T, m *MemoryManager, va memarch.VirtAddr) byte {
	t.Helper()
	pa, _, err := m.lookupLeaf(va, memarch.UserRead)
	if err != nil {
		t.Fatalf("lookupLeaf(%#x): %v", uint64(va), err)
	}
	return m.arena.Slice(pa, 1)[0]
}

func pokeUserByte(t *testing.T, m *MemoryManager, va memarch.VirtAddr, b byte) {
	t.Helper()
	pa, _, err := m.lookupLeaf(va, memarch.UserWrite)
	if err != nil {
		t.Fatalf("lookupLeaf(%#x): %v", uint64(va), err)
	}
	m.arena.Slice(pa, 1)[0] = b
}

func TestSwitchSpace(t *testing.T) {
	m := newTestMM(t)
	child := m.CloneActiveSpace()

	if prev := m.SwitchSpace(child); prev != m.KernelTag() {
		t.Errorf("SwitchSpace returned %v, want kernel tag %v", prev, m.KernelTag())
	}
	if got := m.ActiveSpace(); got != child {
		t.Errorf("active space %v, want %v", got, child)
	}
	if prev := m.SwitchSpace(m.KernelTag()); prev != child {
		t.Errorf("SwitchSpace back returned %v, want %v", prev, child)
	}
	if err := m.ReleaseSpace(child); err != nil {
		t.Errorf("ReleaseSpace: %v", err)
	}
}

func TestCloneDistinctASID(t *testing.T) {
	m := newTestMM(t)
	a := m.CloneActiveSpace()
	b := m.CloneActiveSpace()
	if a.ASID() == m.KernelTag().ASID() || b.ASID() == m.KernelTag().ASID() || a.ASID() == b.ASID() {
		t.Errorf("ASIDs not distinct: kernel %d, clones %d and %d", m.KernelTag().ASID(), a.ASID(), b.ASID())
	}
	m.ReleaseSpace(a)
	m.ReleaseSpace(b)
}

func TestCloneIndependence(t *testing.T) {
	m := newTestMM(t)
	va := memarch.UserStart + 0x2000

	if !m.HandleUserFault(va) {
		t.Fatal("fault not handled")
	}
	pokeUserByte(t, m, va, 0x5a)

	child := m.CloneActiveSpace()
	parent := m.SwitchSpace(child)

	// The clone sees a copy of the parent's data.
	if got := userByte(t, m, va); got != 0x5a {
		t.Errorf("clone reads %#x, want 0x5a", got)
	}
	// Writes in the clone do not reach the parent, and vice versa.
	pokeUserByte(t, m, va, 0x11)
	m.SwitchSpace(parent)
	if got := userByte(t, m, va); got != 0x5a {
		t.Errorf("parent reads %#x after clone write, want 0x5a", got)
	}
	pokeUserByte(t, m, va, 0x22)
	m.SwitchSpace(child)
	if got := userByte(t, m, va); got != 0x11 {
		t.Errorf("clone reads %#x after parent write, want 0x11", got)
	}

	m.SwitchSpace(parent)
	if err := m.ReleaseSpace(child); err != nil {
		t.Errorf("ReleaseSpace: %v", err)
	}
}

func TestCloneSharesKernelMappings(t *testing.T) {
	m := newTestMM(t)
	if !m.HandleUserFault(memarch.UserStart) {
		t.Fatal("fault not handled")
	}
	kernel := m.Mappings()

	child := m.CloneActiveSpace()
	parent := m.SwitchSpace(child)
	defer func() {
		m.SwitchSpace(parent)
		m.ReleaseSpace(child)
	}()

	// Same virtual layout; the user page is backed by different
	// physical memory while the global kernel runs are identical.
	clone := m.Mappings()
	if diff := cmp.Diff(kernel, clone); diff == "" {
		t.Error("clone shares the user page's backing memory")
	}
	var kg, cg []Mapping
	for _, mp := range kernel {
		if mp.Access.Global {
			kg = append(kg, mp)
		}
	}
	for _, mp := range clone {
		if mp.Access.Global {
			cg = append(cg, mp)
		}
	}
	if diff := cmp.Diff(kg, cg); diff != "" {
		t.Errorf("global mappings differ between spaces (-parent +clone):\n%s", diff)
	}
}

func TestResetActiveSpace(t *testing.T) {
	m := newTestMM(t)
	baseline := m.FreePageCount()
	kernel := m.Mappings()

	for i := uint64(0); i < 4; i++ {
		if !m.HandleUserFault(memarch.UserStart + memarch.VirtAddr(i*memarch.PageSize)) {
			t.Fatal("fault not handled")
		}
	}
	m.ResetActiveSpace()

	// Every user page and every emptied page table came back.
	if got := m.FreePageCount(); got != baseline {
		t.Errorf("free count after reset = %d, want %d", got, baseline)
	}
	// The kernel's global mappings are untouched.
	if diff := cmp.Diff(kernel, m.Mappings()); diff != "" {
		t.Errorf("kernel mappings changed by reset (-want +got):\n%s", diff)
	}
	if err := m.ValidatePointer(memarch.UserStart, 1, memarch.UserRead); err == nil {
		t.Error("user page survived reset")
	}
}

func TestDiscardActiveSpace(t *testing.T) {
	m := newTestMM(t)
	child := m.CloneActiveSpace()
	m.SwitchSpace(child)
	if !m.HandleUserFault(memarch.UserStart) {
		t.Fatal("fault not handled")
	}

	if prev := m.DiscardActiveSpace(); prev != child {
		t.Errorf("DiscardActiveSpace returned %v, want %v", prev, child)
	}
	if got := m.ActiveSpace(); got != m.KernelTag() {
		t.Errorf("active space %v after discard, want kernel tag", got)
	}
	// The discarded root is empty but still a valid target.
	m.SwitchSpace(child)
	if err := m.ValidatePointer(memarch.UserStart, 1, memarch.UserRead); err == nil {
		t.Error("user mapping survived discard")
	}
	m.SwitchSpace(m.KernelTag())
	if err := m.ReleaseSpace(child); err != nil {
		t.Errorf("ReleaseSpace: %v", err)
	}
}

func TestReleaseSpace(t *testing.T) {
	m := newTestMM(t)
	baseline := m.FreePageCount()

	child := m.CloneActiveSpace()
	m.SwitchSpace(child)
	if !m.HandleUserFault(memarch.UserStart) {
		t.Fatal("fault not handled")
	}
	m.SwitchSpace(m.KernelTag())

	// Guards first: neither the kernel space nor the active space may
	// be released.
	if err := m.ReleaseSpace(m.KernelTag()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ReleaseSpace(kernel) = %v, want ErrInvalidArgument", err)
	}
	m.SwitchSpace(child)
	if err := m.ReleaseSpace(child); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ReleaseSpace(active) = %v, want ErrInvalidArgument", err)
	}
	m.SwitchSpace(m.KernelTag())

	// Releasing the inactive clone returns its root, its user branch
	// tables and the demand mapped page.
	if err := m.ReleaseSpace(child); err != nil {
		t.Fatalf("ReleaseSpace: %v", err)
	}
	if got := m.FreePageCount(); got != baseline {
		t.Errorf("free count after release = %d, want %d", got, baseline)
	}
}
