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

// testConfig keeps the simulated machine small: 4 MiB of RAM with a
// ten page kernel image and boot heap.
func testConfig() Config {
	return Config{
		RamSize:     2 * memarch.MegaSize,
		TextPages:   4,
		RodataPages: 2,
		DataPages:   2,
		HeapPages:   2,
	}
}

func newTestMM(t *testing.T) *MemoryManager {
	t.Helper()
	m, err := Init(testConfig())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInitRejectsBadRamSize(t *testing.T) {
	cfg := testConfig()
	cfg.RamSize = memarch.MegaSize + memarch.PageSize
	if _, err := Init(cfg); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Init with unaligned RAM size = %v, want ErrInvalidArgument", err)
	}
}

func TestInitKernelLayout(t *testing.T) {
	m := newTestMM(t)

	g := func(at memarch.AccessType) memarch.AccessType {
		at.Global = true
		return at
	}

	// The image sections keep their own permissions; everything after
	// rodata is a single run because the page and megapage leaves are
	// physically contiguous with identical access.
	want := []Mapping{
		{Virtual: 0, Size: 2 * memarch.GigaSize, Physical: 0, Access: g(memarch.ReadWrite)},
		{Virtual: 0x8000_0000, Size: 4 * memarch.PageSize, Physical: 0x8000_0000, Access: g(memarch.ReadExecute)},
		{Virtual: 0x8000_4000, Size: 2 * memarch.PageSize, Physical: 0x8000_4000, Access: g(memarch.Read)},
		{Virtual: 0x8000_6000, Size: 0x20_0000 - 0x6000 + memarch.MegaSize, Physical: 0x8000_6000, Access: g(memarch.ReadWrite)},
	}
	if diff := cmp.Diff(want, m.Mappings()); diff != "" {
		t.Errorf("kernel mappings mismatch (-want +got):\n%s", diff)
	}

	if got := m.ActiveSpace(); got != m.KernelTag() {
		t.Errorf("active space %v, want kernel tag %v", got, m.KernelTag())
	}
}

func TestInitFreePool(t *testing.T) {
	m := newTestMM(t)

	// Pool is RAM minus image, boot heap and the three kernel page
	// tables (root, one level 1, one level 0).
	cfg := testConfig()
	poolPages := cfg.RamSize/memarch.PageSize - (cfg.TextPages + cfg.RodataPages + cfg.DataPages + cfg.HeapPages)
	if got := m.FreePageCount(); got != poolPages-3 {
		t.Errorf("FreePageCount() = %d, want %d", got, poolPages-3)
	}
}

func TestMapPage(t *testing.T) {
	m := newTestMM(t)
	va := memarch.UserStart

	pa, err := m.AllocPhysPages(1)
	if err != nil {
		t.Fatalf("AllocPhysPages: %v", err)
	}
	if err := m.MapPage(va, pa, memarch.UserReadWrite); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	if err := m.ValidatePointer(va, memarch.PageSize, memarch.UserReadWrite); err != nil {
		t.Errorf("ValidatePointer after MapPage: %v", err)
	}

	// Remapping without an unmap is refused.
	if err := m.MapPage(va, pa, memarch.UserRead); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("MapPage over existing mapping = %v, want ErrAlreadyMapped", err)
	}
}

func TestMapPageRejectsBadAddresses(t *testing.T) {
	m := newTestMM(t)
	for _, va := range []memarch.VirtAddr{
		memarch.UserStart + 1,    // unaligned
		0x1000,                   // kernel region
		memarch.UserStart << 10,  // not well formed
		memarch.MaxVirtAddr,      // past the canonical half
	} {
		if err := m.MapPage(va, 0x8030_0000, memarch.UserRead); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("MapPage(%#x) = %v, want ErrInvalidArgument", uint64(va), err)
		}
	}
}

func TestAllocAndMapRange(t *testing.T) {
	m := newTestMM(t)
	before := m.FreePageCount()
	va := memarch.UserStart
	size := uint64(3 * memarch.PageSize)

	pa, err := m.AllocAndMapRange(va, size, memarch.UserReadWrite)
	if err != nil {
		t.Fatalf("AllocAndMapRange: %v", err)
	}
	if err := m.ValidatePointer(va, size, memarch.UserReadWrite); err != nil {
		t.Errorf("ValidatePointer over range: %v", err)
	}
	// The backing run is contiguous and zeroed.
	for _, b := range m.arena.Slice(pa, size) {
		if b != 0 {
			t.Fatal("range not zeroed")
		}
	}

	m.UnmapAndFreeRange(va, size)
	if err := m.ValidatePointer(va, 1, memarch.UserRead); err == nil {
		t.Error("unmapped range still validates")
	}
	if got := m.FreePageCount(); got != before {
		t.Errorf("free count after unmap = %d, want %d", got, before)
	}
}

func TestMapRangePartialFailure(t *testing.T) {
	m := newTestMM(t)
	va := memarch.UserStart

	pa, err := m.AllocPhysPages(2)
	if err != nil {
		t.Fatalf("AllocPhysPages: %v", err)
	}
	// Occupy the second page of the target range, then map two pages
	// over it: the first succeeds, the second must be refused.
	if err := m.MapPage(va+memarch.PageSize, pa, memarch.UserRead); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	if err := m.MapRange(va, 2*memarch.PageSize, pa, memarch.UserRead); !errors.Is(err, ErrAlreadyMapped) {
		t.Fatalf("MapRange over occupied page = %v, want ErrAlreadyMapped", err)
	}
}

func TestSetRangeFlags(t *testing.T) {
	m := newTestMM(t)
	va := memarch.UserStart
	size := uint64(2 * memarch.PageSize)

	if _, err := m.AllocAndMapRange(va, size, memarch.UserReadWrite); err != nil {
		t.Fatalf("AllocAndMapRange: %v", err)
	}
	m.SetRangeFlags(va, size, memarch.UserRead)

	if err := m.ValidatePointer(va, size, memarch.UserRead); err != nil {
		t.Errorf("read validation after downgrade: %v", err)
	}
	if err := m.ValidatePointer(va, size, memarch.UserWrite); err == nil {
		t.Error("write validation succeeded on a read only range")
	}
}

func TestSetRangeFlagsPanicsOnHole(t *testing.T) {
	m := newTestMM(t)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on unmapped range")
		}
	}()
	m.SetRangeFlags(memarch.UserStart, memarch.PageSize, memarch.UserRead)
}

func TestUnmapSkipsGlobalAndUnmapped(t *testing.T) {
	m := newTestMM(t)
	before := m.FreePageCount()

	// Unmapping a hole is a no-op.
	m.UnmapAndFreeRange(memarch.UserStart, 4*memarch.PageSize)
	if got := m.FreePageCount(); got != before {
		t.Errorf("free count after no-op unmap = %d, want %d", got, before)
	}

	// Global kernel mappings are never torn down by range unmaps.
	m.UnmapAndFreeRange(memarch.VirtAddr(memarch.RamStart), memarch.MegaSize)
	if err := m.ValidatePointer(memarch.VirtAddr(memarch.RamStart), memarch.PageSize, memarch.ReadExecute); err != nil {
		t.Errorf("kernel text lost after unmap attempt: %v", err)
	}
}

func TestFencesIssued(t *testing.T) {
	m := newTestMM(t)
	before := m.FenceCount()

	pa, err := m.AllocPhysPages(1)
	if err != nil {
		t.Fatalf("AllocPhysPages: %v", err)
	}
	if err := m.MapPage(memarch.UserStart, pa, memarch.UserReadWrite); err != nil {
		t.Fatalf("MapPage: %v", err)
	}
	m.UnmapAndFreeRange(memarch.UserStart, memarch.PageSize)
	if got := m.FenceCount(); got != before+2 {
		t.Errorf("FenceCount() = %d, want %d", got, before+2)
	}
}
