// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package memarch defines the memory architecture of the machine: the
// Sv39 page geometry, strongly typed physical and virtual addresses, and
// the access rights carried by page table entries.
//
// Sv39 translates 39-bit virtual addresses through a three-level radix
// tree. Levels are numbered 2 (root) down to 0; each level consumes nine
// bits of the virtual page number. Level 1 and level 2 leaves map 2 MiB
// megapages and 1 GiB gigapages respectively.
package memarch

// Page geometry.
const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of a page frame.
	PageSize = 1 << PageShift

	// LevelBits is the number of virtual address bits consumed per
	// page table level.
	LevelBits = 9

	// NumLevels is the number of page table levels.
	NumLevels = 3

	// RootLevel is the level of the root page table.
	RootLevel = NumLevels - 1

	// MegaSize is the size of a level 1 superpage.
	MegaSize = PageSize << LevelBits

	// GigaSize is the size of a level 2 superpage.
	GigaSize = MegaSize << LevelBits
)

// Physical memory layout. The MMIO region occupies physical addresses
// below RAM; the kernel image is linked at the start of RAM.
const (
	// RamStart is the first physical address of RAM.
	RamStart PhysAddr = 0x8000_0000

	// DefaultRamSize is the RAM size used when no machine
	// configuration overrides it.
	DefaultRamSize uint64 = 64 << 20
)

// Virtual memory layout. User mappings live in their own gigarange so
// that they never collide with the kernel's global identity mapping of
// MMIO and RAM.
const (
	// UserStart is the lowest virtual address a user mapping may
	// occupy.
	UserStart VirtAddr = 0xC000_0000

	// UserEnd is the first virtual address above the user region.
	UserEnd VirtAddr = 0xD000_0000

	// MaxVirtAddr is the first address above the canonical lower half.
	// Sv39 sign-extends bit 38, so well-formed low addresses are below
	// this bound.
	MaxVirtAddr VirtAddr = 1 << 38
)

// PhysAddr is a physical memory address.
type PhysAddr uint64

// VirtAddr is a virtual memory address.
type VirtAddr uint64

// PageNum is a physical page number, a PhysAddr shifted down by
// PageShift. This is the unit stored in page table entries and in the
// translation control register.
type PageNum uint64

// PageNum returns the physical page number containing p.
func (p PhysAddr) PageNum() PageNum {
	return PageNum(p >> PageShift)
}

// Addr returns the physical address of the start of page n.
func (n PageNum) Addr() PhysAddr {
	return PhysAddr(n) << PageShift
}

// RoundDown returns p rounded down to a page boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ (PageSize - 1)
}

// RoundUp returns p rounded up to a page boundary.
func (p PhysAddr) RoundUp() PhysAddr {
	return (p + PageSize - 1).RoundDown()
}

// RoundDown returns v rounded down to a page boundary.
func (v VirtAddr) RoundDown() VirtAddr {
	return v &^ (PageSize - 1)
}

// RoundUp returns v rounded up to a page boundary.
func (v VirtAddr) RoundUp() VirtAddr {
	return (v + PageSize - 1).RoundDown()
}

// PageOffset returns the offset of v within its page.
func (v VirtAddr) PageOffset() uint64 {
	return uint64(v) & (PageSize - 1)
}

// PageAligned returns true if v is page aligned.
func (v VirtAddr) PageAligned() bool {
	return v.PageOffset() == 0
}

// WellFormed returns true if the unused high bits of v are the sign
// extension of bit 38. The hardware faults on any access through an
// address that is not well-formed.
func (v VirtAddr) WellFormed() bool {
	bits := int64(v) >> 38
	return bits == 0 || bits == -1
}

// AddLength returns the exclusive end of the range [v, v+length) and
// whether the range stays within the canonical lower half without
// wrapping.
func (v VirtAddr) AddLength(length uint64) (end VirtAddr, ok bool) {
	end = v + VirtAddr(length)
	ok = end >= v && end <= MaxVirtAddr && v.WellFormed()
	return
}

// PageCount returns the number of pages needed to hold size bytes.
func PageCount(size uint64) uint64 {
	return (size + PageSize - 1) / PageSize
}
