// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ram provides the machine's physical memory as a host-mapped
// arena. Physical addresses in [Base, Base+Size) resolve to host memory;
// everything the kernel stores in "physical" pages, including the page
// tables themselves, lives here. MMIO addresses below RAM have no
// backing and must never be dereferenced through the arena.
package ram

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"rvkern.dev/rvkern/pkg/memarch"
)

// Arena is a contiguous region of simulated physical memory.
type Arena struct {
	base memarch.PhysAddr
	mem  []byte
}

// New maps an arena of the given size representing physical addresses
// [base, base+size). base and size must be page aligned.
func New(base memarch.PhysAddr, size uint64) (*Arena, error) {
	if base.RoundDown() != base || size == 0 || size%memarch.PageSize != 0 {
		return nil, fmt.Errorf("ram: region [%#x, +%#x) is not page aligned", uint64(base), size)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("ram: mmap of %d bytes failed: %w", size, err)
	}
	return &Arena{base: base, mem: mem}, nil
}

// Close unmaps the arena. All pointers into the arena become invalid.
func (a *Arena) Close() error {
	mem := a.mem
	a.mem = nil
	return unix.Munmap(mem)
}

// Base returns the first physical address of the arena.
func (a *Arena) Base() memarch.PhysAddr {
	return a.base
}

// End returns the first physical address above the arena.
func (a *Arena) End() memarch.PhysAddr {
	return a.base + memarch.PhysAddr(len(a.mem))
}

// Size returns the arena size in bytes.
func (a *Arena) Size() uint64 {
	return uint64(len(a.mem))
}

// Contains returns true if [pa, pa+length) lies entirely in the arena.
func (a *Arena) Contains(pa memarch.PhysAddr, length uint64) bool {
	return pa >= a.base && pa <= a.End() && memarch.PhysAddr(length) <= a.End()-pa
}

// Slice returns the host memory backing [pa, pa+length). It panics if
// the range is outside the arena; callers translate physical addresses
// that the kernel itself produced, so a miss is a kernel bug.
func (a *Arena) Slice(pa memarch.PhysAddr, length uint64) []byte {
	if !a.Contains(pa, length) {
		panic(fmt.Sprintf("ram: physical range [%#x, +%#x) outside RAM [%#x, %#x)", uint64(pa), length, uint64(a.base), uint64(a.End())))
	}
	off := pa - a.base
	return a.mem[off : off+memarch.PhysAddr(length)]
}

// Pointer returns a host pointer to physical address pa.
func (a *Arena) Pointer(pa memarch.PhysAddr) unsafe.Pointer {
	return unsafe.Pointer(&a.Slice(pa, 1)[0])
}

// PhysFor returns the physical address corresponding to a host pointer
// previously obtained from Pointer or Slice.
func (a *Arena) PhysFor(ptr unsafe.Pointer) memarch.PhysAddr {
	off := uintptr(ptr) - uintptr(unsafe.Pointer(&a.mem[0]))
	if off >= uintptr(len(a.mem)) {
		panic("ram: pointer does not refer to the arena")
	}
	return a.base + memarch.PhysAddr(off)
}

// ZeroPages clears n pages starting at pa.
func (a *Arena) ZeroPages(pa memarch.PhysAddr, n uint64) {
	b := a.Slice(pa, n*memarch.PageSize)
	clear(b)
}

// CopyPages copies n pages from src to dst.
func (a *Arena) CopyPages(dst, src memarch.PhysAddr, n uint64) {
	copy(a.Slice(dst, n*memarch.PageSize), a.Slice(src, n*memarch.PageSize))
}
