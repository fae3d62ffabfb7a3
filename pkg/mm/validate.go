// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mm

import (
	"fmt"

	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/pagetables"
)

// lookupLeaf walks to the leaf covering va in the active space and
// checks that its flags cover the required access. On success it
// returns the physical address translating va and the number of bytes
// remaining in the leaf's span after va.
func (m *MemoryManager) lookupLeaf(va memarch.VirtAddr, required memarch.AccessType) (memarch.PhysAddr, uint64, error) {
	pte, level := m.activeTables().Lookup(va)
	if !pte.Valid() {
		return 0, 0, fmt.Errorf("%w: %#x is not mapped", ErrBadAddress, uint64(va))
	}
	if !pte.Leaf() {
		// A valid non-leaf at the bottom level is a corrupt tree.
		return 0, 0, fmt.Errorf("%w: %#x has no leaf", ErrBadAddress, uint64(va))
	}
	if !pte.Access().SupersetOf(required) {
		return 0, 0, fmt.Errorf("%w: %#x is %v, need %v", ErrBadAddress, uint64(va), pte.Access(), required)
	}
	granule := pagetables.LevelSize(level)
	offset := uint64(va) & (granule - 1)
	return pte.Address() + memarch.PhysAddr(offset), granule - offset, nil
}

// ValidatePointer checks that the kernel may access [va, va+length)
// with the required rights on behalf of a user. A zero length is
// trivially valid. The range must not wrap or leave the canonical
// lower half, and every page it touches must be mapped with flags
// covering the requirement. Superpage leaves are accepted wholesale
// without descending further.
func (m *MemoryManager) ValidatePointer(va memarch.VirtAddr, length uint64, required memarch.AccessType) error {
	if length == 0 {
		return nil
	}
	end, ok := va.AddLength(length)
	if !ok {
		return fmt.Errorf("%w: range [%#x, +%#x) is malformed", ErrBadAddress, uint64(va), length)
	}
	for cur := va; cur < end; {
		_, span, err := m.lookupLeaf(cur, required)
		if err != nil {
			return err
		}
		if span >= uint64(end-cur) {
			break
		}
		cur += memarch.VirtAddr(span)
	}
	return nil
}

// ValidateString checks that the NUL terminated string at va is
// entirely readable with the required rights. Validation proceeds one
// page at a time as the scan advances: a page is validated in full
// before any of its bytes are read, and the next page is validated only
// once the scan crosses into it. No byte past the terminator is
// touched.
func (m *MemoryManager) ValidateString(va memarch.VirtAddr, required memarch.AccessType) error {
	for {
		if !va.WellFormed() || va >= memarch.MaxVirtAddr {
			return fmt.Errorf("%w: unterminated string at %#x", ErrBadAddress, uint64(va))
		}
		pa, _, err := m.lookupLeaf(va, required)
		if err != nil {
			return err
		}
		// Scan to the end of the current page only; the next page may
		// be unmapped and must not be read before it is validated.
		remaining := memarch.PageSize - va.PageOffset()
		if !m.arena.Contains(pa, remaining) {
			// Mapped, but not to RAM. There is no string to read in a
			// device window.
			return fmt.Errorf("%w: %#x does not translate to RAM", ErrBadAddress, uint64(va))
		}
		b := m.arena.Slice(pa, remaining)
		for _, c := range b {
			if c == 0 {
				return nil
			}
		}
		va += memarch.VirtAddr(remaining)
	}
}
