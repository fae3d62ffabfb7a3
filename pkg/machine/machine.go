// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package machine models the single hart's translation control state:
// the satp register that selects the active address space, the
// sstatus.SUM bit, and the sfence.vma translation cache fence.
//
// The tag encoding is the bit-exact satp image the hardware walker
// consumes: paging mode in bits 60..63, ASID in bits 44..59, and the
// physical page number of the root table in bits 0..43.
package machine

import (
	"fmt"

	"rvkern.dev/rvkern/pkg/memarch"
)

// Tag identifies an address space: an satp register image.
type Tag uint64

const (
	// ModeSv39 is the satp mode value for Sv39 paging.
	ModeSv39 = 8

	satpModeShift = 60
	satpASIDShift = 44
	satpASIDMask  = (1 << 16) - 1
	satpPPNMask   = (1 << 44) - 1
)

// MakeTag builds the tag for the root table at rootPhys under the given
// address space identifier.
func MakeTag(asid uint16, rootPhys memarch.PhysAddr) Tag {
	return Tag(ModeSv39)<<satpModeShift |
		Tag(asid)<<satpASIDShift |
		Tag(rootPhys.PageNum())
}

// Mode returns the paging mode field.
func (t Tag) Mode() uint {
	return uint(t >> satpModeShift)
}

// ASID returns the address space identifier field.
func (t Tag) ASID() uint16 {
	return uint16(t >> satpASIDShift & satpASIDMask)
}

// RootPhysical returns the physical address of the root table.
func (t Tag) RootPhysical() memarch.PhysAddr {
	return memarch.PageNum(t & satpPPNMask).Addr()
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	return fmt.Sprintf("mtag{mode=%d asid=%d root=%#x}", t.Mode(), t.ASID(), uint64(t.RootPhysical()))
}

// CSR is the hart's translation related control state. The kernel is
// single hart and mutates translation state with interrupts disabled, so
// CSR needs no internal locking.
type CSR struct {
	satp Tag
	sum  bool

	// fences counts sfence.vma executions, for tests and diagnostics.
	fences uint64
}

// ReadSATP returns the active tag.
func (c *CSR) ReadSATP() Tag {
	return c.satp
}

// WriteSATP installs a new active tag.
func (c *CSR) WriteSATP(t Tag) {
	c.satp = t
}

// SwapSATP installs a new active tag and returns the previous one.
func (c *CSR) SwapSATP(t Tag) Tag {
	prev := c.satp
	c.satp = t
	return prev
}

// SetSUM controls supervisor access to user accessible pages.
func (c *CSR) SetSUM(enable bool) {
	c.sum = enable
}

// SUM returns whether supervisor access to user pages is enabled.
func (c *CSR) SUM() bool {
	return c.sum
}

// SFenceVMA invalidates cached translations for the page containing va
// in the active address space.
func (c *CSR) SFenceVMA(va memarch.VirtAddr) {
	c.fences++
}

// SFenceAll invalidates all cached translations.
func (c *CSR) SFenceAll() {
	c.fences++
}

// FenceCount returns the number of fences executed so far.
func (c *CSR) FenceCount() uint64 {
	return c.fences
}
