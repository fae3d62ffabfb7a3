// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mm is the kernel's virtual memory manager.
//
// It owns the machine's physical page pool and the lifecycle of address
// spaces: the permanent kernel space built at boot, per process spaces
// produced by cloning, page and range granularity mapping operations,
// lazy allocation on user page faults, and validation of user supplied
// pointers before the kernel dereferences them.
package mm

import (
	"fmt"

	"rvkern.dev/rvkern/pkg/log"
	"rvkern.dev/rvkern/pkg/machine"
	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/pagetables"
	"rvkern.dev/rvkern/pkg/pgalloc"
	"rvkern.dev/rvkern/pkg/ram"
	"rvkern.dev/rvkern/pkg/sync"
)

// Config is the machine and kernel image geometry.
type Config struct {
	// RamSize is the size of RAM in bytes. Must be a multiple of the
	// megapage size. Defaults to memarch.DefaultRamSize.
	RamSize uint64

	// ASID is the address space identifier of the kernel space.
	ASID uint16

	// TextPages, RodataPages and DataPages give the simulated kernel
	// image section sizes, standing in for the boot linker symbols.
	TextPages   uint64
	RodataPages uint64
	DataPages   uint64

	// HeapPages is the number of pages reserved for the boot heap
	// between the kernel image and the free page pool.
	HeapPages uint64
}

func (c *Config) applyDefaults() {
	if c.RamSize == 0 {
		c.RamSize = memarch.DefaultRamSize
	}
	if c.TextPages == 0 {
		c.TextPages = 64
	}
	if c.RodataPages == 0 {
		c.RodataPages = 16
	}
	if c.DataPages == 0 {
		c.DataPages = 32
	}
	if c.HeapPages == 0 {
		c.HeapPages = 8
	}
}

// MemoryManager is the machine wide memory management context, created
// once at kernel initialization.
type MemoryManager struct {
	csr    *machine.CSR
	arena  *ram.Arena
	pages  *pgalloc.Allocator
	tables pagetables.Allocator

	// kernelTag is the permanent kernel address space. Its root and
	// intermediate tables are built once at boot and never destroyed.
	kernelTag machine.Tag

	// heapEnd is the first physical address handed to the page pool.
	heapEnd memarch.PhysAddr

	mu       sync.Mutex
	nextASID uint16
}

// Init brings up physical and virtual memory: it maps RAM, builds the
// kernel's identity mapped page tables, installs them in satp, and hands
// everything past the boot heap to the page allocator.
func Init(cfg Config) (*MemoryManager, error) {
	cfg.applyDefaults()
	if cfg.RamSize%memarch.MegaSize != 0 || cfg.RamSize < 2*memarch.MegaSize {
		return nil, fmt.Errorf("%w: RAM size %#x is not a multiple of %#x", ErrInvalidArgument, cfg.RamSize, uint64(memarch.MegaSize))
	}

	arena, err := ram.New(memarch.RamStart, cfg.RamSize)
	if err != nil {
		return nil, err
	}

	// Simulated kernel image layout, in the order the linker emits it.
	textStart := memarch.RamStart
	textEnd := textStart + memarch.PhysAddr(cfg.TextPages*memarch.PageSize)
	rodataEnd := textEnd + memarch.PhysAddr(cfg.RodataPages*memarch.PageSize)
	imageEnd := rodataEnd + memarch.PhysAddr(cfg.DataPages*memarch.PageSize)
	heapEnd := imageEnd.RoundUp() + memarch.PhysAddr(cfg.HeapPages*memarch.PageSize)

	// The kernel image and boot heap must fit inside the single
	// megapage that gets the page granular identity mapping.
	if uint64(heapEnd-memarch.RamStart) > memarch.MegaSize {
		panic(fmt.Sprintf("mm: kernel image [%#x, %#x) exceeds one megapage", uint64(memarch.RamStart), uint64(heapEnd)))
	}

	log.Infof("           RAM: [%#x, %#x): %d MB", uint64(arena.Base()), uint64(arena.End()), cfg.RamSize>>20)
	log.Infof("  kernel image: [%#x, %#x)", uint64(textStart), uint64(imageEnd))
	log.Infof("free page pool: [%#x, %#x): %d pages", uint64(heapEnd), uint64(arena.End()), uint64(arena.End()-heapEnd)/memarch.PageSize)

	pages := pgalloc.New(arena, heapEnd, arena.End())
	tables := pagetables.NewRAMAllocator(arena, pages)

	m := &MemoryManager{
		csr:      &machine.CSR{},
		arena:    arena,
		pages:    pages,
		tables:   tables,
		heapEnd:  heapEnd,
		nextASID: cfg.ASID + 1,
	}

	// Build the kernel's identity mapping:
	//
	//          0 to RamStart:          RW gigapages (MMIO region)
	//   RamStart to imageEnd:          RX/R/RW pages based on image section
	//   imageEnd to RamStart+MegaSize: RW pages (heap and page pool)
	//   RamStart+MegaSize to RAM end:  RW megapages (page pool)
	//
	// Everything is global: these mappings are shared by every address
	// space and survive resets.
	pt := pagetables.New(tables)
	root := pt.Root()

	global := func(at memarch.AccessType) memarch.AccessType {
		at.Global = true
		return at
	}

	for pa := memarch.PhysAddr(0); pa < memarch.RamStart; pa += memarch.GigaSize {
		root[pagetables.Index(memarch.VirtAddr(pa), 2)] = pagetables.MakeLeaf(pa, global(memarch.ReadWrite))
	}

	// The RAM gigarange gets a level 1 table; its first megarange gets
	// a level 0 table with per section permissions.
	pt1 := tables.NewPTEs()
	root[pagetables.Index(memarch.VirtAddr(memarch.RamStart), 2)] = pagetables.MakeTable(tables.PhysicalFor(pt1), true)

	pt0 := tables.NewPTEs()
	pt1[pagetables.Index(memarch.VirtAddr(memarch.RamStart), 1)] = pagetables.MakeTable(tables.PhysicalFor(pt0), true)

	for pa := textStart; pa < textEnd; pa += memarch.PageSize {
		pt0[pagetables.Index(memarch.VirtAddr(pa), 0)] = pagetables.MakeLeaf(pa, global(memarch.ReadExecute))
	}
	for pa := textEnd; pa < rodataEnd; pa += memarch.PageSize {
		pt0[pagetables.Index(memarch.VirtAddr(pa), 0)] = pagetables.MakeLeaf(pa, global(memarch.Read))
	}
	for pa := rodataEnd; pa < memarch.RamStart+memarch.MegaSize; pa += memarch.PageSize {
		pt0[pagetables.Index(memarch.VirtAddr(pa), 0)] = pagetables.MakeLeaf(pa, global(memarch.ReadWrite))
	}

	// The rest of RAM is mapped as megapages.
	for pa := memarch.RamStart + memarch.MegaSize; pa < arena.End(); pa += memarch.MegaSize {
		pt1[pagetables.Index(memarch.VirtAddr(pa), 1)] = pagetables.MakeLeaf(pa, global(memarch.ReadWrite))
	}

	// Enable paging.
	m.kernelTag = machine.MakeTag(cfg.ASID, pt.RootPhysical())
	m.csr.WriteSATP(m.kernelTag)
	m.csr.SFenceAll()

	// Allow supervisor access to user memory. Validation, string
	// scanning and clone all read user pages from kernel mode.
	m.csr.SetSUM(true)

	log.Infof("paging enabled: %v", m.kernelTag)
	return m, nil
}

// Close releases the machine's memory.
func (m *MemoryManager) Close() error {
	return m.arena.Close()
}

// KernelTag returns the permanent kernel address space tag.
func (m *MemoryManager) KernelTag() machine.Tag {
	return m.kernelTag
}

// FreePageCount returns the number of free physical pages.
func (m *MemoryManager) FreePageCount() uint64 {
	return m.pages.FreePageCount()
}

// FenceCount returns the number of translation cache fences executed.
func (m *MemoryManager) FenceCount() uint64 {
	return m.csr.FenceCount()
}

// activeTables returns the page tables of the active address space.
func (m *MemoryManager) activeTables() *pagetables.PageTables {
	return pagetables.Attach(m.tables, m.csr.ReadSATP().RootPhysical())
}

// allocASID returns a fresh address space identifier.
func (m *MemoryManager) allocASID() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	asid := m.nextASID
	m.nextASID++
	return asid
}
