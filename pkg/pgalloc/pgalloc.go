// Copyright 2025 The rvkern Authors.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pgalloc allocates physical page frames.
//
// Free pages are kept on an intrusive singly linked list of chunks,
// where each chunk is a run of consecutive free pages. A chunk's header
// is written into the first bytes of the run it describes; the header is
// invalid to dereference once the run has been handed out. The list is
// kept sorted by physical address so that freed runs can be merged with
// their neighbors.
//
// The allocator is shared mutable state across every kernel thread, so
// all list mutations and read-for-decision scans hold the allocator
// mutex.
package pgalloc

import (
	"errors"
	"fmt"

	"rvkern.dev/rvkern/pkg/log"
	"rvkern.dev/rvkern/pkg/memarch"
	"rvkern.dev/rvkern/pkg/ram"
	"rvkern.dev/rvkern/pkg/sync"
)

// ErrZeroCount is returned for a zero page count.
var ErrZeroCount = errors.New("pgalloc: zero page count")

// chunkHeader describes a run of free pages. It lives in the first
// sixteen bytes of the run.
type chunkHeader struct {
	next  memarch.PhysAddr // 0 terminates the list
	pages uint64
}

// Allocator hands out runs of physical page frames from RAM.
type Allocator struct {
	mu sync.Mutex

	arena *ram.Arena

	// head is the address of the first chunk, or 0 if none. The field
	// itself is the permanent list head; it plays the role of a
	// zero-size sentinel chunk.
	head memarch.PhysAddr
}

// New creates an allocator owning the free pages in [start, end), which
// must be page aligned and inside the arena.
func New(arena *ram.Arena, start, end memarch.PhysAddr) *Allocator {
	if start.RoundDown() != start || end.RoundDown() != end || end < start {
		panic(fmt.Sprintf("pgalloc: bad free region [%#x, %#x)", uint64(start), uint64(end)))
	}
	a := &Allocator{arena: arena}
	if pages := uint64(end-start) / memarch.PageSize; pages > 0 {
		a.head = start
		*a.chunk(start) = chunkHeader{next: 0, pages: pages}
	}
	log.Debugf("pgalloc: free pool [%#x, %#x): %d pages", uint64(start), uint64(end), uint64(end-start)/memarch.PageSize)
	return a
}

// chunk returns the header stored at the start of the run at pa.
func (a *Allocator) chunk(pa memarch.PhysAddr) *chunkHeader {
	return (*chunkHeader)(a.arena.Pointer(pa))
}

// AllocPages allocates a run of n consecutive page frames and returns
// the physical address of the first. The smallest chunk that satisfies
// the request is chosen to limit fragmentation. Exhaustion is fatal:
// there is no paging to disk to recover from.
func (a *Allocator) AllocPages(n uint64) (memarch.PhysAddr, error) {
	if n == 0 {
		return 0, ErrZeroCount
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Best fit: the smallest chunk with at least n pages. prev is the
	// address of the chunk preceding the best chunk, or 0 if the best
	// chunk is first.
	var best, prev memarch.PhysAddr
	bestPages := ^uint64(0)
	for before, pa := memarch.PhysAddr(0), a.head; pa != 0; before, pa = pa, a.chunk(pa).next {
		if c := a.chunk(pa); c.pages >= n && c.pages < bestPages {
			best, prev, bestPages = pa, before, c.pages
		}
	}
	if best == 0 {
		panic(fmt.Sprintf("pgalloc: out of physical pages: need %d, %d free", n, a.freePageCountLocked()))
	}

	c := *a.chunk(best)
	next := c.next
	if c.pages > n {
		// Shrink in place: the remainder of the run stays linked, with
		// its header rewritten past the allocated pages.
		rest := best + memarch.PhysAddr(n*memarch.PageSize)
		*a.chunk(rest) = chunkHeader{next: c.next, pages: c.pages - n}
		next = rest
	}
	if prev == 0 {
		a.head = next
	} else {
		a.chunk(prev).next = next
	}
	return best, nil
}

// AllocPage allocates a single page frame.
func (a *Allocator) AllocPage() memarch.PhysAddr {
	pa, err := a.AllocPages(1)
	if err != nil {
		panic(err)
	}
	return pa
}

// FreePages returns the run [pa, pa+n pages) to the allocator. The run
// is inserted in address order and merged with adjacent free runs.
func (a *Allocator) FreePages(pa memarch.PhysAddr, n uint64) {
	if n == 0 {
		return
	}
	if pa.RoundDown() != pa || !a.arena.Contains(pa, n*memarch.PageSize) {
		panic(fmt.Sprintf("pgalloc: freeing bad run [%#x, +%d pages)", uint64(pa), n))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Find the insertion point: prev is the last chunk below pa.
	var prev memarch.PhysAddr
	next := a.head
	for next != 0 && next < pa {
		prev, next = next, a.chunk(next).next
	}

	*a.chunk(pa) = chunkHeader{next: next, pages: n}
	if prev == 0 {
		a.head = pa
	} else {
		a.chunk(prev).next = pa
	}

	// Merge with the following run.
	if next != 0 && pa+memarch.PhysAddr(n*memarch.PageSize) == next {
		nc := a.chunk(next)
		c := a.chunk(pa)
		c.pages += nc.pages
		c.next = nc.next
	}

	// Merge with the preceding run.
	if prev != 0 {
		pc := a.chunk(prev)
		if prev+memarch.PhysAddr(pc.pages*memarch.PageSize) == pa {
			c := a.chunk(pa)
			pc.pages += c.pages
			pc.next = c.next
		}
	}
}

// FreePage returns a single page frame to the allocator.
func (a *Allocator) FreePage(pa memarch.PhysAddr) {
	a.FreePages(pa, 1)
}

// FreePageCount returns the number of free page frames. It is intended
// for bookkeeping and tests, not for allocation decisions.
func (a *Allocator) FreePageCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freePageCountLocked()
}

func (a *Allocator) freePageCountLocked() uint64 {
	var total uint64
	for pa := a.head; pa != 0; pa = a.chunk(pa).next {
		total += a.chunk(pa).pages
	}
	return total
}
