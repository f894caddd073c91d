// Package allocator hands out page-aligned blocks of a flat address range.
//
// The memory manager owns two allocators. One carves page-table nodes out of
// the page-table range, and the other hands out the virtual window pages
// used to expose device-physical memory.
package allocator

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrOutOfMemory is returned when no free block is large enough.
	ErrOutOfMemory = errors.New("allocator: out of memory")

	// ErrOutOfRange is returned when a range is not inside the allocator.
	ErrOutOfRange = errors.New("allocator: address out of range")

	// ErrAlreadyTaken is returned when reserving a range that is not free.
	ErrAlreadyTaken = errors.New("allocator: range already taken")

	// ErrNotAllocated is returned when releasing an address that was not
	// returned by Allocate.
	ErrNotAllocated = errors.New("allocator: address not allocated")
)

type span struct {
	addr uint64
	size uint64
}

func (s span) end() uint64 {
	return s.addr + s.size
}

// Allocator manages the address range [base, base+size).
type Allocator struct {
	base      uint64
	size      uint64
	pageAlign uint64

	free      []span
	allocated map[uint64]uint64
	reserved  map[uint64]uint64

	allocatedBytes uint64
	reservedBytes  uint64
}

// New creates an allocator over [base, base+size). Every block it hands out
// starts on a pageAlign boundary and is a multiple of pageAlign long.
func New(base, size, pageAlign uint64) (*Allocator, error) {
	if pageAlign == 0 || pageAlign&(pageAlign-1) != 0 {
		return nil, fmt.Errorf("allocator: alignment %d is not a power of 2",
			pageAlign)
	}

	if base%pageAlign != 0 {
		return nil, fmt.Errorf("allocator: base 0x%x is not aligned to 0x%x",
			base, pageAlign)
	}

	usable := size &^ (pageAlign - 1)
	if usable == 0 {
		return nil, fmt.Errorf("allocator: size 0x%x is smaller than a page",
			size)
	}

	a := &Allocator{
		base:      base,
		size:      usable,
		pageAlign: pageAlign,
		free:      []span{{addr: base, size: usable}},
		allocated: make(map[uint64]uint64),
		reserved:  make(map[uint64]uint64),
	}

	return a, nil
}

// Base returns the first address managed by the allocator.
func (a *Allocator) Base() uint64 {
	return a.base
}

// Capacity returns the number of bytes managed by the allocator.
func (a *Allocator) Capacity() uint64 {
	return a.size
}

// Allocated returns the number of bytes handed out by Allocate.
func (a *Allocator) Allocated() uint64 {
	return a.allocatedBytes
}

// Reserved returns the number of bytes taken by Reserve.
func (a *Allocator) Reserved() uint64 {
	return a.reservedBytes
}

// Free returns the number of bytes still available.
func (a *Allocator) Free() uint64 {
	return a.size - a.allocatedBytes - a.reservedBytes
}

// Contains returns true if the address is inside the managed range.
func (a *Allocator) Contains(addr uint64) bool {
	return addr >= a.base && addr < a.base+a.size
}

func (a *Allocator) alignUp(v uint64) uint64 {
	return (v + a.pageAlign - 1) &^ (a.pageAlign - 1)
}

func (a *Allocator) alignDown(v uint64) uint64 {
	return v &^ (a.pageAlign - 1)
}

// Allocate returns the address of a free block of at least size bytes. The
// lowest block that fits is used.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}

	size = a.alignUp(size)

	for i, s := range a.free {
		if s.size < size {
			continue
		}

		addr := s.addr
		a.takeFromFront(i, size)
		a.allocated[addr] = size
		a.allocatedBytes += size

		return addr, nil
	}

	return 0, fmt.Errorf("%w: requested 0x%x bytes, 0x%x free",
		ErrOutOfMemory, size, a.Free())
}

func (a *Allocator) takeFromFront(i int, size uint64) {
	if a.free[i].size == size {
		a.free = append(a.free[:i], a.free[i+1:]...)
		return
	}

	a.free[i].addr += size
	a.free[i].size -= size
}

// Reserve marks [addr, addr+size) as taken without handing it out. The range
// is widened to page boundaries and must be entirely free.
func (a *Allocator) Reserve(addr, size uint64) error {
	start := a.alignDown(addr)
	end := a.alignUp(addr + size)

	if size == 0 || start < a.base || end > a.base+a.size || end <= start {
		return fmt.Errorf("%w: [0x%x, 0x%x) not in [0x%x, 0x%x)",
			ErrOutOfRange, addr, addr+size, a.base, a.base+a.size)
	}

	i := a.findFreeSpan(start)
	if i < 0 || a.free[i].end() < end {
		return fmt.Errorf("%w: [0x%x, 0x%x)", ErrAlreadyTaken, start, end)
	}

	a.splitOut(i, start, end)
	a.reserved[start] = end - start
	a.reservedBytes += end - start

	return nil
}

func (a *Allocator) findFreeSpan(addr uint64) int {
	for i, s := range a.free {
		if addr >= s.addr && addr < s.end() {
			return i
		}
	}

	return -1
}

func (a *Allocator) splitOut(i int, start, end uint64) {
	s := a.free[i]

	var remaining []span
	if start > s.addr {
		remaining = append(remaining, span{addr: s.addr, size: start - s.addr})
	}

	if end < s.end() {
		remaining = append(remaining, span{addr: end, size: s.end() - end})
	}

	tail := append(remaining, a.free[i+1:]...)
	a.free = append(a.free[:i], tail...)
}

// Release returns a block obtained from Allocate.
func (a *Allocator) Release(addr uint64) error {
	size, found := a.allocated[addr]
	if !found {
		return fmt.Errorf("%w: 0x%x", ErrNotAllocated, addr)
	}

	delete(a.allocated, addr)
	a.allocatedBytes -= size
	a.insertFree(span{addr: addr, size: size})

	return nil
}

func (a *Allocator) insertFree(s span) {
	i := sort.Search(len(a.free), func(i int) bool {
		return a.free[i].addr > s.addr
	})

	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = s

	a.mergeAround(i)
}

func (a *Allocator) mergeAround(i int) {
	if i+1 < len(a.free) && a.free[i].end() == a.free[i+1].addr {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}

	if i > 0 && a.free[i-1].end() == a.free[i].addr {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// IsAllocated returns true if addr is the start of a block handed out by
// Allocate.
func (a *Allocator) IsAllocated(addr uint64) bool {
	_, found := a.allocated[addr]
	return found
}
