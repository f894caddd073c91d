// Package pagetable walks and builds multi-level page tables stored in
// simulated memory.
package pagetable

// RAM is the simulated memory that holds the page-table nodes.
type RAM interface {
	Read(address uint64, length uint64) ([]byte, error)
	Write(address uint64, data []byte) error
	SetAccessControlEnforced(enforced bool)
}

// NodeAllocator provides the memory of new page-table nodes.
type NodeAllocator interface {
	Allocate(size uint64) (uint64, error)
}
