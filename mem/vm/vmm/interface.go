package vmm

import (
	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/memory"
)

// Processor is the part of the processor model that holds the translation
// root and the translation mode.
type Processor interface {
	// BasePPN returns the physical page number of the root page table.
	BasePPN() uint64

	// SetTranslationRoot installs the root page table.
	SetTranslationRoot(ppn uint64) error

	// Mode returns the current translation mode.
	Mode() vm.Mode

	// IsTranslationRootUnset tells if no root page table has been installed.
	IsTranslationRootUnset() bool
}

// ReserveFunc asks the host simulator to back [base, base+size) with memory
// accessible with perm.
type ReserveFunc func(base, size uint64, perm memory.Perm) error

// FreeFunc releases a range obtained through a ReserveFunc.
type FreeFunc func(base uint64) error
