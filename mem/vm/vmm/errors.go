package vmm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when using a manager that has not been
	// initialized successfully.
	ErrNotInitialized = errors.New("vmm: not initialized")

	// ErrAlreadyInitialized is returned when initializing a manager twice.
	ErrAlreadyInitialized = errors.New("vmm: already initialized")

	// ErrTranslationDisabled is returned when creating a mapping while no
	// root page table is installed.
	ErrTranslationDisabled = errors.New("vmm: translation root is not set")

	// ErrRegionOverflow is returned for regions that run past the end of the
	// address space.
	ErrRegionOverflow = errors.New("vmm: region overflows the address space")
)

// InitStage names the step of the initialization that failed.
type InitStage string

// The initialization steps.
const (
	StageReservePageTable   InitStage = "reserve page-table range"
	StageCreateAllocators   InitStage = "create allocators"
	StageReserveVirtualMem  InitStage = "reserve virtual window"
	StageAllocateRoot       InitStage = "allocate root page table"
	StageSetTranslationRoot InitStage = "set translation root"
)

// An InitError reports a failed initialization. The manager stays unusable.
type InitError struct {
	Stage InitStage
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("vmm: failed to %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
