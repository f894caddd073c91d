package vm

import "fmt"

// FaultKind classifies page faults.
type FaultKind uint8

// The kinds of page fault a page-table walk can raise.
const (
	// FaultInvalidEntry means the entry is not valid or uses the reserved
	// write-without-read encoding.
	FaultInvalidEntry FaultKind = iota + 1
	// FaultNoLeaf means the walk ran out of levels without finding a leaf.
	FaultNoLeaf
	// FaultPermission means the leaf does not grant the access.
	FaultPermission
	// FaultUninitializedEntry means the entry was read from memory that was
	// never written.
	FaultUninitializedEntry
	// FaultMisalignedSuperpage means a leaf above the last level points to a
	// physical page that is not aligned to the superpage size.
	FaultMisalignedSuperpage
)

func (k FaultKind) String() string {
	switch k {
	case FaultInvalidEntry:
		return "invalid entry"
	case FaultNoLeaf:
		return "no leaf found"
	case FaultPermission:
		return "incorrect permissions"
	case FaultUninitializedEntry:
		return "uninitialized entry"
	case FaultMisalignedSuperpage:
		return "misaligned superpage"
	default:
		return fmt.Sprintf("fault(%d)", uint8(k))
	}
}

// A PageFault is raised when a virtual address cannot be translated.
type PageFault struct {
	Kind   FaultKind
	VAddr  uint64
	Access AccessType
	Level  int
	PTE    PTE
}

func (f *PageFault) Error() string {
	return fmt.Sprintf(
		"page fault: %s, type %s, vaddr 0x%x, level %d, pte 0x%x",
		f.Kind, f.Access, f.VAddr, f.Level, uint64(f.PTE))
}

// Is allows errors.Is to match faults by kind.
func (f *PageFault) Is(target error) bool {
	t, ok := target.(*PageFault)
	if !ok {
		return false
	}

	return t.Kind == f.Kind && (t.VAddr == 0 || t.VAddr == f.VAddr)
}

// NewPageFault creates a page fault.
func NewPageFault(
	kind FaultKind,
	vAddr uint64,
	access AccessType,
	level int,
	pte PTE,
) *PageFault {
	return &PageFault{
		Kind:   kind,
		VAddr:  vAddr,
		Access: access,
		Level:  level,
		PTE:    pte,
	}
}
