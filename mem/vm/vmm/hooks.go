package vmm

import (
	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/sim"
)

// Hooks run while the manager holds its lock and must not call back into the
// manager.

// HookPosMappingInstalled marks that a physical page got a virtual page. The
// hook item is a Mapping.
var HookPosMappingInstalled = &sim.HookPos{Name: "MappingInstalled"}

// HookPosNodeAllocated marks that a page-table node was allocated. The hook
// item is the node address.
var HookPosNodeAllocated = &sim.HookPos{Name: "NodeAllocated"}

// HookPosTranslated marks a successful page-table walk. The hook item is a
// Translation.
var HookPosTranslated = &sim.HookPos{Name: "Translated"}

// HookPosPageFault marks a failed page-table walk. The hook item is the
// *vm.PageFault.
var HookPosPageFault = &sim.HookPos{Name: "PageFault"}

// A Translation is a virtual address translated by a page-table walk.
type Translation struct {
	VAddr  uint64
	PAddr  uint64
	Level  int
	Access vm.AccessType
}
