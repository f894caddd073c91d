// Package trace provides hooks that record what a virtual memory manager does.
package trace

import (
	"log"

	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/vmm"
	"github.com/sarchlab/vortexvm/sim"
)

// A tracer is a hook that writes the events of a manager into a log.
type tracer struct {
	sim.LogHookBase
}

// NewTracer creates a hook that logs mappings, page-table nodes,
// translations, and page faults, one line per event.
func NewTracer(logger *log.Logger) sim.LogHook {
	t := new(tracer)
	t.Logger = logger

	return t
}

func (t *tracer) Func(ctx sim.HookCtx) {
	name := sim.NameOf(ctx.Domain)

	switch ctx.Pos {
	case vmm.HookPosMappingInstalled:
		m := ctx.Item.(vmm.Mapping)
		t.Printf("map, %s, ppn 0x%x, vpn 0x%x, %s\n",
			name, m.PPN, m.VPN, m.Flags)
	case vmm.HookPosNodeAllocated:
		t.Printf("node, %s, 0x%x\n", name, ctx.Item.(uint64))
	case vmm.HookPosTranslated:
		tr := ctx.Item.(vmm.Translation)
		t.Printf("translate, %s, %s, 0x%x, 0x%x, %d\n",
			name, tr.Access, tr.VAddr, tr.PAddr, tr.Level)
	case vmm.HookPosPageFault:
		f := ctx.Item.(*vm.PageFault)
		t.Printf("fault, %s, %s, %s, 0x%x, %d, 0x%x\n",
			name, f.Kind, f.Access, f.VAddr, f.Level, uint64(f.PTE))
	}
}
