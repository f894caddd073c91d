package pagetable

import (
	"github.com/sarchlab/vortexvm/mem/vm"
)

// A WalkStep records the entry visited at one level of a walk.
type WalkStep struct {
	Level   int
	PTEAddr uint64
	PTE     vm.PTE
}

// A WalkResult is the outcome of a successful walk.
type WalkResult struct {
	PAddr uint64
	// Level is the level of the leaf. A leaf above level 0 maps a superpage.
	Level int
	Steps []WalkStep
}

// A Walker translates virtual addresses by walking the page table in RAM.
type Walker struct {
	cfg vm.Config
	ram ramAdapter
}

// NewWalker creates a Walker.
func NewWalker(cfg vm.Config, ram RAM) *Walker {
	return &Walker{
		cfg: cfg,
		ram: ramAdapter{cfg: cfg, ram: ram},
	}
}

// Translate returns the physical address that va maps to.
func (w *Walker) Translate(
	rootPPN, va uint64,
	access vm.AccessType,
) (uint64, error) {
	res, err := w.Walk(rootPPN, va, access)
	if err != nil {
		return 0, err
	}

	return res.PAddr, nil
}

// Walk walks the page table rooted at rootPPN from the top level down. It
// returns a *vm.PageFault if the address cannot be translated for the given
// access.
func (w *Walker) Walk(
	rootPPN, va uint64,
	access vm.AccessType,
) (WalkResult, error) {
	vaddr := vm.Decompose(w.cfg, va)
	base := rootPPN
	res := WalkResult{}

	for i := w.cfg.Levels - 1; ; {
		pteAddr := w.ram.pteAddress(base, vaddr.Index[i])

		pte, err := w.ram.readPTE(pteAddr)
		if err != nil {
			return res, err
		}

		res.Steps = append(res.Steps,
			WalkStep{Level: i, PTEAddr: pteAddr, PTE: pte})

		if pte.IsUninitialized() {
			return res, vm.NewPageFault(
				vm.FaultUninitializedEntry, va, access, i, pte)
		}

		if !pte.Valid() || pte.IsReserved() {
			return res, vm.NewPageFault(
				vm.FaultInvalidEntry, va, access, i, pte)
		}

		if pte.IsForwarding() {
			i--
			if i < 0 {
				return res, vm.NewPageFault(vm.FaultNoLeaf, va, access, 0, pte)
			}

			base = pte.PPN()

			continue
		}

		if !pte.Permits(access) {
			return res, vm.NewPageFault(vm.FaultPermission, va, access, i, pte)
		}

		ppn, ok := w.leafPPN(pte, vaddr.VPN(w.cfg), i)
		if !ok {
			return res, vm.NewPageFault(
				vm.FaultMisalignedSuperpage, va, access, i, pte)
		}

		res.Level = i
		res.PAddr = w.cfg.Address(ppn, vaddr.Offset)

		return res, nil
	}
}

// leafPPN returns the physical page number a leaf at the given level maps the
// vpn to. Leaves above level 0 keep the lower index fields of the vpn.
func (w *Walker) leafPPN(pte vm.PTE, vpn uint64, level int) (uint64, bool) {
	if level == 0 {
		return pte.PPN(), true
	}

	mask := uint64(1)<<(uint64(level)*w.cfg.IndexBits) - 1
	if pte.PPN()&mask != 0 {
		return 0, false
	}

	return pte.PPN() | vpn&mask, true
}
