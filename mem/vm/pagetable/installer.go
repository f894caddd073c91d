package pagetable

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vortexvm/mem/vm"
)

var (
	// ErrMappingConflict is returned when a virtual page is already mapped to
	// another physical page, or when a superpage covers it.
	ErrMappingConflict = errors.New("virtual page is already mapped")

	// ErrInvalidLeafFlags is returned for flags that cannot terminate a
	// translation.
	ErrInvalidLeafFlags = errors.New("invalid leaf flags")

	// ErrVPNOutOfRange is returned for virtual page numbers the page table
	// cannot address.
	ErrVPNOutOfRange = errors.New("virtual page number out of range")

	// ErrPPNOutOfRange is returned for physical page numbers that do not fit
	// in a page-table entry.
	ErrPPNOutOfRange = errors.New("physical page number out of range")

	// ErrUninitializedTable is returned when the builder meets a table entry
	// in memory that was never written.
	ErrUninitializedTable = errors.New("page table is not initialized")
)

// An InstallResult tells what installing a mapping changed.
type InstallResult struct {
	// NewNodes holds the addresses of the page-table nodes allocated.
	NewNodes []uint64
	// Replaced is true if a leaf mapping the same physical page was
	// overwritten.
	Replaced bool
}

// An Installer grows the page table and writes leaf entries.
type Installer struct {
	cfg   vm.Config
	ram   ramAdapter
	nodes NodeAllocator
}

// NewInstaller creates an Installer that takes new nodes from the given
// allocator.
func NewInstaller(cfg vm.Config, ram RAM, nodes NodeAllocator) *Installer {
	return &Installer{
		cfg:   cfg,
		ram:   ramAdapter{cfg: cfg, ram: ram},
		nodes: nodes,
	}
}

// AllocateNode allocates a zeroed page-table node and returns its physical
// page number.
func (in *Installer) AllocateNode() (uint64, error) {
	addr, err := in.nodes.Allocate(in.cfg.TableSize())
	if err != nil {
		return 0, fmt.Errorf("allocating page table: %w", err)
	}

	err = in.ram.zeroNode(addr)
	if err != nil {
		return 0, err
	}

	return in.cfg.PageNumber(addr), nil
}

// Install maps the virtual page vpn to the physical page ppn in the table
// rooted at rootPPN. Missing intermediate tables are allocated on the way.
// Tables allocated before a failure stay in place.
func (in *Installer) Install(
	rootPPN, ppn, vpn uint64,
	flags vm.Flags,
) (InstallResult, error) {
	res := InstallResult{}

	if err := checkLeafFlags(flags); err != nil {
		return res, err
	}

	if vpn >= vm.MaxVPN(in.cfg) {
		return res, fmt.Errorf("%w: 0x%x", ErrVPNOutOfRange, vpn)
	}

	if ppn >= vm.MaxPPN(in.cfg) {
		return res, fmt.Errorf("%w: 0x%x", ErrPPNOutOfRange, ppn)
	}

	base := rootPPN
	for level := in.cfg.Levels - 1; level > 0; level-- {
		next, allocated, err := in.descend(base, vpn, level)
		if allocated {
			res.NewNodes = append(res.NewNodes, next<<in.cfg.Log2PageSize)
		}

		if err != nil {
			return res, err
		}

		base = next
	}

	addr := in.ram.pteAddress(base, vm.LevelIndex(in.cfg, vpn, 0))

	existing, err := in.ram.readPTE(addr)
	if err != nil {
		return res, err
	}

	if existing.IsLeaf() && existing.PPN() != ppn {
		return res, fmt.Errorf("%w: vpn 0x%x maps ppn 0x%x, wanted 0x%x",
			ErrMappingConflict, vpn, existing.PPN(), ppn)
	}

	res.Replaced = existing.IsLeaf()

	err = in.ram.writePTE(addr, vm.MakePTE(ppn, flags|vm.FlagValid))

	return res, err
}

// descend returns the page number of the next-level table, allocating the
// table if the entry at this level is empty.
func (in *Installer) descend(
	base, vpn uint64,
	level int,
) (next uint64, allocated bool, err error) {
	addr := in.ram.pteAddress(base, vm.LevelIndex(in.cfg, vpn, level))

	pte, err := in.ram.readPTE(addr)
	if err != nil {
		return 0, false, err
	}

	switch {
	case pte.IsUninitialized():
		return 0, false, fmt.Errorf("%w: entry at 0x%x",
			ErrUninitializedTable, addr)
	case pte.IsForwarding():
		return pte.PPN(), false, nil
	case pte.Valid():
		return 0, false, fmt.Errorf("%w: vpn 0x%x is covered by a level %d leaf",
			ErrMappingConflict, vpn, level)
	}

	nodePPN, err := in.AllocateNode()
	if err != nil {
		return 0, false, fmt.Errorf("level %d: %w", level-1, err)
	}

	err = in.ram.writePTE(addr, vm.MakeForwardingPTE(nodePPN))

	return nodePPN, true, err
}

func checkLeafFlags(flags vm.Flags) error {
	perm := flags.Perm()

	if perm == 0 {
		return fmt.Errorf("%w: %s grants no access", ErrInvalidLeafFlags, flags)
	}

	if perm.Has(vm.FlagWrite) && !perm.Has(vm.FlagRead) {
		return fmt.Errorf("%w: %s is write without read",
			ErrInvalidLeafFlags, flags)
	}

	return nil
}
