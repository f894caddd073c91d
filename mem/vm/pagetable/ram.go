package pagetable

import (
	"fmt"

	"github.com/sarchlab/vortexvm/mem/vm"
)

// ramAdapter reads and writes page-table entries. Writes bypass the RAM's
// access control, since the page table lives in the memory that it guards.
type ramAdapter struct {
	cfg vm.Config
	ram RAM
}

func (a ramAdapter) pteAddress(basePPN, index uint64) uint64 {
	return basePPN*a.cfg.TableSize() + index*a.cfg.PTESize
}

func (a ramAdapter) readPTE(addr uint64) (vm.PTE, error) {
	buf, err := a.ram.Read(addr, a.cfg.PTESize)
	if err != nil {
		return 0, fmt.Errorf("reading PTE at 0x%x: %w", addr, err)
	}

	return vm.DecodePTE(buf), nil
}

func (a ramAdapter) writePTE(addr uint64, pte vm.PTE) error {
	err := a.writeUnchecked(addr, vm.EncodePTE(pte, a.cfg.PTESize))
	if err != nil {
		return fmt.Errorf("writing PTE at 0x%x: %w", addr, err)
	}

	return nil
}

func (a ramAdapter) zeroNode(addr uint64) error {
	size := alignUp(a.cfg.TableSize(), a.cfg.CacheBlockSize)

	err := a.writeUnchecked(addr, make([]byte, size))
	if err != nil {
		return fmt.Errorf("zeroing page table at 0x%x: %w", addr, err)
	}

	return nil
}

func (a ramAdapter) writeUnchecked(addr uint64, data []byte) error {
	a.ram.SetAccessControlEnforced(false)
	defer a.ram.SetAccessControlEnforced(true)

	return a.ram.Write(addr, data)
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}

	return (v + align - 1) / align * align
}
