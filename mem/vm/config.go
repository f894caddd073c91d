package vm

import (
	"errors"
	"fmt"
)

// DefaultStartupSize is the size of the startup region that is never
// translated nor handed out as a virtual window page.
const DefaultStartupSize = 0x40000

// Config describes the page-table geometry and the layout of the simulated
// address space. It is fixed before the memory manager is initialized.
type Config struct {
	Mode           Mode
	Log2PageSize   uint64
	Levels         int
	IndexBits      uint64
	PTESize        uint64
	CacheBlockSize uint64

	GlobalMemSize     uint64
	PageTableBaseAddr uint64
	PTSizeLimit       uint64
	AllocBaseAddr     uint64
	UserBaseAddr      uint64
	StartupAddr       uint64
	StartupSize       uint64
}

// DefaultConfig returns the 64-bit Sv39 configuration.
func DefaultConfig() Config {
	return ConfigForMode(ModeSv39)
}

// ConfigForMode returns the default layout with the page-table geometry of
// the given mode. The bare mode keeps the Sv39 geometry so that the layout
// stays valid; no page table is built in that mode.
func ConfigForMode(mode Mode) Config {
	c := Config{
		Mode:              mode,
		Log2PageSize:      12,
		Levels:            3,
		IndexBits:         9,
		PTESize:           8,
		CacheBlockSize:    64,
		GlobalMemSize:     0x200000000,
		PageTableBaseAddr: 0x1F0000000,
		PTSizeLimit:       0x10000000,
		AllocBaseAddr:     0x10000,
		UserBaseAddr:      0x10000,
		StartupAddr:       0x180000000,
		StartupSize:       DefaultStartupSize,
	}

	switch mode {
	case ModeSv32:
		c.Levels = 2
		c.IndexBits = 10
		c.PTESize = 4
		c.GlobalMemSize = 0x100000000
		c.PageTableBaseAddr = 0xF0000000
		c.PTSizeLimit = 0x10000000
		c.StartupAddr = 0x80000000
	case ModeSv48:
		c.Levels = 4
	}

	return c
}

// PageSize returns the size of a page in bytes.
func (c Config) PageSize() uint64 {
	return 1 << c.Log2PageSize
}

// EntriesPerTable returns the number of PTEs in one page-table node.
func (c Config) EntriesPerTable() uint64 {
	return 1 << c.IndexBits
}

// TableSize returns the size of one page-table node in bytes.
func (c Config) TableSize() uint64 {
	return c.EntriesPerTable() * c.PTESize
}

// PageNumber drops the page-offset bits of an address.
func (c Config) PageNumber(addr uint64) uint64 {
	return addr >> c.Log2PageSize
}

// PageOffset returns the in-page offset of an address.
func (c Config) PageOffset(addr uint64) uint64 {
	return addr & (c.PageSize() - 1)
}

// Address composes an address from a page number and an in-page offset.
func (c Config) Address(pageNumber, offset uint64) uint64 {
	return pageNumber<<c.Log2PageSize | c.PageOffset(offset)
}

// StartupEnd returns the last address of the startup region. The end is part
// of the region.
func (c Config) StartupEnd() uint64 {
	return c.StartupAddr + c.StartupSize
}

// Validate checks that the configuration is self-consistent.
func (c Config) Validate() error {
	var errs []error

	if c.Log2PageSize == 0 || c.Log2PageSize > 32 {
		errs = append(errs,
			fmt.Errorf("log2 page size %d is out of range", c.Log2PageSize))
	}

	if c.Levels <= 0 {
		errs = append(errs, fmt.Errorf("levels must be positive, got %d", c.Levels))
	}

	if c.PTESize != 4 && c.PTESize != 8 {
		errs = append(errs, fmt.Errorf("PTE size must be 4 or 8, got %d", c.PTESize))
	}

	if c.TableSize() != c.PageSize() {
		errs = append(errs, fmt.Errorf(
			"a page-table node (%d bytes) must fill exactly one page (%d bytes)",
			c.TableSize(), c.PageSize()))
	}

	if c.CacheBlockSize == 0 || c.PageSize()%c.CacheBlockSize != 0 {
		errs = append(errs, fmt.Errorf(
			"cache block size %d must divide the page size", c.CacheBlockSize))
	}

	errs = append(errs, c.validateLayout()...)

	return errors.Join(errs...)
}

func (c Config) validateLayout() []error {
	var errs []error

	if c.PageTableBaseAddr+c.PTSizeLimit > c.GlobalMemSize {
		errs = append(errs, fmt.Errorf(
			"page-table range [0x%x, 0x%x) exceeds global memory 0x%x",
			c.PageTableBaseAddr, c.PageTableBaseAddr+c.PTSizeLimit,
			c.GlobalMemSize))
	}

	if c.PageSize() != 0 && c.PageTableBaseAddr%c.PageSize() != 0 {
		errs = append(errs, fmt.Errorf(
			"page-table base 0x%x is not page aligned", c.PageTableBaseAddr))
	}

	if c.AllocBaseAddr > c.PageTableBaseAddr {
		errs = append(errs, fmt.Errorf(
			"allocation base 0x%x is above the page-table base 0x%x",
			c.AllocBaseAddr, c.PageTableBaseAddr))
	}

	if c.StartupSize > 0 &&
		(c.StartupAddr < c.AllocBaseAddr ||
			c.StartupEnd() > c.PageTableBaseAddr) {
		errs = append(errs, fmt.Errorf(
			"startup range [0x%x, 0x%x] is outside the virtual window [0x%x, 0x%x)",
			c.StartupAddr, c.StartupEnd(), c.AllocBaseAddr, c.PageTableBaseAddr))
	}

	return errs
}
