// Package satp models the supervisor address translation and protection
// register that holds the root page table of a processor.
package satp

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vortexvm/mem/vm"
)

var (
	// ErrFieldOverflow is returned when a value does not fit its field.
	ErrFieldOverflow = errors.New("satp: value does not fit the field")

	// ErrUnalignedRoot is returned when setting the root by an address that
	// is not page aligned.
	ErrUnalignedRoot = errors.New("satp: root address is not page aligned")

	// ErrUnsupportedMode is returned when a mode cannot be encoded with the
	// register width.
	ErrUnsupportedMode = errors.New("satp: unsupported mode")
)

type layout struct {
	modeShift uint64
	asidShift uint64
	asidBits  uint64
	ppnBits   uint64
}

var (
	layout32 = layout{modeShift: 31, asidShift: 22, asidBits: 9, ppnBits: 22}
	layout64 = layout{modeShift: 60, asidShift: 44, asidBits: 16, ppnBits: 44}
)

// Register is a translation register of a 32-bit or 64-bit processor.
type Register struct {
	xlen   int
	layout layout
	mode   vm.Mode
	asid   uint64
	ppn    uint64
	set    bool
}

// New creates a register for the given width in bare mode with no root.
func New(xlen int) *Register {
	r := &Register{xlen: xlen, layout: layout64}
	if xlen == 32 {
		r.layout = layout32
	}

	return r
}

// NewForMode creates a register wide enough for the mode and switches it to
// that mode.
func NewForMode(mode vm.Mode) *Register {
	xlen := 64
	if mode == vm.ModeSv32 {
		xlen = 32
	}

	r := New(xlen)
	if err := r.SetMode(mode); err != nil {
		panic(err)
	}

	return r
}

// XLen returns the register width in bits.
func (r *Register) XLen() int {
	return r.xlen
}

// Mode returns the translation mode.
func (r *Register) Mode() vm.Mode {
	return r.mode
}

// SetMode changes the translation mode.
func (r *Register) SetMode(mode vm.Mode) error {
	if _, err := r.encodeMode(mode); err != nil {
		return err
	}

	r.mode = mode

	return nil
}

// ASID returns the address-space identifier.
func (r *Register) ASID() uint64 {
	return r.asid
}

// SetASID changes the address-space identifier.
func (r *Register) SetASID(asid uint64) error {
	if asid >= 1<<r.layout.asidBits {
		return fmt.Errorf("%w: asid 0x%x", ErrFieldOverflow, asid)
	}

	r.asid = asid

	return nil
}

// BasePPN returns the physical page number of the root page table.
func (r *Register) BasePPN() uint64 {
	return r.ppn
}

// SetTranslationRoot installs the root page table.
func (r *Register) SetTranslationRoot(ppn uint64) error {
	if ppn >= 1<<r.layout.ppnBits {
		return fmt.Errorf("%w: ppn 0x%x", ErrFieldOverflow, ppn)
	}

	r.ppn = ppn
	r.set = true

	return nil
}

// SetTranslationRootByAddr installs the root page table located at addr.
func (r *Register) SetTranslationRootByAddr(addr, log2PageSize uint64) error {
	if addr&(1<<log2PageSize-1) != 0 {
		return fmt.Errorf("%w: 0x%x", ErrUnalignedRoot, addr)
	}

	return r.SetTranslationRoot(addr >> log2PageSize)
}

// IsTranslationRootUnset tells if no root page table has been installed.
func (r *Register) IsTranslationRootUnset() bool {
	return !r.set
}

// Value returns the raw register value.
func (r *Register) Value() uint64 {
	modeField, _ := r.encodeMode(r.mode)

	return modeField<<r.layout.modeShift |
		r.asid<<r.layout.asidShift |
		r.ppn
}

// Load sets the register from a raw value. A zero page number leaves the
// root unset.
func (r *Register) Load(value uint64) error {
	mode, err := r.decodeMode(value >> r.layout.modeShift)
	if err != nil {
		return err
	}

	r.mode = mode
	r.asid = value >> r.layout.asidShift & (1<<r.layout.asidBits - 1)
	r.ppn = value & (1<<r.layout.ppnBits - 1)
	r.set = r.ppn != 0

	return nil
}

func (r *Register) encodeMode(mode vm.Mode) (uint64, error) {
	switch {
	case mode == vm.ModeBare:
		return 0, nil
	case r.xlen == 32 && mode == vm.ModeSv32:
		return 1, nil
	case r.xlen == 64 && mode == vm.ModeSv39:
		return 8, nil
	case r.xlen == 64 && mode == vm.ModeSv48:
		return 9, nil
	}

	return 0, fmt.Errorf("%w: %s on a %d-bit register",
		ErrUnsupportedMode, mode, r.xlen)
}

func (r *Register) decodeMode(field uint64) (vm.Mode, error) {
	switch {
	case field == 0:
		return vm.ModeBare, nil
	case r.xlen == 32 && field == 1:
		return vm.ModeSv32, nil
	case r.xlen == 64 && field == 8:
		return vm.ModeSv39, nil
	case r.xlen == 64 && field == 9:
		return vm.ModeSv48, nil
	}

	return vm.ModeBare, fmt.Errorf("%w: mode field %d on a %d-bit register",
		ErrUnsupportedMode, field, r.xlen)
}
