package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Flags are the permission and status bits of a page-table entry.
type Flags uint64

// The flag bits of a page-table entry.
const (
	FlagValid Flags = 1 << iota
	FlagRead
	FlagWrite
	FlagExec
	FlagUser
	FlagGlobal
	FlagAccessed
	FlagDirty
)

// Common flag combinations.
const (
	FlagsRW  = FlagRead | FlagWrite
	FlagsRX  = FlagRead | FlagExec
	FlagsRWX = FlagRead | FlagWrite | FlagExec

	permMask = FlagRead | FlagWrite | FlagExec
)

// PTEFlagBits is the number of low bits of an entry that hold flags. The
// physical page number sits above them.
const PTEFlagBits = 10

const flagMask = Flags(1<<PTEFlagBits - 1)

// uninitializedPattern is the filler value of simulated memory that has never
// been written.
const uninitializedPattern = 0xbaadf00d

// Has returns true if all the given flags are set.
func (f Flags) Has(flags Flags) bool {
	return f&flags == flags
}

// Perm returns only the read, write, and execute bits.
func (f Flags) Perm() Flags {
	return f & permMask
}

// ParseFlags converts strings like "rw" or "r-x" into flags.
func ParseFlags(s string) (Flags, error) {
	var f Flags

	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			f |= FlagRead
		case 'w':
			f |= FlagWrite
		case 'x':
			f |= FlagExec
		case 'u':
			f |= FlagUser
		case 'g':
			f |= FlagGlobal
		case '-':
		default:
			return 0, fmt.Errorf("unknown flag %q in %q", c, s)
		}
	}

	return f, nil
}

func (f Flags) String() string {
	b := []byte("--------")
	names := "vrwxugad"

	for i := range b {
		if f&(1<<i) != 0 {
			b[i] = names[i]
		}
	}

	return string(b)
}

// A PTE is a page-table entry word as stored in simulated memory.
type PTE uint64

// MakePTE encodes a physical page number and flags into an entry.
func MakePTE(ppn uint64, flags Flags) PTE {
	return PTE(ppn<<PTEFlagBits | uint64(flags&flagMask))
}

// MaxPPN returns the number of physical pages an entry of the configured
// size can point to.
func MaxPPN(c Config) uint64 {
	return 1 << (8*c.PTESize - PTEFlagBits)
}

// MakeForwardingPTE encodes a valid non-leaf entry that points at the
// next-level table.
func MakeForwardingPTE(ppn uint64) PTE {
	return MakePTE(ppn, FlagValid)
}

// PPN returns the physical page number the entry points to.
func (e PTE) PPN() uint64 {
	return uint64(e) >> PTEFlagBits
}

// Flags returns the flag bits of the entry.
func (e PTE) Flags() Flags {
	return Flags(e) & flagMask
}

// Valid returns the V bit.
func (e PTE) Valid() bool {
	return e.Flags().Has(FlagValid)
}

// Readable returns the R bit.
func (e PTE) Readable() bool {
	return e.Flags().Has(FlagRead)
}

// Writable returns the W bit.
func (e PTE) Writable() bool {
	return e.Flags().Has(FlagWrite)
}

// Executable returns the X bit.
func (e PTE) Executable() bool {
	return e.Flags().Has(FlagExec)
}

// IsReserved returns true for the illegal write-without-read combination.
func (e PTE) IsReserved() bool {
	return e.Writable() && !e.Readable()
}

// IsForwarding returns true if the entry points to the next-level table
// rather than terminating the translation.
func (e PTE) IsForwarding() bool {
	return e.Valid() && e.Flags().Perm() == 0
}

// IsLeaf returns true if the entry terminates the translation.
func (e PTE) IsLeaf() bool {
	return e.Valid() && e.Flags().Perm() != 0
}

// IsUninitialized returns true if the entry holds the filler pattern of
// memory that was never written.
func (e PTE) IsUninitialized() bool {
	return uint32(e) == uninitializedPattern
}

// Permits returns true if the entry grants the given access.
func (e PTE) Permits(access AccessType) bool {
	return e.Flags().Has(access.RequiredFlag())
}

func (e PTE) String() string {
	return fmt.Sprintf("PTE{ppn: 0x%x, flags: %s}", e.PPN(), e.Flags())
}

// EncodePTE serializes an entry into size little-endian bytes.
func EncodePTE(e PTE, size uint64) []byte {
	buf := make([]byte, size)

	switch size {
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(e))
	case 8:
		binary.LittleEndian.PutUint64(buf, uint64(e))
	default:
		panic(fmt.Sprintf("unsupported PTE size %d", size))
	}

	return buf
}

// DecodePTE deserializes an entry from little-endian bytes.
func DecodePTE(buf []byte) PTE {
	switch len(buf) {
	case 4:
		return PTE(binary.LittleEndian.Uint32(buf))
	case 8:
		return PTE(binary.LittleEndian.Uint64(buf))
	default:
		panic(fmt.Sprintf("unsupported PTE size %d", len(buf)))
	}
}
