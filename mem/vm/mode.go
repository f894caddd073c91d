// Package vm provides the models for address translations: translation
// modes, page-table entries, virtual-address decomposition, and page faults.
package vm

import (
	"fmt"
	"strings"
)

// Mode is the address-translation mode held by the processor's translation
// register.
type Mode uint8

// The supported translation modes.
const (
	ModeBare Mode = iota
	ModeSv32
	ModeSv39
	ModeSv48
)

func (m Mode) String() string {
	switch m {
	case ModeBare:
		return "bare"
	case ModeSv32:
		return "sv32"
	case ModeSv39:
		return "sv39"
	case ModeSv48:
		return "sv48"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts a mode name such as "sv39" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bare":
		return ModeBare, nil
	case "sv32":
		return ModeSv32, nil
	case "sv39":
		return ModeSv39, nil
	case "sv48":
		return ModeSv48, nil
	default:
		return ModeBare, fmt.Errorf("unknown translation mode %q", s)
	}
}

// IsBare returns true if the mode does not translate addresses.
func (m Mode) IsBare() bool {
	return m == ModeBare
}
