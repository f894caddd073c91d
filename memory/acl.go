package memory

import (
	"errors"
	"fmt"
	"sort"
)

// Perm is the access permission of a reserved region.
type Perm uint8

// Region permissions.
const (
	PermRead Perm = 1 << iota
	PermWrite

	PermReadWrite = PermRead | PermWrite
)

func (p Perm) String() string {
	b := []byte("--")
	if p&PermRead != 0 {
		b[0] = 'r'
	}

	if p&PermWrite != 0 {
		b[1] = 'w'
	}

	return string(b)
}

var (
	// ErrAccessViolation is returned when an access is not granted by the
	// reserved regions while access control is enforced.
	ErrAccessViolation = errors.New("memory access violation")

	// ErrRegionOverlap is returned when reserving a region that overlaps an
	// existing one.
	ErrRegionOverlap = errors.New("region overlaps a reserved region")

	// ErrRegionNotFound is returned when freeing a region that was never
	// reserved.
	ErrRegionNotFound = errors.New("region not found")
)

// A Region is a reserved address range with its permission.
type Region struct {
	Base uint64
	Size uint64
	Perm Perm
}

func (r Region) end() uint64 {
	return r.Base + r.Size
}

type accessControlList struct {
	regions []Region
}

func newAccessControlList() *accessControlList {
	return &accessControlList{}
}

func (l *accessControlList) add(base, size uint64, perm Perm) error {
	if size == 0 {
		return fmt.Errorf("cannot reserve an empty region at 0x%x", base)
	}

	r := Region{Base: base, Size: size, Perm: perm}

	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].Base >= base
	})

	if i < len(l.regions) && l.regions[i].Base < r.end() {
		return fmt.Errorf("%w: [0x%x, 0x%x)", ErrRegionOverlap, base, r.end())
	}

	if i > 0 && l.regions[i-1].end() > base {
		return fmt.Errorf("%w: [0x%x, 0x%x)", ErrRegionOverlap, base, r.end())
	}

	l.regions = append(l.regions, Region{})
	copy(l.regions[i+1:], l.regions[i:])
	l.regions[i] = r

	return nil
}

func (l *accessControlList) remove(base uint64) error {
	for i, r := range l.regions {
		if r.Base == base {
			l.regions = append(l.regions[:i], l.regions[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("%w: 0x%x", ErrRegionNotFound, base)
}

// check requires every byte of the access to be covered by regions granting
// perm. Adjacent regions may together cover one access.
func (l *accessControlList) check(addr, length uint64, perm Perm) error {
	curr := addr
	end := addr + length

	for curr < end {
		r, found := l.find(curr)
		if !found || r.Perm&perm != perm {
			return fmt.Errorf("%w: %s access to 0x%x", ErrAccessViolation,
				perm, curr)
		}

		curr = r.end()
	}

	return nil
}

func (l *accessControlList) find(addr uint64) (Region, bool) {
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].end() > addr
	})

	if i < len(l.regions) && l.regions[i].Base <= addr {
		return l.regions[i], true
	}

	return Region{}, false
}

func (l *accessControlList) list() []Region {
	regions := make([]Region, len(l.regions))
	copy(regions, l.regions)

	return regions
}
