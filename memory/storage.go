// Package memory provides the simulated RAM that page tables and guest data
// live in.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBeyondCapacity is returned when accessing an address at or beyond the
// capacity of the storage.
var ErrBeyondCapacity = errors.New(
	"accessing physical address beyond the storage capacity")

// A Storage keeps the data of the guest system.
//
// The storage implementation manages the storage in units. The unit is
// similar to the concept of page in memory management. For the units that
// are not touched by Read and Write function, no memory will be allocated.
//
// A Storage also keeps an access-control list of reserved regions. While
// access control is enforced, every access must fall entirely in a region
// that grants it.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte

	fill       []byte
	acl        *accessControlList
	aclEnabled bool
}

// NewStorage creates a storage object with the specified capacity. Access
// control starts disabled.
func NewStorage(capacity uint64) *Storage {
	storage := new(Storage)

	storage.unitSize = 4096
	storage.capacity = capacity
	storage.data = make(map[uint64][]byte)
	storage.acl = newAccessControlList()

	return storage
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// SetFillPattern sets the 32-bit pattern that memory never written before
// reads back as. Without a pattern, such memory reads as zero.
func (s *Storage) SetFillPattern(pattern uint32) {
	s.fill = make([]byte, 4)
	binary.LittleEndian.PutUint32(s.fill, pattern)
}

// SetAccessControlEnforced turns the access-control check on or off.
func (s *Storage) SetAccessControlEnforced(enforced bool) {
	s.aclEnabled = enforced
}

// AccessControlEnforced tells if the access-control check is on.
func (s *Storage) AccessControlEnforced() bool {
	return s.aclEnabled
}

// createOrGetStorageUnit retrieves a storage unit if the unit has been created
// before. Otherwise it initializes a storage unit in the storage object.
func (s *Storage) createOrGetStorageUnit(address uint64) ([]byte, error) {
	if address >= s.capacity {
		return nil, fmt.Errorf("%w: 0x%x", ErrBeyondCapacity, address)
	}

	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = s.newUnit()
		s.data[baseAddr] = unit
	}

	return unit, nil
}

func (s *Storage) newUnit() []byte {
	unit := make([]byte, s.unitSize)

	if s.fill != nil {
		for i := uint64(0); i < s.unitSize; i += uint64(len(s.fill)) {
			copy(unit[i:], s.fill)
		}
	}

	return unit
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// CanRead tells if a read of the range would pass the access-control check.
func (s *Storage) CanRead(address, length uint64) bool {
	return s.checkAccess(address, length, PermRead) == nil
}

// CanWrite tells if a write of the range would pass the access-control check.
func (s *Storage) CanWrite(address, length uint64) bool {
	return s.checkAccess(address, length, PermWrite) == nil
}

func (s *Storage) checkAccess(address, length uint64, perm Perm) error {
	if address+length > s.capacity {
		return fmt.Errorf("%w: 0x%x", ErrBeyondCapacity, address+length-1)
	}

	if !s.aclEnabled {
		return nil
	}

	return s.acl.check(address, length, perm)
}

// Read returns length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	if err := s.checkAccess(address, length, PermRead); err != nil {
		return nil, err
	}

	currAddr := address
	lenLeft := length
	dataOffset := uint64(0)
	res := make([]byte, length)

	for currAddr < address+length {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return nil, err
		}

		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenLeftInUnit := baseAddr + s.unitSize - currAddr
		lenToRead := min(lenLeft, lenLeftInUnit)

		copy(res[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		lenLeft -= lenToRead
		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	err := s.checkAccess(address, uint64(len(data)), PermWrite)
	if err != nil {
		return err
	}

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit, err := s.createOrGetStorageUnit(currAddr)
		if err != nil {
			return err
		}

		_, inUnitAddr := s.parseAddress(currAddr)
		lenLeftInData := uint64(len(data)) - dataOffset
		lenLeftInUnit := s.unitSize - inUnitAddr
		lenToWrite := min(lenLeftInData, lenLeftInUnit)

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// Reserve registers [base, base+size) as a region accessible with perm. It
// fails if the region overlaps another reserved region.
func (s *Storage) Reserve(base, size uint64, perm Perm) error {
	if base+size > s.capacity {
		return fmt.Errorf("%w: [0x%x, 0x%x)", ErrBeyondCapacity, base, base+size)
	}

	return s.acl.add(base, size, perm)
}

// Free removes the region that starts at base.
func (s *Storage) Free(base uint64) error {
	return s.acl.remove(base)
}

// Regions returns the reserved regions ordered by base address.
func (s *Storage) Regions() []Region {
	return s.acl.list()
}
