package vmm

import (
	"sort"

	"github.com/sarchlab/vortexvm/mem/vm"
)

// A Mapping records the virtual page assigned to a physical page.
type Mapping struct {
	PPN   uint64
	VPN   uint64
	Flags vm.Flags
}

// addressMapping remembers the virtual page of every physical page mapped by
// the manager. Entries are never removed nor changed.
type addressMapping struct {
	byPPN map[uint64]Mapping
}

func newAddressMapping() *addressMapping {
	return &addressMapping{
		byPPN: make(map[uint64]Mapping),
	}
}

func (m *addressMapping) lookup(ppn uint64) (Mapping, bool) {
	mapping, found := m.byPPN[ppn]
	return mapping, found
}

func (m *addressMapping) insert(mapping Mapping) {
	if _, found := m.byPPN[mapping.PPN]; found {
		panic("physical page is already mapped")
	}

	m.byPPN[mapping.PPN] = mapping
}

func (m *addressMapping) len() int {
	return len(m.byPPN)
}

func (m *addressMapping) list() []Mapping {
	mappings := make([]Mapping, 0, len(m.byPPN))
	for _, mapping := range m.byPPN {
		mappings = append(mappings, mapping)
	}

	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].PPN < mappings[j].PPN
	})

	return mappings
}
