package vm

// VAddr is a virtual address split into per-level page-table indices and an
// in-page offset.
type VAddr struct {
	// Index holds one index per page-table level. Index[0] selects the entry
	// in the last-level table and Index[len-1] the entry in the root table.
	Index  []uint64
	Offset uint64
}

// Decompose splits a virtual address according to the configured geometry.
func Decompose(c Config, va uint64) VAddr {
	v := VAddr{
		Index:  make([]uint64, c.Levels),
		Offset: c.PageOffset(va),
	}

	vpn := c.PageNumber(va)
	for i := 0; i < c.Levels; i++ {
		v.Index[i] = LevelIndex(c, vpn, i)
	}

	return v
}

// LevelIndex returns the index field of the given level within a virtual
// page number.
func LevelIndex(c Config, vpn uint64, level int) uint64 {
	return (vpn >> (uint64(level) * c.IndexBits)) & (c.EntriesPerTable() - 1)
}

// VPN reassembles the virtual page number from the index fields.
func (v VAddr) VPN(c Config) uint64 {
	var vpn uint64

	for i := len(v.Index) - 1; i >= 0; i-- {
		vpn = vpn<<c.IndexBits | v.Index[i]
	}

	return vpn
}

// Address reassembles the virtual address.
func (v VAddr) Address(c Config) uint64 {
	return c.Address(v.VPN(c), v.Offset)
}

// MaxVPN returns the number of virtual pages the page table can address.
func MaxVPN(c Config) uint64 {
	return 1 << (uint64(c.Levels) * c.IndexBits)
}
