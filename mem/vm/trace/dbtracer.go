package trace

import (
	"github.com/sarchlab/vortexvm/datarecording"
	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/vmm"
	"github.com/sarchlab/vortexvm/sim"
	"github.com/sarchlab/vortexvm/sim/id"
)

// Table names used by the DBTracer.
const (
	MappingTable     = "vm_mappings"
	NodeTable        = "vm_nodes"
	TranslationTable = "vm_translations"
	FaultTable       = "vm_faults"
)

// MappingEntry is a recorded mapping.
type MappingEntry struct {
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	Manager string `json:"manager"`
	PPN     uint64 `json:"ppn"`
	VPN     uint64 `json:"vpn"`
	Flags   string `json:"flags"`
}

// NodeEntry is a recorded page-table node allocation.
type NodeEntry struct {
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	Manager string `json:"manager"`
	Address uint64 `json:"address"`
}

// TranslationEntry is a recorded successful page-table walk.
type TranslationEntry struct {
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	Manager string `json:"manager"`
	Access  string `json:"access"`
	VAddr   uint64 `json:"vaddr"`
	PAddr   uint64 `json:"paddr"`
	Level   int    `json:"level"`
}

// FaultEntry is a recorded page fault.
type FaultEntry struct {
	ID      string `json:"id"`
	Seq     uint64 `json:"seq"`
	Manager string `json:"manager"`
	Kind    string `json:"kind"`
	Access  string `json:"access"`
	VAddr   uint64 `json:"vaddr"`
	Level   int    `json:"level"`
	PTE     uint64 `json:"pte"`
}

// A DBTracer is a hook that records the events of managers into a database
// using the data recorder.
type DBTracer struct {
	dataRecorder datarecording.DataRecorder
	idGenerator  id.IDGenerator
	seq          uint64
}

// NewDBTracer creates a DBTracer and the tables it writes to. Rows get IDs
// that are unique across runs.
func NewDBTracer(dataRecorder datarecording.DataRecorder) *DBTracer {
	t := &DBTracer{
		dataRecorder: dataRecorder,
		idGenerator:  id.NewUniqueIDGenerator(),
	}

	t.dataRecorder.CreateTable(MappingTable, MappingEntry{})
	t.dataRecorder.CreateTable(NodeTable, NodeEntry{})
	t.dataRecorder.CreateTable(TranslationTable, TranslationEntry{})
	t.dataRecorder.CreateTable(FaultTable, FaultEntry{})

	return t
}

// MapTables registers the tables of the DBTracer with a reader.
func MapTables(reader datarecording.DataReader) {
	reader.MapTable(MappingTable, MappingEntry{})
	reader.MapTable(NodeTable, NodeEntry{})
	reader.MapTable(TranslationTable, TranslationEntry{})
	reader.MapTable(FaultTable, FaultEntry{})
}

// Func records the event carried by the hook context.
func (t *DBTracer) Func(ctx sim.HookCtx) {
	name := sim.NameOf(ctx.Domain)

	switch ctx.Pos {
	case vmm.HookPosMappingInstalled:
		m := ctx.Item.(vmm.Mapping)
		t.dataRecorder.InsertData(MappingTable, MappingEntry{
			ID:      t.idGenerator.Generate(),
			Seq:     t.nextSeq(),
			Manager: name,
			PPN:     m.PPN,
			VPN:     m.VPN,
			Flags:   m.Flags.String(),
		})
	case vmm.HookPosNodeAllocated:
		t.dataRecorder.InsertData(NodeTable, NodeEntry{
			ID:      t.idGenerator.Generate(),
			Seq:     t.nextSeq(),
			Manager: name,
			Address: ctx.Item.(uint64),
		})
	case vmm.HookPosTranslated:
		tr := ctx.Item.(vmm.Translation)
		t.dataRecorder.InsertData(TranslationTable, TranslationEntry{
			ID:      t.idGenerator.Generate(),
			Seq:     t.nextSeq(),
			Manager: name,
			Access:  tr.Access.String(),
			VAddr:   tr.VAddr,
			PAddr:   tr.PAddr,
			Level:   tr.Level,
		})
	case vmm.HookPosPageFault:
		f := ctx.Item.(*vm.PageFault)
		t.dataRecorder.InsertData(FaultTable, FaultEntry{
			ID:      t.idGenerator.Generate(),
			Seq:     t.nextSeq(),
			Manager: name,
			Kind:    f.Kind.String(),
			Access:  f.Access.String(),
			VAddr:   f.VAddr,
			Level:   f.Level,
			PTE:     uint64(f.PTE),
		})
	}
}

func (t *DBTracer) nextSeq() uint64 {
	t.seq++
	return t.seq
}
