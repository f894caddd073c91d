// Package vmm provides the virtual memory manager that owns the page table of
// a simulated device.
//
// The manager reserves the page-table range from the host, installs a root
// page table into the processor, and afterwards creates virtual mappings for
// device-physical pages on demand. Every mapping is permanent.
package vmm

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/allocator"
	"github.com/sarchlab/vortexvm/mem/vm/pagetable"
	"github.com/sarchlab/vortexvm/memory"
	"github.com/sarchlab/vortexvm/sim"
)

// Stats summarizes the state of a manager.
type Stats struct {
	Mappings           int    `json:"mappings"`
	PageTableNodes     uint64 `json:"page_table_nodes"`
	PageTableBytes     uint64 `json:"page_table_bytes"`
	VirtualWindowBytes uint64 `json:"virtual_window_bytes"`
	Translations       uint64 `json:"translations"`
	PageFaults         uint64 `json:"page_faults"`
}

// Manager is the virtual memory manager. All the operations of a manager run
// to completion without blocking; the lock only serializes callers such as
// the monitoring server.
type Manager struct {
	*sim.HookableBase
	sync.Mutex

	name      string
	cfg       vm.Config
	processor Processor
	ram       pagetable.RAM
	logger    *log.Logger

	pageTableMem *allocator.Allocator
	virtualMem   *allocator.Allocator
	walker       *pagetable.Walker
	installer    *pagetable.Installer
	addrMapping  *addressMapping

	free        FreeFunc
	initialized bool

	numTranslations uint64
	numFaults       uint64
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() vm.Config {
	return m.cfg
}

// Init reserves the page-table range through reserve, sets up the page-table
// and virtual-window allocators, and, unless the configured mode is bare,
// installs a fresh root page table into the processor. free is kept to
// release the page-table range when the manager is closed.
func (m *Manager) Init(reserve ReserveFunc, free FreeFunc) error {
	m.Lock()
	defer m.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	m.logger.Printf("%s: initializing VM, page table base 0x%x, mode %s",
		m.name, m.cfg.PageTableBaseAddr, m.cfg.Mode)

	err := reserve(m.cfg.PageTableBaseAddr, m.cfg.PTSizeLimit,
		memory.PermReadWrite)
	if err != nil {
		return m.initFailed(StageReservePageTable, err)
	}

	m.free = free

	stage, err := m.setupAllocators()
	if err != nil {
		m.releaseHostRange()
		return m.initFailed(stage, err)
	}

	if !m.cfg.Mode.IsBare() {
		stage, err = m.installRoot()
		if err != nil {
			m.releaseHostRange()
			return m.initFailed(stage, err)
		}
	}

	m.initialized = true

	return nil
}

func (m *Manager) initFailed(stage InitStage, err error) error {
	initErr := &InitError{Stage: stage, Err: err}
	m.logger.Printf("%s: %v", m.name, initErr)

	m.pageTableMem = nil
	m.virtualMem = nil
	m.installer = nil

	return initErr
}

func (m *Manager) setupAllocators() (InitStage, error) {
	pageSize := m.cfg.PageSize()

	ptMem, err := allocator.New(
		m.cfg.PageTableBaseAddr, m.cfg.PTSizeLimit, pageSize)
	if err != nil {
		return StageCreateAllocators, err
	}

	virtualMem, err := allocator.New(
		m.cfg.AllocBaseAddr, m.cfg.GlobalMemSize-m.cfg.AllocBaseAddr, pageSize)
	if err != nil {
		return StageCreateAllocators, err
	}

	err = virtualMem.Reserve(m.cfg.PageTableBaseAddr,
		m.cfg.GlobalMemSize-m.cfg.PageTableBaseAddr)
	if err != nil {
		return StageReserveVirtualMem, err
	}

	if m.cfg.StartupSize > 0 {
		// The last byte of the startup range is excluded from translation too.
		err = virtualMem.Reserve(m.cfg.StartupAddr, m.cfg.StartupSize+1)
		if err != nil {
			return StageReserveVirtualMem, err
		}
	}

	m.pageTableMem = ptMem
	m.virtualMem = virtualMem
	m.installer = pagetable.NewInstaller(m.cfg, m.ram, ptMem)

	return "", nil
}

func (m *Manager) installRoot() (InitStage, error) {
	rootPPN, err := m.installer.AllocateNode()
	if err != nil {
		return StageAllocateRoot, err
	}

	m.invokeNodeAllocated(rootPPN << m.cfg.Log2PageSize)

	err = m.processor.SetTranslationRoot(rootPPN)
	if err != nil {
		return StageSetTranslationRoot, err
	}

	return "", nil
}

func (m *Manager) releaseHostRange() {
	if m.free == nil {
		return
	}

	err := m.free(m.cfg.PageTableBaseAddr)
	if err != nil {
		m.logger.Printf("%s: failed to free page-table range: %v", m.name, err)
	}
}

// Close releases the page-table range back to the host. The page table and
// all the mappings are dropped with it.
func (m *Manager) Close() error {
	m.Lock()
	defer m.Unlock()

	if !m.initialized {
		return ErrNotInitialized
	}

	m.initialized = false
	m.pageTableMem = nil
	m.virtualMem = nil
	m.installer = nil
	m.addrMapping = newAddressMapping()

	if m.free == nil {
		return nil
	}

	err := m.free(m.cfg.PageTableBaseAddr)
	if err != nil {
		return fmt.Errorf("vmm: freeing page-table range: %w", err)
	}

	return nil
}

// NeedsTranslation tells if an access to addr goes through the page table.
// Nothing is translated while no root is installed or the processor is in
// bare mode. Page-table memory, memory below the user base, and the startup
// region are never translated.
func (m *Manager) NeedsTranslation(addr uint64) bool {
	if m.processor.IsTranslationRootUnset() || m.processor.Mode().IsBare() {
		return false
	}

	if addr >= m.cfg.PageTableBaseAddr {
		return false
	}

	if addr < m.cfg.UserBaseAddr {
		return false
	}

	return addr < m.cfg.StartupAddr || addr > m.cfg.StartupEnd()
}

// MapPhysicalToVirtual returns the virtual page assigned to the physical page
// ppn. The first call for a physical page allocates a virtual window page and
// installs the mapping with the given flags; later calls return the same
// virtual page and ignore the flags.
func (m *Manager) MapPhysicalToVirtual(ppn uint64, flags vm.Flags) (uint64, error) {
	m.Lock()
	defer m.Unlock()

	if err := m.checkMappable(); err != nil {
		return 0, err
	}

	return m.mapP2V(ppn, flags)
}

func (m *Manager) checkMappable() error {
	if !m.initialized {
		return ErrNotInitialized
	}

	if m.processor.IsTranslationRootUnset() {
		return ErrTranslationDisabled
	}

	return nil
}

func (m *Manager) mapP2V(ppn uint64, flags vm.Flags) (uint64, error) {
	if mapping, found := m.addrMapping.lookup(ppn); found {
		return mapping.VPN, nil
	}

	vAddr, err := m.virtualMem.Allocate(m.cfg.PageSize())
	if err != nil {
		return 0, fmt.Errorf("vmm: allocating virtual page for ppn 0x%x: %w",
			ppn, err)
	}

	vpn := m.cfg.PageNumber(vAddr)

	res, err := m.installer.Install(m.processor.BasePPN(), ppn, vpn, flags)
	for _, node := range res.NewNodes {
		m.invokeNodeAllocated(node)
	}

	if err != nil {
		if releaseErr := m.virtualMem.Release(vAddr); releaseErr != nil {
			panic(releaseErr)
		}

		return 0, fmt.Errorf("vmm: mapping ppn 0x%x to vpn 0x%x: %w",
			ppn, vpn, err)
	}

	mapping := Mapping{PPN: ppn, VPN: vpn, Flags: flags}
	m.addrMapping.insert(mapping)

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosMappingInstalled,
		Item:   mapping,
	})

	return vpn, nil
}

// TranslateRegion makes the physical range [pAddr, pAddr+size) visible in
// the virtual address space and returns the virtual address of pAddr. Every
// page of the range gets a mapping. It returns 0 if pAddr does not need
// translation, in which case the caller keeps using the physical address.
func (m *Manager) TranslateRegion(
	pAddr, size uint64,
	flags vm.Flags,
) (uint64, error) {
	m.Lock()
	defer m.Unlock()

	if !m.NeedsTranslation(pAddr) {
		return 0, nil
	}

	if err := m.checkMappable(); err != nil {
		return 0, err
	}

	if size > 0 && pAddr+size-1 < pAddr {
		return 0, fmt.Errorf("%w: 0x%x bytes at 0x%x",
			ErrRegionOverflow, size, pAddr)
	}

	firstPPN := m.cfg.PageNumber(pAddr)
	lastPPN := firstPPN
	if size > 0 {
		lastPPN = m.cfg.PageNumber(pAddr + size - 1)
	}

	vpn, err := m.mapP2V(firstPPN, flags)
	if err != nil {
		return 0, err
	}

	for ppn := firstPPN + 1; ppn <= lastPPN; ppn++ {
		_, err = m.mapP2V(ppn, flags)
		if err != nil {
			return 0, err
		}
	}

	return m.cfg.Address(vpn, pAddr), nil
}

// Translate walks the page table to translate vAddr for the given access.
// Addresses that do not need translation are returned unchanged. A failed
// walk returns a *vm.PageFault.
func (m *Manager) Translate(vAddr uint64, access vm.AccessType) (uint64, error) {
	res, err := m.Walk(vAddr, access)
	if err != nil {
		return 0, err
	}

	return res.PAddr, nil
}

// Walk is Translate that also reports the entries visited.
func (m *Manager) Walk(
	vAddr uint64,
	access vm.AccessType,
) (pagetable.WalkResult, error) {
	m.Lock()
	defer m.Unlock()

	res, translated, err := m.walk(vAddr, access)
	if err != nil {
		m.reportFault(err)
		return res, err
	}

	if !translated {
		return res, nil
	}

	m.numTranslations++
	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosTranslated,
		Item: Translation{
			VAddr:  vAddr,
			PAddr:  res.PAddr,
			Level:  res.Level,
			Access: access,
		},
	})

	return res, nil
}

// Inspect is Walk without counting the translation or invoking hooks.
func (m *Manager) Inspect(
	vAddr uint64,
	access vm.AccessType,
) (pagetable.WalkResult, error) {
	m.Lock()
	defer m.Unlock()

	res, _, err := m.walk(vAddr, access)

	return res, err
}

// walk reports whether vAddr went through the page table.
func (m *Manager) walk(
	vAddr uint64,
	access vm.AccessType,
) (res pagetable.WalkResult, translated bool, err error) {
	if !m.NeedsTranslation(vAddr) {
		return pagetable.WalkResult{PAddr: vAddr}, false, nil
	}

	if !m.initialized {
		return pagetable.WalkResult{}, true, ErrNotInitialized
	}

	res, err = m.walker.Walk(m.processor.BasePPN(), vAddr, access)

	return res, true, err
}

func (m *Manager) reportFault(err error) {
	var fault *vm.PageFault
	if !errors.As(err, &fault) {
		return
	}

	m.numFaults++
	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosPageFault,
		Item:   fault,
	})
}

func (m *Manager) invokeNodeAllocated(addr uint64) {
	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosNodeAllocated,
		Item:   addr,
	})
}

// Lookup returns the mapping of a physical page, if it has one.
func (m *Manager) Lookup(ppn uint64) (Mapping, bool) {
	m.Lock()
	defer m.Unlock()

	return m.addrMapping.lookup(ppn)
}

// Mappings returns all the mappings ordered by physical page number.
func (m *Manager) Mappings() []Mapping {
	m.Lock()
	defer m.Unlock()

	return m.addrMapping.list()
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.Lock()
	defer m.Unlock()

	s := Stats{
		Mappings:     m.addrMapping.len(),
		Translations: m.numTranslations,
		PageFaults:   m.numFaults,
	}

	if m.pageTableMem != nil {
		s.PageTableBytes = m.pageTableMem.Allocated()
		s.PageTableNodes = s.PageTableBytes / m.cfg.TableSize()
	}

	if m.virtualMem != nil {
		s.VirtualWindowBytes = m.virtualMem.Allocated()
	}

	return s
}
