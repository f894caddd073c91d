package vmm

import (
	"log"
	"os"

	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/pagetable"
	"github.com/sarchlab/vortexvm/sim"
)

// A Builder can build virtual memory managers.
type Builder struct {
	cfg       vm.Config
	processor Processor
	ram       pagetable.RAM
	logger    *log.Logger
}

// MakeBuilder creates a builder with the default Sv39 configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg:    vm.DefaultConfig(),
		logger: log.New(os.Stderr, "[vmm] ", log.LstdFlags),
	}
}

// WithConfig sets the page-table geometry and the address-space layout.
func (b Builder) WithConfig(cfg vm.Config) Builder {
	b.cfg = cfg
	return b
}

// WithProcessor sets the processor that holds the translation root.
func (b Builder) WithProcessor(p Processor) Builder {
	b.processor = p
	return b
}

// WithRAM sets the simulated memory that stores the page table.
func (b Builder) WithRAM(ram pagetable.RAM) Builder {
	b.ram = ram
	return b
}

// WithLogger sets the logger that reports initialization progress and
// failures.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates a manager. The manager must be initialized with Init before
// use.
func (b Builder) Build(name string) *Manager {
	if b.processor == nil {
		panic("processor is not set")
	}

	if b.ram == nil {
		panic("RAM is not set")
	}

	if err := b.cfg.Validate(); err != nil {
		panic(err)
	}

	m := &Manager{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		cfg:          b.cfg,
		processor:    b.processor,
		ram:          b.ram,
		logger:       b.logger,
		walker:       pagetable.NewWalker(b.cfg, b.ram),
		addrMapping:  newAddressMapping(),
	}

	return m
}
