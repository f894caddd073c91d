package cmd

import (
	"io"
	"log"
	"os"

	"github.com/sarchlab/vortexvm/datarecording"
	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/satp"
	"github.com/sarchlab/vortexvm/mem/vm/trace"
	"github.com/sarchlab/vortexvm/mem/vm/vmm"
	"github.com/sarchlab/vortexvm/memory"
)

// uninitializedMemory is what the simulated RAM reads back before it is
// written.
const uninitializedMemory = 0xbaadf00d

type sessionOptions struct {
	name       string
	traceTo    io.Writer
	recordPath string
	record     bool
	logger     *log.Logger
}

// A session is an initialized manager over a fresh simulated RAM. Guest
// memory from the user base up to the page table is readable and writable.
type session struct {
	cfg       vm.Config
	storage   *memory.Storage
	processor *satp.Register
	manager   *vmm.Manager
	recorder  datarecording.DataRecorder
}

func newSession(cfg vm.Config, opts sessionOptions) (*session, error) {
	s := &session{cfg: cfg}

	s.storage = memory.NewStorage(cfg.GlobalMemSize)
	s.storage.SetFillPattern(uninitializedMemory)
	s.storage.SetAccessControlEnforced(true)

	s.processor = satp.New(64)
	if cfg.Mode == vm.ModeSv32 {
		s.processor = satp.New(32)
	}

	if err := s.processor.SetMode(cfg.Mode); err != nil {
		return nil, err
	}

	logger := opts.logger
	if logger == nil {
		logger = log.New(os.Stderr, "[vmm] ", log.LstdFlags)
	}

	s.manager = vmm.MakeBuilder().
		WithConfig(cfg).
		WithProcessor(s.processor).
		WithRAM(s.storage).
		WithLogger(logger).
		Build(opts.name)

	if opts.traceTo != nil {
		s.manager.AcceptHook(trace.NewTracer(log.New(opts.traceTo, "", 0)))
	}

	if opts.record {
		s.recorder = datarecording.New(opts.recordPath)
		s.manager.AcceptHook(trace.NewDBTracer(s.recorder))
	}

	err := s.storage.Reserve(cfg.UserBaseAddr,
		cfg.PageTableBaseAddr-cfg.UserBaseAddr, memory.PermReadWrite)
	if err != nil {
		return nil, err
	}

	err = s.manager.Init(s.storage.Reserve, s.storage.Free)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// close flushes the recording and releases the page-table range.
func (s *session) close() error {
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			return err
		}
	}

	return s.manager.Close()
}
