package script

import (
	"bytes"
	"errors"
	"log"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/satp"
	"github.com/sarchlab/vortexvm/mem/vm/vmm"
	"github.com/sarchlab/vortexvm/memory"
)

type countingProgress struct {
	inProgress, finished uint64
}

func (p *countingProgress) IncrementInProgress(amount uint64) {
	p.inProgress += amount
}

func (p *countingProgress) MoveInProgressToFinished(amount uint64) {
	p.inProgress -= amount
	p.finished += amount
}

var _ = Describe("Parse", func() {
	It("should drop comments and blank lines", func() {
		lines, err := Parse(strings.NewReader(
			"# setup\n\nmap 0x20 rw  # data\n  stats\n"))

		Expect(err).NotTo(HaveOccurred())
		Expect(lines).To(Equal([]Line{
			{Number: 3, Text: "map 0x20 rw"},
			{Number: 4, Text: "stats"},
		}))
	})
})

var _ = Describe("Executor", func() {
	var (
		storage *memory.Storage
		manager *vmm.Manager
		out     *bytes.Buffer
		e       *Executor
	)

	run := func(script string) error {
		lines, err := Parse(strings.NewReader(script))
		Expect(err).NotTo(HaveOccurred())

		return e.Run(lines)
	}

	BeforeEach(func() {
		cfg := vm.DefaultConfig()
		storage = memory.NewStorage(cfg.GlobalMemSize)

		manager = vmm.MakeBuilder().
			WithConfig(cfg).
			WithProcessor(satp.NewForMode(vm.ModeSv39)).
			WithRAM(storage).
			WithLogger(log.New(GinkgoWriter, "", 0)).
			Build("VMM")
		Expect(manager.Init(storage.Reserve, storage.Free)).To(Succeed())

		out = new(bytes.Buffer)
		e = NewExecutor(manager, out)
	})

	It("should map and translate", func() {
		err := run("map 0x20\ntranslate 0x10123 store\n")

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(Equal(
			"map ppn 0x20 -> vpn 0x10\n" +
				"translate store 0x10123 -> 0x20123\n"))
	})

	It("should map regions", func() {
		err := run("region 0x20010 0x2000 rx\nregion 0x800 0x10\n")

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(Equal(
			"region 0x20010+0x2000 -> 0x10010\n" +
				"region 0x800+0x10 not translated\n"))
		Expect(manager.Mappings()).To(HaveLen(3))
	})

	It("should print walked entries", func() {
		err := run("map 0x20\nwalk 0x10008\n")

		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Count(out.String(), "  level ")).To(Equal(3))
		Expect(out.String()).To(ContainSubstring("  level 0, pte 0x8007 at "))
	})

	It("should report faults without stopping", func() {
		err := run("map 0x20 r\ntranslate 0x10000 store\nstats\n")

		Expect(err).NotTo(HaveOccurred())
		Expect(e.NumFaults()).To(Equal(1))
		Expect(out.String()).To(ContainSubstring(
			"translate store 0x10000: page fault: incorrect permissions"))
		Expect(out.String()).To(ContainSubstring(`"page_faults":1`))
	})

	It("should list mappings", func() {
		err := run("map 0x21 rx\nmap 0x20\nmappings\n")

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(HaveSuffix(
			"ppn 0x20 vpn 0x11 -rw-----\nppn 0x21 vpn 0x10 -r-x----\n"))
	})

	It("should stop at unknown commands", func() {
		err := run("map 0x20\njump 0x10\nmap 0x21\n")

		Expect(errors.Is(err, ErrUnknownCommand)).To(BeTrue())
		Expect(err.Error()).To(HavePrefix("line 2: "))
		Expect(manager.Mappings()).To(HaveLen(1))
	})

	DescribeTable("should reject malformed commands",
		func(line string) {
			Expect(e.Exec(line)).NotTo(Succeed())
		},
		Entry("missing ppn", "map"),
		Entry("bad number", "map zz"),
		Entry("bad flags", "map 0x20 rq"),
		Entry("leaf without permissions", "map 0x20 -"),
		Entry("bad access", "translate 0x10000 jump"),
		Entry("extra argument", "stats now"),
	)

	It("should report progress", func() {
		progress := &countingProgress{}
		e.WithProgress(progress)

		Expect(run("map 0x20\nmap 0x21\n")).To(Succeed())

		Expect(progress.finished).To(Equal(uint64(2)))
		Expect(progress.inProgress).To(BeZero())
	})

	Context("with guest memory", func() {
		BeforeEach(func() {
			Expect(storage.Reserve(0x20000, 0x1000, memory.PermReadWrite)).
				To(Succeed())
			storage.SetAccessControlEnforced(true)
			e.WithMemory(storage)
		})

		It("should store and load through the page table", func() {
			err := run("map 0x20\nstore 0x10010 deadbeef\nload 0x10010 4\n")

			Expect(err).NotTo(HaveOccurred())
			Expect(out.String()).To(Equal(
				"map ppn 0x20 -> vpn 0x10\n" +
					"store 0x10010 (0x20010): 4 bytes\n" +
					"load 0x10010 (0x20010): deadbeef\n"))

			data, err := storage.Read(0x20010, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0xde, 0xad, 0xbe, 0xef}))
		})

		It("should report a fault on a read-only page", func() {
			err := run("map 0x20 r\nstore 0x10000 00\n")

			Expect(err).NotTo(HaveOccurred())
			Expect(e.NumFaults()).To(Equal(1))
		})

		It("should report memory the guest may not access", func() {
			err := run("map 0x30\nload 0x10000 8\n")

			Expect(err).NotTo(HaveOccurred())
			Expect(out.String()).To(HaveSuffix(
				"load 0x10000 (0x30000): access denied\n"))
		})

		It("should reject accesses that cross a page", func() {
			err := run("map 0x20\nload 0x10ffe 4\n")

			Expect(err).To(MatchError(ErrCrossPage))
		})
	})

	It("should need memory to load", func() {
		err := run("map 0x20\nload 0x10000 4\n")

		Expect(err).To(MatchError(ErrNoMemory))
	})
})
