package pagetable

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/memory"
	"go.uber.org/mock/gomock"
)

func vaOf(i2, i1, i0, offset uint64) uint64 {
	return (i2<<18|i1<<9|i0)<<12 | offset
}

var _ = Describe("Walker", func() {
	const (
		root = uint64(0x1F0000)
		l1   = uint64(0x1F0001)
		l0   = uint64(0x1F0002)
	)

	var (
		cfg     vm.Config
		storage *memory.Storage
		walker  *Walker
	)

	writePTE := func(ppn, index uint64, pte vm.PTE) {
		addr := ppn*cfg.TableSize() + index*cfg.PTESize
		Expect(storage.Write(addr, vm.EncodePTE(pte, cfg.PTESize))).
			To(Succeed())
	}

	expectFault := func(err error, kind vm.FaultKind, level int) {
		var fault *vm.PageFault
		Expect(errors.As(err, &fault)).To(BeTrue())
		Expect(fault.Kind).To(Equal(kind))
		Expect(fault.Level).To(Equal(level))
	}

	BeforeEach(func() {
		cfg = vm.DefaultConfig()
		storage = memory.NewStorage(cfg.GlobalMemSize)
		walker = NewWalker(cfg, storage)

		writePTE(root, 1, vm.MakeForwardingPTE(l1))
		writePTE(l1, 2, vm.MakeForwardingPTE(l0))
		writePTE(l0, 3, vm.MakePTE(0x20000, vm.FlagValid|vm.FlagsRW))
	})

	It("should translate a mapped address", func() {
		pa, err := walker.Translate(root, vaOf(1, 2, 3, 0x123), vm.AccessLoad)

		Expect(err).NotTo(HaveOccurred())
		Expect(pa).To(Equal(uint64(0x20000123)))
	})

	It("should record every level visited", func() {
		res, err := walker.Walk(root, vaOf(1, 2, 3, 0), vm.AccessStore)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Level).To(Equal(0))
		Expect(res.Steps).To(HaveLen(3))
		Expect(res.Steps[0].Level).To(Equal(2))
		Expect(res.Steps[0].PTEAddr).To(Equal(uint64(0x1F0000008)))
		Expect(res.Steps[2].PTE.PPN()).To(Equal(uint64(0x20000)))
	})

	It("should fault on an invalid top-level entry", func() {
		_, err := walker.Translate(root, vaOf(5, 0, 0, 0), vm.AccessLoad)

		expectFault(err, vm.FaultInvalidEntry, 2)
	})

	It("should fault on an invalid last-level entry", func() {
		_, err := walker.Translate(root, vaOf(1, 2, 4, 0), vm.AccessLoad)

		expectFault(err, vm.FaultInvalidEntry, 0)
	})

	It("should fault on the reserved write-only combination", func() {
		writePTE(l0, 4, vm.MakePTE(0x1, vm.FlagValid|vm.FlagWrite))

		_, err := walker.Translate(root, vaOf(1, 2, 4, 0), vm.AccessStore)

		expectFault(err, vm.FaultInvalidEntry, 0)
	})

	It("should fault when no leaf is found", func() {
		writePTE(l0, 5, vm.MakeForwardingPTE(0x1F0003))

		_, err := walker.Translate(root, vaOf(1, 2, 5, 0), vm.AccessLoad)

		expectFault(err, vm.FaultNoLeaf, 0)
	})

	It("should fault on a load from a leaf without read", func() {
		writePTE(l0, 6, vm.MakePTE(0x30000, vm.FlagValid|vm.FlagExec))

		_, err := walker.Translate(root, vaOf(1, 2, 6, 0x10), vm.AccessLoad)
		expectFault(err, vm.FaultPermission, 0)

		pa, err := walker.Translate(root, vaOf(1, 2, 6, 0x10), vm.AccessFetch)
		Expect(err).NotTo(HaveOccurred())
		Expect(pa).To(Equal(uint64(0x30000010)))
	})

	It("should fault on a store to a read-only leaf", func() {
		writePTE(l0, 7, vm.MakePTE(0x30001, vm.FlagValid|vm.FlagRead))

		_, err := walker.Translate(root, vaOf(1, 2, 7, 0), vm.AccessStore)

		expectFault(err, vm.FaultPermission, 0)
	})

	It("should carry the faulting address and access", func() {
		va := vaOf(6, 0, 0, 0x42)

		_, err := walker.Translate(root, va, vm.AccessFetch)

		var fault *vm.PageFault
		Expect(errors.As(err, &fault)).To(BeTrue())
		Expect(fault.VAddr).To(Equal(va))
		Expect(fault.Access).To(Equal(vm.AccessFetch))
	})

	It("should translate through a superpage", func() {
		writePTE(l1, 8, vm.MakePTE(0x40000, vm.FlagValid|vm.FlagsRW))

		res, err := walker.Walk(root, vaOf(1, 8, 7, 0x10), vm.AccessLoad)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Level).To(Equal(1))
		Expect(res.PAddr).To(Equal(uint64(0x40007010)))
	})

	It("should fault on a misaligned superpage", func() {
		writePTE(l1, 9, vm.MakePTE(0x40001, vm.FlagValid|vm.FlagRead))

		_, err := walker.Translate(root, vaOf(1, 9, 0, 0), vm.AccessLoad)

		expectFault(err, vm.FaultMisalignedSuperpage, 1)
	})

	It("should fault on memory that was never written", func() {
		storage = memory.NewStorage(cfg.GlobalMemSize)
		storage.SetFillPattern(0xbaadf00d)
		walker = NewWalker(cfg, storage)

		_, err := walker.Translate(root, vaOf(1, 2, 3, 0), vm.AccessLoad)

		expectFault(err, vm.FaultUninitializedEntry, 2)
	})

	It("should pass through memory errors", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		ram := NewMockRAM(mockCtrl)
		walker = NewWalker(cfg, ram)
		readErr := errors.New("bus error")

		ram.EXPECT().
			Read(uint64(0x1F0000008), uint64(8)).
			Return(nil, readErr)

		_, err := walker.Translate(root, vaOf(1, 2, 3, 0), vm.AccessLoad)

		Expect(err).To(MatchError(readErr))

		var fault *vm.PageFault
		Expect(errors.As(err, &fault)).To(BeFalse())
	})

	Context("with the Sv32 geometry", func() {
		It("should walk two levels of 4-byte entries", func() {
			cfg = vm.ConfigForMode(vm.ModeSv32)
			storage = memory.NewStorage(cfg.GlobalMemSize)
			walker = NewWalker(cfg, storage)

			sv32Root := uint64(0xF0000)
			sv32Leaf := uint64(0xF0001)
			writePTE(sv32Root, 0x3FF, vm.MakeForwardingPTE(sv32Leaf))
			writePTE(sv32Leaf, 0x1, vm.MakePTE(0x12345, vm.FlagValid|vm.FlagRead))

			va := uint64(0x3FF)<<22 | uint64(0x1)<<12 | 0xABC
			pa, err := walker.Translate(sv32Root, va, vm.AccessLoad)

			Expect(err).NotTo(HaveOccurred())
			Expect(pa).To(Equal(uint64(0x12345ABC)))
		})
	})
})
