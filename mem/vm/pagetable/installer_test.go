package pagetable

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/allocator"
	"github.com/sarchlab/vortexvm/memory"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Installer", func() {
	var (
		cfg       vm.Config
		storage   *memory.Storage
		nodes     *allocator.Allocator
		installer *Installer
		walker    *Walker
		root      uint64
	)

	newNodes := func(numPages uint64) {
		var err error
		nodes, err = allocator.New(cfg.PageTableBaseAddr,
			numPages*cfg.PageSize(), cfg.PageSize())
		Expect(err).NotTo(HaveOccurred())
		installer = NewInstaller(cfg, storage, nodes)
	}

	BeforeEach(func() {
		cfg = vm.DefaultConfig()
		storage = memory.NewStorage(cfg.GlobalMemSize)
		storage.SetFillPattern(0xbaadf00d)
		walker = NewWalker(cfg, storage)
		newNodes(16)

		var err error
		root, err = installer.AllocateNode()
		Expect(err).NotTo(HaveOccurred())
	})

	It("should allocate a zeroed root", func() {
		Expect(root).To(Equal(uint64(0x1F0000)))

		data, err := storage.Read(root<<12, cfg.PageSize())
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal(make([]byte, cfg.PageSize())))
	})

	It("should build the missing levels and write the leaf", func() {
		vpn := vaOf(1, 2, 3, 0) >> 12

		res, err := installer.Install(root, 0x20000, vpn, vm.FlagsRW)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.NewNodes).To(Equal([]uint64{0x1F0001000, 0x1F0002000}))
		Expect(res.Replaced).To(BeFalse())

		pa, err := walker.Translate(root, vpn<<12|0x123, vm.AccessLoad)
		Expect(err).NotTo(HaveOccurred())
		Expect(pa).To(Equal(uint64(0x20000123)))
	})

	It("should reuse existing tables", func() {
		vpn := vaOf(1, 2, 3, 0) >> 12
		_, err := installer.Install(root, 0x20000, vpn, vm.FlagsRW)
		Expect(err).NotTo(HaveOccurred())

		res, err := installer.Install(root, 0x20001, vpn+1, vm.FlagsRW)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.NewNodes).To(BeEmpty())

		res, err = installer.Install(root, 0x20002, vaOf(1, 3, 0, 0)>>12,
			vm.FlagsRW)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.NewNodes).To(HaveLen(1))

		Expect(nodes.Allocated()).To(Equal(4 * cfg.PageSize()))
	})

	It("should refuse to remap a virtual page to another physical page", func() {
		vpn := uint64(0x42)
		_, err := installer.Install(root, 0x20000, vpn, vm.FlagsRW)
		Expect(err).NotTo(HaveOccurred())

		_, err = installer.Install(root, 0x30000, vpn, vm.FlagsRW)

		Expect(err).To(MatchError(ErrMappingConflict))
		pa, err := walker.Translate(root, vpn<<12, vm.AccessLoad)
		Expect(err).NotTo(HaveOccurred())
		Expect(pa).To(Equal(uint64(0x20000000)))
	})

	It("should overwrite the flags of the same mapping", func() {
		vpn := uint64(0x42)
		_, err := installer.Install(root, 0x20000, vpn, vm.FlagsRW)
		Expect(err).NotTo(HaveOccurred())

		res, err := installer.Install(root, 0x20000, vpn, vm.FlagsRX)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Replaced).To(BeTrue())

		_, err = walker.Translate(root, vpn<<12, vm.AccessStore)
		Expect(err).To(MatchError(&vm.PageFault{Kind: vm.FaultPermission}))
		_, err = walker.Translate(root, vpn<<12, vm.AccessFetch)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should refuse to map inside a superpage", func() {
		l1, err := installer.AllocateNode()
		Expect(err).NotTo(HaveOccurred())
		Expect(storage.Write(root<<12,
			vm.EncodePTE(vm.MakeForwardingPTE(l1), 8))).To(Succeed())
		Expect(storage.Write(l1<<12,
			vm.EncodePTE(vm.MakePTE(0x40000, vm.FlagValid|vm.FlagRead), 8))).
			To(Succeed())

		_, err = installer.Install(root, 0x20000, 0x5, vm.FlagsRW)

		Expect(err).To(MatchError(ErrMappingConflict))
	})

	DescribeTable("should reject flags that cannot form a leaf",
		func(flags vm.Flags) {
			_, err := installer.Install(root, 0x20000, 0x1, flags)

			Expect(err).To(MatchError(ErrInvalidLeafFlags))
			Expect(nodes.Allocated()).To(Equal(cfg.PageSize()))
		},
		Entry("no permission", vm.FlagValid),
		Entry("write without read", vm.FlagWrite),
	)

	It("should reject virtual pages beyond the table", func() {
		_, err := installer.Install(root, 0x20000, vm.MaxVPN(cfg), vm.FlagsRW)

		Expect(err).To(MatchError(ErrVPNOutOfRange))
	})

	It("should reject physical pages an entry cannot hold", func() {
		res, err := installer.Install(root, vm.MaxPPN(cfg), 0x1, vm.FlagsRW)

		Expect(err).To(MatchError(ErrPPNOutOfRange))
		Expect(res.NewNodes).To(BeEmpty())
		Expect(nodes.Allocated()).To(Equal(cfg.PageSize()))
	})

	It("should refuse to build on uninitialized memory", func() {
		_, err := installer.Install(0x1F0100, 0x20000, 0x1, vm.FlagsRW)

		Expect(err).To(MatchError(ErrUninitializedTable))
	})

	It("should report allocation failures without rolling back", func() {
		newNodes(2)
		root, _ = installer.AllocateNode()

		res, err := installer.Install(root, 0x20000, vaOf(1, 2, 3, 0)>>12,
			vm.FlagsRW)

		Expect(err).To(MatchError(allocator.ErrOutOfMemory))
		Expect(res.NewNodes).To(HaveLen(1))

		_, err = walker.Translate(root, vaOf(1, 2, 3, 0), vm.AccessLoad)
		Expect(err).To(MatchError(&vm.PageFault{Kind: vm.FaultInvalidEntry}))
	})

	It("should write through enforced access control", func() {
		Expect(storage.Reserve(cfg.PageTableBaseAddr, cfg.PTSizeLimit,
			memory.PermRead)).To(Succeed())
		storage.SetAccessControlEnforced(true)

		_, err := installer.Install(root, 0x20000, 0x7, vm.FlagsRW)

		Expect(err).NotTo(HaveOccurred())
		Expect(storage.AccessControlEnforced()).To(BeTrue())
		Expect(storage.Write(root<<12, []byte{1})).
			To(MatchError(memory.ErrAccessViolation))
	})

	Context("with a mocked RAM", func() {
		var (
			mockCtrl *gomock.Controller
			ram      *MockRAM
			alloc    *MockNodeAllocator
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			ram = NewMockRAM(mockCtrl)
			alloc = NewMockNodeAllocator(mockCtrl)
			installer = NewInstaller(cfg, ram, alloc)
		})

		It("should disable access control only around the zeroing", func() {
			alloc.EXPECT().Allocate(uint64(4096)).Return(uint64(0x1F0005000), nil)
			gomock.InOrder(
				ram.EXPECT().SetAccessControlEnforced(false),
				ram.EXPECT().Write(uint64(0x1F0005000), make([]byte, 4096)),
				ram.EXPECT().SetAccessControlEnforced(true),
			)

			ppn, err := installer.AllocateNode()

			Expect(err).NotTo(HaveOccurred())
			Expect(ppn).To(Equal(uint64(0x1F0005)))
		})

		It("should restore access control when a write fails", func() {
			writeErr := errors.New("write failed")
			alloc.EXPECT().Allocate(uint64(4096)).Return(uint64(0x1F0005000), nil)
			gomock.InOrder(
				ram.EXPECT().SetAccessControlEnforced(false),
				ram.EXPECT().Write(gomock.Any(), gomock.Any()).Return(writeErr),
				ram.EXPECT().SetAccessControlEnforced(true),
			)

			_, err := installer.AllocateNode()

			Expect(err).To(MatchError(writeErr))
		})

		It("should write the leaf with access control disabled", func() {
			ram.EXPECT().
				Read(gomock.Any(), uint64(8)).
				Return(vm.EncodePTE(vm.MakeForwardingPTE(0x1F0001), 8), nil).
				Times(2)
			ram.EXPECT().
				Read(uint64(0x1F0001000+3*8), uint64(8)).
				Return(make([]byte, 8), nil)
			gomock.InOrder(
				ram.EXPECT().SetAccessControlEnforced(false),
				ram.EXPECT().Write(uint64(0x1F0001000+3*8),
					vm.EncodePTE(vm.MakePTE(0x20000,
						vm.FlagValid|vm.FlagsRW), 8)),
				ram.EXPECT().SetAccessControlEnforced(true),
			)

			_, err := installer.Install(root, 0x20000, 0x3, vm.FlagsRW)

			Expect(err).NotTo(HaveOccurred())
		})
	})
})
