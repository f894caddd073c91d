package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("VAddr", func() {
	var c Config

	BeforeEach(func() {
		c = DefaultConfig()
	})

	It("should split an Sv39 address", func() {
		va := uint64(0b000000001_000000010_000000011)<<12 | 0x123

		v := Decompose(c, va)

		Expect(v.Offset).To(Equal(uint64(0x123)))
		Expect(v.Index).To(Equal([]uint64{3, 2, 1}))
	})

	It("should split an Sv32 address", func() {
		c = ConfigForMode(ModeSv32)
		va := uint64(0x3FF)<<22 | uint64(0x001)<<12 | 0xABC

		v := Decompose(c, va)

		Expect(v.Offset).To(Equal(uint64(0xABC)))
		Expect(v.Index).To(Equal([]uint64{0x001, 0x3FF}))
	})

	It("should reassemble the address", func() {
		for _, va := range []uint64{0, 0x1000, 0x7FFFFFF123, 0x12345678} {
			Expect(Decompose(c, va).Address(c)).To(Equal(va))
		}
	})

	It("should compute the index of a level", func() {
		vpn := uint64(0x1FF)<<18 | uint64(0x5)

		Expect(LevelIndex(c, vpn, 0)).To(Equal(uint64(5)))
		Expect(LevelIndex(c, vpn, 1)).To(Equal(uint64(0)))
		Expect(LevelIndex(c, vpn, 2)).To(Equal(uint64(0x1FF)))
	})

	It("should report the addressable pages", func() {
		Expect(MaxVPN(c)).To(Equal(uint64(1) << 27))
	})
})
