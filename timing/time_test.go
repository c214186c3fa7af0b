package timing_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/desim/timing"
)

var _ = Describe("VTimeInSec", func() {
	It("should reject NaN", func() {
		_, err := timing.NewVTimeInSec(math.NaN())
		Expect(err).To(MatchError(timing.ErrNotComparable))
	})

	It("should accept infinities", func() {
		t, err := timing.NewVTimeInSec(math.Inf(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Compare(timing.VTimeInSec(1e300))).To(Equal(1))
	})

	It("should panic in MustVTimeInSec on NaN", func() {
		Expect(func() { timing.MustVTimeInSec(math.NaN()) }).To(Panic())
	})

	It("should report comparability", func() {
		Expect(timing.VTimeInSec(1.5).Comparable()).To(BeTrue())
		Expect(timing.VTimeInSec(math.NaN()).Comparable()).To(BeFalse())
	})

	It("should order and add", func() {
		a := timing.VTimeInSec(0.5)
		b := a.Add(0.25)

		Expect(b.Seconds()).To(Equal(0.75))
		Expect(a.Compare(b)).To(Equal(-1))
		Expect(b.Compare(a)).To(Equal(1))
		Expect(a.Compare(a)).To(Equal(0))
	})
})

var _ = Describe("VTimeInCycle", func() {
	It("should order and add", func() {
		a := timing.VTimeInCycle(3)

		Expect(a.Add(2)).To(Equal(timing.VTimeInCycle(5)))
		Expect(a.Compare(5)).To(Equal(-1))
		Expect(a.Compare(1)).To(Equal(1))
		Expect(a.Compare(3)).To(Equal(0))
	})
})
