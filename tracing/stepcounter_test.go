package tracing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/desim/tracing"
)

var _ = Describe("StepCounter", func() {
	It("should count events by kind", func() {
		counter := tracing.NewStepCounter()
		sim := newPingSim(true, counter)

		_, err := sim.Run()
		Expect(err).To(HaveOccurred())

		Expect(counter.Kinds()).To(Equal([]string{
			"tracing_test.brokenEvent",
			"tracing_test.pingEvent",
			"tracing_test.pongEvent",
		}))
		Expect(counter.Count("tracing_test.pingEvent")).To(Equal(uint64(2)))
		Expect(counter.Count("tracing_test.pongEvent")).To(Equal(uint64(2)))
		Expect(counter.Total()).To(Equal(uint64(5)))
		Expect(counter.Failures()).To(Equal(uint64(1)))
	})

	It("should be shareable between simulations", func() {
		counter := tracing.NewStepCounter()

		done := make(chan struct{})
		for i := 0; i < 4; i++ {
			go func() {
				defer GinkgoRecover()
				defer func() { done <- struct{}{} }()

				_, err := newPingSim(false, counter).Run()
				Expect(err).NotTo(HaveOccurred())
			}()
		}

		for i := 0; i < 4; i++ {
			Eventually(done).Should(Receive())
		}

		Expect(counter.Total()).To(Equal(uint64(16)))
	})
})
