package timing_test

import (
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/desim/timing"
)

var _ = Describe("EventQueue", func() {
	var queue *cycleQueue

	BeforeEach(func() {
		queue = timing.NewEventQueue[*recordState, timing.VTimeInCycle]()
	})

	It("should report empty", func() {
		_, ok := queue.Pop()
		Expect(ok).To(BeFalse())

		_, ok = queue.PeekTime()
		Expect(ok).To(BeFalse())
		Expect(queue.Len()).To(Equal(0))
	})

	It("should break time ties by push order", func() {
		for i, t := range []timing.VTimeInCycle{3, 1, 3} {
			seq, err := queue.Push(t, tagEvent{tag: string(rune('a' + i))})
			Expect(err).NotTo(HaveOccurred())
			Expect(seq).To(Equal(uint64(i)))
		}

		popped := make([]string, 0)
		times := make([]timing.VTimeInCycle, 0)
		for queue.Len() > 0 {
			evt, ok := queue.Pop()
			Expect(ok).To(BeTrue())
			popped = append(popped, evt.Event.(tagEvent).tag)
			times = append(times, evt.Time)
		}

		Expect(popped).To(Equal([]string{"b", "a", "c"}))
		Expect(times).To(Equal([]timing.VTimeInCycle{1, 3, 3}))
	})

	It("should pop in order", func() {
		numEvents := 1000
		for i := 0; i < numEvents; i++ {
			_, err := queue.Push(timing.VTimeInCycle(rand.Intn(50)), tagEvent{})
			Expect(err).NotTo(HaveOccurred())
		}

		prev, _ := queue.Pop()
		for queue.Len() > 0 {
			evt, _ := queue.Pop()
			c := prev.Time.Compare(evt.Time)
			Expect(c <= 0).To(BeTrue())
			if c == 0 {
				Expect(prev.Seq).To(BeNumerically("<", evt.Seq))
			}
			prev = evt
		}
	})

	It("should peek without removing", func() {
		_, _ = queue.Push(7, tagEvent{tag: "x"})
		_, _ = queue.Push(2, tagEvent{tag: "y"})

		t, ok := queue.PeekTime()
		Expect(ok).To(BeTrue())
		Expect(t).To(Equal(timing.VTimeInCycle(2)))
		Expect(queue.Len()).To(Equal(2))
	})

	It("should never reuse sequence numbers", func() {
		_, _ = queue.Push(1, tagEvent{})
		_, _ = queue.Push(1, tagEvent{})
		queue.Clear()
		Expect(queue.Len()).To(Equal(0))

		seq, err := queue.Push(1, tagEvent{})
		Expect(err).NotTo(HaveOccurred())
		Expect(seq).To(Equal(uint64(2)))
	})

	It("should reject NaN times", func() {
		q := timing.NewEventQueue[*recordState, timing.VTimeInSec]()
		evt := timing.EventFunc[*recordState, timing.VTimeInSec](
			func(*recordState, *timing.Handle[*recordState, timing.VTimeInSec]) error {
				return nil
			})

		_, err := q.Push(timing.VTimeInSec(math.NaN()), evt)
		Expect(err).To(MatchError(timing.ErrNotComparable))
		Expect(q.Len()).To(Equal(0))
	})

	It("should panic on nil events", func() {
		Expect(func() { _, _ = queue.Push(1, nil) }).To(Panic())
	})
})
