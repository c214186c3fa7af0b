package timing_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/desim/hooking"
	"github.com/sarchlab/desim/timing"
)

type counterState struct {
	count      int
	arrivals   int
	departures int
}

type (
	secHandle = timing.Handle[*counterState, timing.VTimeInSec]
)

type arrivalEvent struct {
	remaining int
}

func (e arrivalEvent) Execute(s *counterState, h *secHandle) error {
	s.count++
	s.arrivals++

	if err := h.ScheduleAfter(0.5, departureEvent{}); err != nil {
		return err
	}

	if e.remaining > 1 {
		return h.ScheduleAfter(1, arrivalEvent{remaining: e.remaining - 1})
	}

	return nil
}

type departureEvent struct{}

func (departureEvent) Execute(s *counterState, _ *secHandle) error {
	s.count--
	s.departures++

	return nil
}

type completingState struct {
	recordState
	doneAt timing.VTimeInCycle
}

func (s *completingState) IsComplete(now timing.VTimeInCycle) bool {
	return now >= s.doneAt
}

var _ = Describe("Simulation", func() {
	var (
		mockCtrl *gomock.Controller
		sim      *cycleSim
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sim = newCycleSim()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should return immediately when nothing is queued", func() {
		state, err := sim.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(state.executed).To(BeEmpty())
		Expect(sim.Now()).To(Equal(timing.VTimeInCycle(0)))
	})

	It("should execute events in time order", func() {
		Expect(sim.Schedule(4, tagEvent{tag: "evt1"})).To(Succeed())
		Expect(sim.Schedule(2, cycleEventFn(func(s *recordState, h *cycleHandle) error {
			s.executed = append(s.executed, "evt2")
			Expect(h.Schedule(3, tagEvent{tag: "evt3"})).To(Succeed())
			return h.Schedule(5, tagEvent{tag: "evt4"})
		}))).To(Succeed())

		state, err := sim.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(state.executed).To(Equal([]string{"evt2", "evt3", "evt1", "evt4"}))
		Expect(sim.Now()).To(Equal(timing.VTimeInCycle(5)))
	})

	It("should keep the clock monotonic", func() {
		var chain cycleEventFn
		chain = func(s *recordState, h *cycleHandle) error {
			s.times = append(s.times, h.Now())
			if len(s.times) < 50 {
				Expect(h.ScheduleAfter(timing.VTimeInCycle(len(s.times)%3), chain)).To(Succeed())
				Expect(h.ScheduleNow(tagEvent{tag: "now"})).To(Succeed())
			}
			return nil
		}
		Expect(sim.Schedule(1, chain)).To(Succeed())

		state, err := sim.Run()

		Expect(err).NotTo(HaveOccurred())
		for i := 1; i < len(state.times); i++ {
			Expect(state.times[i]).To(BeNumerically(">=", state.times[i-1]))
		}
	})

	It("should reject scheduling in the past without touching the queue", func() {
		var scheduleErr error
		Expect(sim.Schedule(10, cycleEventFn(func(_ *recordState, h *cycleHandle) error {
			scheduleErr = h.Schedule(9, tagEvent{tag: "past"})
			return nil
		}))).To(Succeed())
		Expect(sim.Schedule(20, tagEvent{tag: "later"})).To(Succeed())

		hook := NewMockHook(mockCtrl)
		hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
			if ctx.Pos == timing.HookPosAfterEvent && sim.Now() == 10 {
				Expect(sim.Pending()).To(Equal(1))
			}
		}).AnyTimes()
		sim.AcceptHook(hook)

		state, err := sim.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(scheduleErr).To(MatchError(timing.ErrPastScheduling))
		Expect(state.executed).To(Equal([]string{"later"}))
	})

	It("should reject seeds earlier than the start time", func() {
		_, err := timing.NewSimulation(
			timing.VTimeInCycle(5),
			&recordState{},
			timing.Seed[*recordState, timing.VTimeInCycle]{Time: 4, Event: tagEvent{}},
		)

		Expect(err).To(MatchError(timing.ErrPastScheduling))
	})

	It("should reject NaN seeds", func() {
		_, err := timing.NewSimulation(
			timing.VTimeInSec(0),
			&counterState{},
			timing.Seed[*counterState, timing.VTimeInSec]{
				Time:  timing.VTimeInSec(math.NaN()),
				Event: departureEvent{},
			},
		)

		Expect(err).To(MatchError(timing.ErrNotComparable))
	})

	It("should stop idempotently and discard the rest of the queue", func() {
		Expect(sim.Schedule(1, cycleEventFn(func(s *recordState, h *cycleHandle) error {
			s.executed = append(s.executed, "stopper")
			h.Stop()
			h.Stop()
			Expect(h.Stopped()).To(BeTrue())
			return h.ScheduleNow(tagEvent{tag: "housekeeping"})
		}))).To(Succeed())
		Expect(sim.Schedule(2, tagEvent{tag: "never"})).To(Succeed())

		state, err := sim.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(state.executed).To(Equal([]string{"stopper"}))
		Expect(sim.Pending()).To(Equal(0))
		Expect(sim.Stopped()).To(BeTrue())

		state, err = sim.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(state.executed).To(Equal([]string{"stopper"}))
	})

	It("should halt on event errors", func() {
		boom := errors.New("boom")
		Expect(sim.Schedule(1, tagEvent{tag: "ok"})).To(Succeed())
		Expect(sim.Schedule(2, cycleEventFn(func(*recordState, *cycleHandle) error {
			return boom
		}))).To(Succeed())
		Expect(sim.Schedule(3, tagEvent{tag: "never"})).To(Succeed())

		state, err := sim.Run()

		Expect(state).To(BeNil())
		Expect(err).To(MatchError(boom))
		Expect(err).To(MatchError(timing.ErrEventExecutionFailed))

		var execErr *timing.ExecutionError
		Expect(errors.As(err, &execErr)).To(BeTrue())
		Expect(execErr.Time).To(Equal(timing.VTimeInCycle(2)))
		Expect(execErr.Seq).To(Equal(uint64(1)))
		Expect(sim.State().executed).To(Equal([]string{"ok"}))

		_, err = sim.Run()
		Expect(err).To(MatchError(timing.ErrSimulationFailed))
		Expect(err).To(MatchError(boom))
	})

	It("should expire handles once the event returns", func() {
		var kept *cycleHandle
		Expect(sim.Schedule(1, cycleEventFn(func(_ *recordState, h *cycleHandle) error {
			kept = h
			return nil
		}))).To(Succeed())

		_, err := sim.Run()
		Expect(err).NotTo(HaveOccurred())

		Expect(kept.Schedule(5, tagEvent{})).To(MatchError(timing.ErrHandleExpired))
		kept.Stop()
		Expect(sim.Stopped()).To(BeFalse())
	})

	It("should end when the state reports completion", func() {
		state := &completingState{doneAt: 3}
		s, err := timing.NewSimulation[*completingState, timing.VTimeInCycle](0, state)
		Expect(err).NotTo(HaveOccurred())

		for i := 1; i <= 5; i++ {
			t := timing.VTimeInCycle(i)
			Expect(s.Schedule(t, timing.EventFunc[*completingState, timing.VTimeInCycle](
				func(st *completingState, h *timing.Handle[*completingState, timing.VTimeInCycle]) error {
					st.times = append(st.times, h.Now())
					return nil
				}))).To(Succeed())
		}

		final, err := s.Run()

		Expect(err).NotTo(HaveOccurred())
		Expect(final.times).To(Equal([]timing.VTimeInCycle{1, 2, 3}))
		Expect(s.Pending()).To(Equal(2))
	})

	It("should invoke hooks around each event", func() {
		hook := NewMockHook(mockCtrl)
		Expect(sim.Schedule(1, tagEvent{tag: "a"})).To(Succeed())

		gomock.InOrder(
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
				Expect(ctx.Pos).To(Equal(timing.HookPosBeforeEvent))
				evt := ctx.Item.(timing.ScheduledEvent[*recordState, timing.VTimeInCycle])
				Expect(evt.Time).To(Equal(timing.VTimeInCycle(1)))
				Expect(ctx.Domain).To(BeIdenticalTo(sim))
			}),
			hook.EXPECT().Func(gomock.Any()).Do(func(ctx hooking.HookCtx) {
				Expect(ctx.Pos).To(Equal(timing.HookPosAfterEvent))
				Expect(ctx.Detail).To(BeNil())
			}),
		)
		sim.AcceptHook(hook)

		_, err := sim.Run()
		Expect(err).NotTo(HaveOccurred())
	})

	It("should pause and continue", func() {
		Expect(sim.Schedule(1, tagEvent{tag: "a"})).To(Succeed())
		sim.Pause()
		sim.Pause()

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)

			state, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(state.executed).To(Equal([]string{"a"}))
		}()

		Consistently(done).ShouldNot(BeClosed())
		sim.Continue()
		sim.Continue()
		Eventually(done).Should(BeClosed())
	})

	It("should describe itself", func() {
		Expect(sim.Schedule(3, tagEvent{})).To(Succeed())
		Expect(sim.String()).To(Equal("Simulation at time 0 with 1 pending events"))
	})

	Context("with a time cutoff", func() {
		var secSim *timing.Simulation[*counterState, timing.VTimeInSec]

		BeforeEach(func() {
			var err error
			secSim, err = timing.MakeBuilder[*counterState, timing.VTimeInSec]().
				WithState(&counterState{}).
				WithSeed(0, arrivalEvent{remaining: 5}).
				Build()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should only count what happened strictly before the cutoff", func() {
			state, err := secSim.RunUntil(4)

			Expect(err).NotTo(HaveOccurred())
			Expect(state.arrivals).To(Equal(4))
			Expect(state.departures).To(Equal(4))
			Expect(state.count).To(Equal(0))
			Expect(secSim.Now()).To(Equal(timing.VTimeInSec(3.5)))
			Expect(secSim.Pending()).To(Equal(1))
		})

		It("should resume after a cutoff", func() {
			_, err := secSim.RunUntil(4)
			Expect(err).NotTo(HaveOccurred())

			state, err := secSim.RunUntil(4.25)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.count).To(Equal(1))

			state, err = secSim.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(state.arrivals).To(Equal(5))
			Expect(state.departures).To(Equal(5))
			Expect(state.count).To(Equal(0))
		})

		It("should reject a NaN cutoff", func() {
			_, err := secSim.RunUntil(timing.VTimeInSec(math.NaN()))
			Expect(err).To(MatchError(timing.ErrNotComparable))
		})
	})
})
