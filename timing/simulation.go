// Package timing is the scheduler core of desim. A Simulation owns a clock,
// a queue of future events and a user-defined state, and executes the
// events one at a time in ascending (time, sequence) order.
package timing

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/desim/hooking"
	"github.com/sirupsen/logrus"
)

// HookPosBeforeEvent is a hook position that triggers before handling an event.
// The hook item is the ScheduledEvent about to run.
var HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent is a hook position that triggers after handling an event.
// The hook detail is the error returned by the event, if any.
var HookPosAfterEvent = &hooking.HookPos{Name: "AfterEvent"}

// A Simulation drives events against a state of type S using a clock of
// type T.
//
// Only one goroutine may run a Simulation. Schedule, Seed and State are for
// use before or between runs; during a run events schedule through the
// Handle they are given. Now, Pending, Pause and Continue are safe to call
// from other goroutines, which is what the monitor does.
type Simulation[S any, T Time[T]] struct {
	*hooking.HookableBase

	logger logrus.FieldLogger

	timeLock sync.RWMutex
	now      T

	queue   *EventQueue[S, T]
	pending atomic.Int64

	state   S
	stopped bool
	failure error

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex
}

// NewSimulation creates a Simulation whose clock starts at start and that
// owns state. The seed events are queued in order; any seed earlier than
// start fails with ErrPastScheduling.
func NewSimulation[S any, T Time[T]](
	start T,
	state S,
	seeds ...Seed[S, T],
) (*Simulation[S, T], error) {
	return MakeBuilder[S, T]().
		WithStartTime(start).
		WithState(state).
		WithSeeds(seeds...).
		Build()
}

// Schedule queues evt at t from outside a run.
func (s *Simulation[S, T]) Schedule(t T, evt Event[S, T]) error {
	return s.schedule(t, evt)
}

// ScheduleNow queues evt at the current time from outside a run.
func (s *Simulation[S, T]) ScheduleNow(evt Event[S, T]) error {
	return s.schedule(s.readNow(), evt)
}

// ScheduleAfter queues evt delay after the current time from outside a run.
func (s *Simulation[S, T]) ScheduleAfter(delay T, evt Event[S, T]) error {
	return s.schedule(s.readNow().Add(delay), evt)
}

func (s *Simulation[S, T]) schedule(t T, evt Event[S, T]) error {
	if err := mustBeComparable(t); err != nil {
		return err
	}

	now := s.readNow()
	if t.Compare(now) < 0 {
		return fmt.Errorf("%w: evt %s @ %v, now %v",
			ErrPastScheduling, reflect.TypeOf(evt), t, now)
	}

	if _, err := s.queue.Push(t, evt); err != nil {
		return err
	}

	s.pending.Add(1)

	return nil
}

func (s *Simulation[S, T]) readNow() T {
	s.timeLock.RLock()
	t := s.now
	s.timeLock.RUnlock()

	return t
}

func (s *Simulation[S, T]) writeNow(t T) {
	s.timeLock.Lock()
	s.now = t
	s.timeLock.Unlock()
}

// Now returns the time of the most recently executed event, or the start
// time if nothing has run yet.
func (s *Simulation[S, T]) Now() T {
	return s.readNow()
}

// Pending returns the number of queued events.
func (s *Simulation[S, T]) Pending() int {
	return int(s.pending.Load())
}

// State returns the state. It must not be called while Run is executing.
func (s *Simulation[S, T]) State() S {
	return s.state
}

// Stopped reports whether an event has called Stop.
func (s *Simulation[S, T]) Stopped() bool {
	return s.stopped
}

// Run executes events until the queue drains, an event calls Stop, the state
// reports completion or an event fails. It returns the final state on
// success. On failure the state is not returned and the simulation cannot
// be run again.
func (s *Simulation[S, T]) Run() (S, error) {
	return s.run(nil)
}

// RunUntil is Run with a cutoff: the run ends before the first event whose
// time is not earlier than maxTime. That event stays queued, so a later
// RunUntil with a larger cutoff picks up where this one ended.
func (s *Simulation[S, T]) RunUntil(maxTime T) (S, error) {
	if err := mustBeComparable(maxTime); err != nil {
		var zero S
		return zero, err
	}

	return s.run(&maxTime)
}

func (s *Simulation[S, T]) run(maxTime *T) (S, error) {
	s.singleRunLock.Lock()
	defer s.singleRunLock.Unlock()

	var zero S

	if s.failure != nil {
		return zero, fmt.Errorf("%w: %w", ErrSimulationFailed, s.failure)
	}

	for {
		done, err := s.step(maxTime)
		if err != nil {
			return zero, err
		}

		if done {
			return s.state, nil
		}
	}
}

func (s *Simulation[S, T]) step(maxTime *T) (done bool, err error) {
	s.pauseLock.Lock()
	defer s.pauseLock.Unlock()

	if s.stopped {
		s.discardQueue()
		return true, nil
	}

	now := s.readNow()
	if c, ok := any(s.state).(Completer[T]); ok && c.IsComplete(now) {
		s.logger.WithField("time", now).Debug("simulation state reports completion")
		return true, nil
	}

	next, ok := s.queue.Peek()
	if !ok {
		s.logger.WithField("time", now).Debug("event queue drained")
		return true, nil
	}

	if maxTime != nil && next.Time.Compare(*maxTime) >= 0 {
		s.logger.WithFields(logrus.Fields{
			"time":    now,
			"cutoff":  *maxTime,
			"pending": s.Pending(),
		}).Debug("simulation reached cutoff time")

		return true, nil
	}

	evt, _ := s.queue.Pop()
	s.pending.Add(-1)

	if evt.Time.Compare(now) < 0 {
		panic(fmt.Sprintf(
			"timing: cannot run event in the past, evt %s @ %v, now %v",
			reflect.TypeOf(evt.Event), evt.Time, now,
		))
	}

	s.writeNow(evt.Time)

	if err := s.execute(evt); err != nil {
		return true, err
	}

	if s.stopped {
		s.logger.WithFields(logrus.Fields{
			"time":      evt.Time,
			"discarded": s.Pending(),
		}).Debug("simulation stopped by event")

		s.discardQueue()

		return true, nil
	}

	return false, nil
}

func (s *Simulation[S, T]) execute(evt ScheduledEvent[S, T]) error {
	h := &Handle[S, T]{sim: s, now: evt.Time}

	hookCtx := hooking.HookCtx{
		Domain: s,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	s.InvokeHook(hookCtx)

	err := evt.Event.Execute(s.state, h)
	h.expired = true

	hookCtx.Pos = HookPosAfterEvent
	hookCtx.Detail = err
	s.InvokeHook(hookCtx)

	if err == nil {
		return nil
	}

	s.failure = &ExecutionError{
		Time:  evt.Time,
		Seq:   evt.Seq,
		Event: evt.Event,
		Err:   err,
	}

	s.logger.WithFields(logrus.Fields{
		"time":  evt.Time,
		"seq":   evt.Seq,
		"event": reflect.TypeOf(evt.Event).String(),
	}).WithError(err).Error("event execution failed, halting simulation")

	s.discardQueue()

	return s.failure
}

func (s *Simulation[S, T]) discardQueue() {
	s.queue.Clear()
	s.pending.Store(0)
}

// Pause blocks the simulation from executing more events until Continue is
// called. An event already executing finishes first. Pause must not be
// called from inside an event.
func (s *Simulation[S, T]) Pause() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if s.isPaused {
		return
	}

	s.pauseLock.Lock()
	s.isPaused = true
}

// Continue allows a paused simulation to execute events again.
func (s *Simulation[S, T]) Continue() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if !s.isPaused {
		return
	}

	s.pauseLock.Unlock()
	s.isPaused = false
}

// Paused reports whether Pause is in effect.
func (s *Simulation[S, T]) Paused() bool {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	return s.isPaused
}

// Inspect calls fn with the state at a point where no event is executing.
// A running simulation is held between two events while fn runs. Inspect
// must not be called from inside an event.
func (s *Simulation[S, T]) Inspect(fn func(state S)) {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if !s.isPaused {
		s.pauseLock.Lock()
		defer s.pauseLock.Unlock()
	}

	fn(s.state)
}

// String describes the simulation clock and queue.
func (s *Simulation[S, T]) String() string {
	return fmt.Sprintf("Simulation at time %v with %d pending events",
		s.readNow(), s.Pending())
}
