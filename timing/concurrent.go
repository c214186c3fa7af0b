package timing

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
)

// A ConcurrentEvent is an event that fans work out to worker goroutines
// while it executes. Wrap it with Concurrent to put it in a queue.
type ConcurrentEvent[S any, T Time[T]] interface {
	Execute(state S, h *ConcurrentHandle[S, T]) error
}

// ConcurrentEventFunc adapts a function into a ConcurrentEvent.
type ConcurrentEventFunc[S any, T Time[T]] func(state S, h *ConcurrentHandle[S, T]) error

// Execute calls f(state, h).
func (f ConcurrentEventFunc[S, T]) Execute(state S, h *ConcurrentHandle[S, T]) error {
	return f(state, h)
}

// Concurrent turns a ConcurrentEvent into an Event. When executed, the
// returned event hands the wrapped event a ConcurrentHandle, joins every
// worker the wrapped event spawned, and only then merges the events the
// workers produced into the queue, on the goroutine that runs the
// simulation.
//
// Merged events get sequence numbers in the order the workers delivered
// them. If workers produce events for the same time, their relative order
// therefore depends on which worker got there first. Workers that must be
// reproducible should avoid same-time events or finish in a fixed order.
func Concurrent[S any, T Time[T]](evt ConcurrentEvent[S, T]) Event[S, T] {
	if evt == nil {
		panic("timing: cannot wrap a nil concurrent event")
	}

	return concurrentEvent[S, T]{inner: evt}
}

type concurrentEvent[S any, T Time[T]] struct {
	inner ConcurrentEvent[S, T]
}

func (e concurrentEvent[S, T]) Execute(state S, h *Handle[S, T]) error {
	ch := newConcurrentHandle(h)

	err := e.inner.Execute(state, ch)
	mergeErr := ch.finish()

	return errors.Join(err, mergeErr)
}

// Unwrap returns the wrapped ConcurrentEvent.
func (e concurrentEvent[S, T]) Unwrap() any {
	return e.inner
}

// ConcurrentHandle is the handle given to a ConcurrentEvent. Besides what
// a Handle offers, it can spawn workers.
//
// Workers never see the state. Whatever data a worker needs must be handed
// to it explicitly, and must be copied or synchronized by the caller if the
// event keeps using it. The scheduling methods of the handle itself are
// safe to call from workers; they are serialized with the event and write
// straight to the queue, ahead of anything the workers deliver through
// their WorkerScheduler.
type ConcurrentHandle[S any, T Time[T]] struct {
	h *Handle[S, T]

	mu               sync.Mutex
	closed           bool
	stoppedAtClose   bool
	collectorStarted bool
	tokens           []*JoinToken

	workers       sync.WaitGroup
	produced      chan Seed[S, T]
	collected     []Seed[S, T]
	collectorDone chan struct{}

	sendLock   sync.RWMutex
	sendClosed bool
}

func newConcurrentHandle[S any, T Time[T]](h *Handle[S, T]) *ConcurrentHandle[S, T] {
	return &ConcurrentHandle[S, T]{
		h:             h,
		collectorDone: make(chan struct{}),
	}
}

// Now returns the time of the executing event.
func (c *ConcurrentHandle[S, T]) Now() T {
	return c.h.now
}

// Schedule queues evt at t. It fails with ErrHandleExpired once the event
// has returned.
func (c *ConcurrentHandle[S, T]) Schedule(t T, evt Event[S, T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrHandleExpired
	}

	return c.h.Schedule(t, evt)
}

// ScheduleNow queues evt at the current time.
func (c *ConcurrentHandle[S, T]) ScheduleNow(evt Event[S, T]) error {
	return c.Schedule(c.h.now, evt)
}

// ScheduleAfter queues evt delay after the current time.
func (c *ConcurrentHandle[S, T]) ScheduleAfter(delay T, evt Event[S, T]) error {
	return c.Schedule(c.h.now.Add(delay), evt)
}

// Stop ends the simulation once the event returns.
func (c *ConcurrentHandle[S, T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.h.Stop()
}

// Stopped reports whether Stop has been called.
func (c *ConcurrentHandle[S, T]) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.stoppedAtClose
	}

	return c.h.Stopped()
}

// A JoinToken tracks one spawned worker.
type JoinToken struct {
	done     chan struct{}
	err      error
	observed atomic.Bool
}

// Done is closed once the worker has returned.
func (t *JoinToken) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the worker returns and reports its error. An error
// observed here is not reported again when the concurrent event returns.
func (t *JoinToken) Wait() error {
	<-t.done
	t.observed.Store(true)

	return t.err
}

// Spawn starts work on a new goroutine. The work schedules future events
// through the WorkerScheduler it receives. Spawning after the concurrent
// event has returned does nothing and the token reports ErrHandleExpired.
func (c *ConcurrentHandle[S, T]) Spawn(
	work func(w *WorkerScheduler[S, T]) error,
) *JoinToken {
	token := &JoinToken{done: make(chan struct{})}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		token.err = ErrHandleExpired
		close(token.done)

		return token
	}

	c.startCollectorLocked()
	c.tokens = append(c.tokens, token)

	w := &WorkerScheduler[S, T]{now: c.h.now, owner: c}

	c.workers.Add(1)

	go func() {
		defer c.workers.Done()
		defer close(token.done)

		token.err = runWorker(work, w)
		w.expired.Store(true)
	}()

	return token
}

func runWorker[S any, T Time[T]](
	work func(w *WorkerScheduler[S, T]) error,
	w *WorkerScheduler[S, T],
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timing: worker panicked: %v", r)
		}
	}()

	return work(w)
}

func (c *ConcurrentHandle[S, T]) startCollectorLocked() {
	if c.collectorStarted {
		return
	}

	c.collectorStarted = true
	c.produced = make(chan Seed[S, T], runtime.GOMAXPROCS(0))

	go func() {
		defer close(c.collectorDone)

		for p := range c.produced {
			c.collected = append(c.collected, p)
		}
	}()
}

// Join blocks until every worker spawned so far has returned, and reports
// their errors. Events that do not call Join are joined automatically when
// they return.
func (c *ConcurrentHandle[S, T]) Join() error {
	c.mu.Lock()
	tokens := append([]*JoinToken(nil), c.tokens...)
	c.mu.Unlock()

	errs := make([]error, 0)
	for _, t := range tokens {
		if err := t.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// deliver hands a worker's event to the collector. Goroutines a worker left
// running may still call it after the merge, so the channel is only sent on
// while it is known to be open.
func (c *ConcurrentHandle[S, T]) deliver(p Seed[S, T]) error {
	c.sendLock.RLock()
	defer c.sendLock.RUnlock()

	if c.sendClosed {
		return ErrHandleExpired
	}

	c.produced <- p

	return nil
}

// finish joins the workers and merges what they produced into the queue.
// Worker errors nobody observed are returned.
func (c *ConcurrentHandle[S, T]) finish() error {
	// Workers may still schedule or spawn through the handle until they
	// are joined. Spawns that raced the close are picked up by the second
	// wait.
	c.workers.Wait()

	c.mu.Lock()
	c.closed = true
	c.stoppedAtClose = c.h.Stopped()
	started := c.collectorStarted
	tokens := c.tokens
	c.mu.Unlock()

	c.workers.Wait()

	errs := make([]error, 0)
	for _, t := range tokens {
		if !t.observed.Swap(true) && t.err != nil {
			errs = append(errs, t.err)
		}
	}

	if !started {
		return errors.Join(errs...)
	}

	c.sendLock.Lock()
	c.sendClosed = true
	close(c.produced)
	c.sendLock.Unlock()

	<-c.collectorDone

	for _, p := range c.collected {
		if err := c.h.sim.schedule(p.Time, p.Event); err != nil {
			errs = append(errs, err)
		}
	}

	c.collected = nil

	return errors.Join(errs...)
}

// A WorkerScheduler is the scheduling interface of a worker. It never
// touches the queue; it sends what it is given to the spawning event,
// which merges it once all workers are joined.
type WorkerScheduler[S any, T Time[T]] struct {
	now     T
	owner   *ConcurrentHandle[S, T]
	expired atomic.Bool
}

// Now returns the time of the event that spawned the worker.
func (w *WorkerScheduler[S, T]) Now() T {
	return w.now
}

// Schedule asks for evt to be queued at t.
func (w *WorkerScheduler[S, T]) Schedule(t T, evt Event[S, T]) error {
	if w.expired.Load() {
		return ErrHandleExpired
	}

	if evt == nil {
		panic("timing: cannot schedule a nil event")
	}

	if err := mustBeComparable(t); err != nil {
		return err
	}

	if t.Compare(w.now) < 0 {
		return fmt.Errorf("%w: evt %s @ %v, now %v",
			ErrPastScheduling, reflect.TypeOf(evt), t, w.now)
	}

	return w.owner.deliver(Seed[S, T]{Time: t, Event: evt})
}

// ScheduleNow asks for evt to be queued at the current time.
func (w *WorkerScheduler[S, T]) ScheduleNow(evt Event[S, T]) error {
	return w.Schedule(w.now, evt)
}

// ScheduleAfter asks for evt to be queued delay after the current time.
func (w *WorkerScheduler[S, T]) ScheduleAfter(delay T, evt Event[S, T]) error {
	return w.Schedule(w.now.Add(delay), evt)
}
