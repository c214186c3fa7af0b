package timing

// A Handle is what an executing event uses to talk back to the simulation.
// The driver creates one for every execution and invalidates it as soon as
// the event returns.
type Handle[S any, T Time[T]] struct {
	sim     *Simulation[S, T]
	now     T
	expired bool
}

// Now returns the time of the executing event.
func (h *Handle[S, T]) Now() T {
	return h.now
}

// Schedule queues evt at t. It fails with ErrPastScheduling if t is earlier
// than Now, in which case the queue is left untouched.
func (h *Handle[S, T]) Schedule(t T, evt Event[S, T]) error {
	if h.expired {
		return ErrHandleExpired
	}

	return h.sim.schedule(t, evt)
}

// ScheduleNow queues evt at the current time. It runs after every event
// already queued for the same time.
func (h *Handle[S, T]) ScheduleNow(evt Event[S, T]) error {
	return h.Schedule(h.now, evt)
}

// ScheduleAfter queues evt delay after the current time.
func (h *Handle[S, T]) ScheduleAfter(delay T, evt Event[S, T]) error {
	return h.Schedule(h.now.Add(delay), evt)
}

// Stop ends the simulation once the executing event returns. Calling it
// more than once has no further effect, and events may still be scheduled
// afterwards even though they will never run.
func (h *Handle[S, T]) Stop() {
	if h.expired {
		return
	}

	h.sim.stopped = true
}

// Stopped reports whether Stop has been called.
func (h *Handle[S, T]) Stopped() bool {
	return h.sim.stopped
}
