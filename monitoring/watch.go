package monitoring

import (
	"fmt"

	"github.com/sarchlab/desim/timing"
)

// Monitorable is a running simulation as the monitor sees it.
type Monitorable interface {
	// CurrentTime formats the simulation clock.
	CurrentTime() string

	// Pending returns the number of queued events.
	Pending() int

	Pause()
	Continue()
	Paused() bool

	// Inspect calls fn with the simulation state while no event executes.
	Inspect(fn func(state any))
}

// Watch adapts a timing.Simulation for the monitor.
func Watch[S any, T timing.Time[T]](sim *timing.Simulation[S, T]) Monitorable {
	return watched[S, T]{sim: sim}
}

type watched[S any, T timing.Time[T]] struct {
	sim *timing.Simulation[S, T]
}

func (w watched[S, T]) CurrentTime() string {
	return fmt.Sprint(w.sim.Now())
}

func (w watched[S, T]) Pending() int {
	return w.sim.Pending()
}

func (w watched[S, T]) Pause() {
	w.sim.Pause()
}

func (w watched[S, T]) Continue() {
	w.sim.Continue()
}

func (w watched[S, T]) Paused() bool {
	return w.sim.Paused()
}

func (w watched[S, T]) Inspect(fn func(state any)) {
	w.sim.Inspect(func(state S) { fn(state) })
}
