package timing

import "reflect"

// An Event is a unit of work bound to a time. Events of any number of
// concrete types share one queue.
//
// Execute receives the simulation state exclusively for the duration of the
// call. It must not keep the state or the handle after it returns. Returning
// a non-nil error halts the simulation.
type Event[S any, T Time[T]] interface {
	Execute(state S, h *Handle[S, T]) error
}

// EventFunc adapts a function into an Event.
type EventFunc[S any, T Time[T]] func(state S, h *Handle[S, T]) error

// Execute calls f(state, h).
func (f EventFunc[S, T]) Execute(state S, h *Handle[S, T]) error {
	return f(state, h)
}

// ScheduledEvent is an event together with the position the queue gave it.
// Seq is assigned at insertion and only breaks ties between equal times.
type ScheduledEvent[S any, T Time[T]] struct {
	Time  T
	Seq   uint64
	Event Event[S, T]
}

// When returns the time of the event.
func (e ScheduledEvent[S, T]) When() any {
	return e.Time
}

// Sequence returns the insertion sequence number.
func (e ScheduledEvent[S, T]) Sequence() uint64 {
	return e.Seq
}

// Kind names the concrete type of the event. Wrapped events are named by
// what they wrap.
func (e ScheduledEvent[S, T]) Kind() string {
	var evt any = e.Event
	if u, ok := evt.(interface{ Unwrap() any }); ok {
		evt = u.Unwrap()
	}

	return reflect.TypeOf(evt).String()
}

// EventInfo is what hooks can learn about an event without knowing the
// state and time types of the simulation. The Item of every event hook
// implements it.
type EventInfo interface {
	When() any
	Sequence() uint64
	Kind() string
}

// A Completer is a state that can end the simulation on its own. The driver
// asks it before popping every event.
type Completer[T any] interface {
	IsComplete(now T) bool
}

// Seed is an event scheduled before the simulation starts.
type Seed[S any, T Time[T]] struct {
	Time  T
	Event Event[S, T]
}

var _ EventInfo = ScheduledEvent[any, VTimeInCycle]{}
