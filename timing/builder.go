package timing

import (
	"github.com/sarchlab/desim/hooking"
	"github.com/sirupsen/logrus"
)

// Builder configures a Simulation.
type Builder[S any, T Time[T]] struct {
	start  T
	state  S
	seeds  []Seed[S, T]
	hooks  []hooking.Hook
	logger logrus.FieldLogger
}

// MakeBuilder creates a Builder whose clock starts at the zero value of T.
func MakeBuilder[S any, T Time[T]]() Builder[S, T] {
	return Builder[S, T]{
		logger: logrus.StandardLogger(),
	}
}

// WithStartTime sets the initial clock value.
func (b Builder[S, T]) WithStartTime(t T) Builder[S, T] {
	b.start = t
	return b
}

// WithState sets the state the simulation owns.
func (b Builder[S, T]) WithState(state S) Builder[S, T] {
	b.state = state
	return b
}

// WithSeed adds an event to be queued before the simulation runs.
func (b Builder[S, T]) WithSeed(t T, evt Event[S, T]) Builder[S, T] {
	b.seeds = append(b.seeds[:len(b.seeds):len(b.seeds)], Seed[S, T]{Time: t, Event: evt})
	return b
}

// WithSeeds adds several seed events, queued in the given order.
func (b Builder[S, T]) WithSeeds(seeds ...Seed[S, T]) Builder[S, T] {
	b.seeds = append(b.seeds[:len(b.seeds):len(b.seeds)], seeds...)
	return b
}

// WithHook registers a hook fired around every event.
func (b Builder[S, T]) WithHook(h hooking.Hook) Builder[S, T] {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], h)
	return b
}

// WithLogger sets the logger used for run-level messages.
func (b Builder[S, T]) WithLogger(l logrus.FieldLogger) Builder[S, T] {
	b.logger = l
	return b
}

// Build creates the Simulation. Seeds earlier than the start time fail with
// ErrPastScheduling.
func (b Builder[S, T]) Build() (*Simulation[S, T], error) {
	if err := mustBeComparable(b.start); err != nil {
		return nil, err
	}

	s := &Simulation[S, T]{
		HookableBase: hooking.NewHookableBase(),
		logger:       b.logger,
		now:          b.start,
		queue:        NewEventQueue[S, T](),
		state:        b.state,
	}

	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}

	for _, h := range b.hooks {
		s.AcceptHook(h)
	}

	for _, seed := range b.seeds {
		if err := s.Schedule(seed.Time, seed.Event); err != nil {
			return nil, err
		}
	}

	return s, nil
}
