package replication

import (
	"context"

	"github.com/sarchlab/desim/timing"
)

// Simulate builds one simulation per replication and runs it, to completion
// or until maxTime when maxTime is not nil. Each replication must build its
// own simulation and state.
func Simulate[S any, T timing.Time[T]](
	ctx context.Context,
	r *Runner[S],
	n int,
	build func(rep int) (*timing.Simulation[S, T], error),
	maxTime *T,
) []Result[S] {
	return r.Run(ctx, n, func(rep int) (S, error) {
		sim, err := build(rep)
		if err != nil {
			var zero S
			return zero, err
		}

		if maxTime != nil {
			return sim.RunUntil(*maxTime)
		}

		return sim.Run()
	})
}
