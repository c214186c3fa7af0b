// Package replication runs many independent simulations of the same model
// across goroutines and collects their outcomes.
//
// Replications share nothing but the function that builds them. Anything
// random must be seeded from the replication index so that every
// replication is independent and reproducible.
package replication

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/desim/idgen"
)

// ErrReplicationPanicked is reported for a replication whose function
// panicked.
var ErrReplicationPanicked = errors.New("replication panicked")

// A ProgressTracker is told when replications start and finish.
type ProgressTracker interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// Result is the outcome of one replication.
type Result[S any] struct {
	Index   int
	ID      string
	State   S
	Err     error
	Elapsed time.Duration
}

type options struct {
	parallelism int
	logger      logrus.FieldLogger
	progress    ProgressTracker
	ids         idgen.Generator
	clock       clock.Clock
}

// Option configures a Runner.
type Option func(*options)

// WithParallelism sets how many replications run at once. Values below 1
// are ignored.
func WithParallelism(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.parallelism = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithProgress reports replication progress to t.
func WithProgress(t ProgressTracker) Option {
	return func(o *options) {
		o.progress = t
	}
}

// WithIDGenerator sets where replication IDs come from.
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithClock sets the wall clock used to time replications.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Runner runs replications producing states of type S.
type Runner[S any] struct {
	options
}

// NewRunner creates a Runner. By default it runs GOMAXPROCS replications
// at a time and names them rep-1, rep-2, ...
func NewRunner[S any](opts ...Option) *Runner[S] {
	o := options{
		parallelism: runtime.GOMAXPROCS(0),
		logger:      logrus.StandardLogger(),
		ids:         idgen.NewSequential("rep-"),
		clock:       clock.New(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return &Runner[S]{options: o}
}

// Parallelism returns how many replications run at once.
func (r *Runner[S]) Parallelism() int {
	return r.parallelism
}

// Run executes fn for replication indices 0 to n-1 and returns one Result
// per replication, ordered by index. A replication that returns an error or
// panics does not affect the others. Replications that have not started
// when ctx is cancelled report the context error. A non-positive n runs
// nothing.
func (r *Runner[S]) Run(
	ctx context.Context,
	n int,
	fn func(rep int) (S, error),
) []Result[S] {
	if n < 1 {
		return []Result[S]{}
	}

	results := make([]Result[S], n)
	for i := range results {
		results[i].Index = i
		results[i].ID = r.ids.Generate()
	}

	jobs := make(chan int)
	wg := sync.WaitGroup{}

	workers := min(r.parallelism, n)
	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range jobs {
				r.runOne(ctx, &results[i], fn)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()

	return results
}

func (r *Runner[S]) runOne(
	ctx context.Context,
	res *Result[S],
	fn func(rep int) (S, error),
) {
	logger := r.logger.WithFields(logrus.Fields{
		"replication": res.ID,
		"index":       res.Index,
	})

	if err := ctx.Err(); err != nil {
		res.Err = err
		return
	}

	if r.progress != nil {
		r.progress.IncrementInProgress(1)
		defer r.progress.MoveInProgressToFinished(1)
	}

	logger.Debug("replication started")

	start := r.clock.Now()
	res.State, res.Err = protect(res.Index, fn)
	res.Elapsed = r.clock.Now().Sub(start)

	if res.Err != nil {
		logger.WithError(res.Err).Warn("replication failed")
		return
	}

	logger.WithField("elapsed", res.Elapsed).Debug("replication finished")
}

func protect[S any](rep int, fn func(rep int) (S, error)) (state S, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero S
			state = zero
			err = fmt.Errorf("%w: %v", ErrReplicationPanicked, p)
		}
	}()

	return fn(rep)
}

// Errors joins the errors of every failed replication, each prefixed with
// its replication ID. It returns nil if all succeeded.
func Errors[S any](results []Result[S]) error {
	errs := make([]error, 0)

	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.ID, res.Err))
		}
	}

	return errors.Join(errs...)
}

// States returns the states of the successful replications, in index order.
func States[S any](results []Result[S]) []S {
	states := make([]S, 0, len(results))

	for _, res := range results {
		if res.Err == nil {
			states = append(states, res.State)
		}
	}

	return states
}
