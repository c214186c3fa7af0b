package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/desim/hooking"
)

// StepCounter counts executed events by kind. It can be read while the
// simulation runs and shared between simulations.
type StepCounter struct {
	lock     sync.Mutex
	counts   map[string]uint64
	failures uint64
}

// NewStepCounter creates a StepCounter.
func NewStepCounter() *StepCounter {
	return &StepCounter{counts: make(map[string]uint64)}
}

// Func counts the event once it has executed.
func (c *StepCounter) Func(ctx hooking.HookCtx) {
	if !isAfter(ctx) {
		return
	}

	info, ok := eventInfo(ctx)
	if !ok {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.counts[info.Kind()]++

	if eventError(ctx) != nil {
		c.failures++
	}
}

// Count returns how many events of a kind executed.
func (c *StepCounter) Count(kind string) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.counts[kind]
}

// Total returns how many events executed.
func (c *StepCounter) Total() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	var total uint64
	for _, n := range c.counts {
		total += n
	}

	return total
}

// Failures returns how many events returned an error.
func (c *StepCounter) Failures() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.failures
}

// Kinds returns the kinds seen so far, sorted.
func (c *StepCounter) Kinds() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	kinds := make([]string, 0, len(c.counts))
	for k := range c.counts {
		kinds = append(kinds, k)
	}

	sort.Strings(kinds)

	return kinds
}
