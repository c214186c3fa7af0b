package timing

import (
	"fmt"
	"math"
)

// Time is the constraint on the type a simulation uses for its clock. The
// order given by Compare must be total: events run in ascending order of
// Compare, and events that compare equal run in the order they were
// scheduled.
type Time[T any] interface {
	// Compare returns a negative number if the receiver is earlier than
	// other, zero if they are the same instant, and a positive number
	// otherwise.
	Compare(other T) int

	// Add returns the receiver moved forward by delay.
	Add(delay T) T
}

// A Validator is a time value that knows whether it can take part in the
// total order. Times that report false are rejected with ErrNotComparable
// before they reach the event queue.
type Validator interface {
	Comparable() bool
}

func mustBeComparable[T any](t T) error {
	if v, ok := any(t).(Validator); ok && !v.Comparable() {
		return fmt.Errorf("%w: %v", ErrNotComparable, t)
	}

	return nil
}

// A Measurable time can be expressed as a number, for recording and
// reporting.
type Measurable interface {
	Float64() float64
}

// VTimeInCycle is an integral clock counted in cycles.
type VTimeInCycle uint64

// Compare orders two cycles.
func (t VTimeInCycle) Compare(other VTimeInCycle) int {
	switch {
	case t < other:
		return -1
	case t > other:
		return 1
	default:
		return 0
	}
}

// Add returns t + delay.
func (t VTimeInCycle) Add(delay VTimeInCycle) VTimeInCycle {
	return t + delay
}

// Float64 returns t as a float64.
func (t VTimeInCycle) Float64() float64 {
	return float64(t)
}

// VTimeInSec is a clock in simulated seconds. Raw float64 values are not
// totally ordered, so NaN is rejected at construction and again when an
// event is pushed.
type VTimeInSec float64

// NewVTimeInSec converts sec into a VTimeInSec, rejecting NaN.
func NewVTimeInSec(sec float64) (VTimeInSec, error) {
	if math.IsNaN(sec) {
		return 0, fmt.Errorf("%w: NaN", ErrNotComparable)
	}

	return VTimeInSec(sec), nil
}

// MustVTimeInSec is like NewVTimeInSec but panics on NaN.
func MustVTimeInSec(sec float64) VTimeInSec {
	t, err := NewVTimeInSec(sec)
	if err != nil {
		panic(err)
	}

	return t
}

// Comparable reports whether t is a number.
func (t VTimeInSec) Comparable() bool {
	return !math.IsNaN(float64(t))
}

// Compare orders two times. Both must be comparable.
func (t VTimeInSec) Compare(other VTimeInSec) int {
	switch {
	case t < other:
		return -1
	case t > other:
		return 1
	default:
		return 0
	}
}

// Add returns t + delay.
func (t VTimeInSec) Add(delay VTimeInSec) VTimeInSec {
	return t + delay
}

// Seconds returns t as a float64.
func (t VTimeInSec) Seconds() float64 {
	return float64(t)
}

// Float64 returns t as a float64.
func (t VTimeInSec) Float64() float64 {
	return float64(t)
}

var (
	_ Measurable         = VTimeInCycle(0)
	_ Measurable         = VTimeInSec(0)
	_ Time[VTimeInCycle] = VTimeInCycle(0)
	_ Time[VTimeInSec]   = VTimeInSec(0)
	_ Validator          = VTimeInSec(0)
)
