package timing

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrPastScheduling is returned when an event is scheduled earlier than
	// the current simulation time.
	ErrPastScheduling = errors.New(
		"timing: event time is earlier than the current simulation time")

	// ErrNotComparable is returned when a time value cannot take part in the
	// total order, such as NaN seconds.
	ErrNotComparable = errors.New("timing: time value is not comparable")

	// ErrEventExecutionFailed marks errors reported by an event's Execute.
	ErrEventExecutionFailed = errors.New("timing: event execution failed")

	// ErrHandleExpired is returned when a handle is used after the event it
	// was created for has returned.
	ErrHandleExpired = errors.New("timing: scheduling handle used after its event returned")

	// ErrSimulationFailed is returned when running a simulation whose earlier
	// run already halted on an event error.
	ErrSimulationFailed = errors.New("timing: simulation already failed")
)

// ExecutionError reports the event that halted a run.
type ExecutionError struct {
	Time  any
	Seq   uint64
	Event any
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: evt %s #%d @ %v: %v",
		ErrEventExecutionFailed, reflect.TypeOf(e.Event), e.Seq, e.Time, e.Err)
}

// Unwrap exposes both ErrEventExecutionFailed and the error returned by
// the event.
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrEventExecutionFailed, e.Err}
}
