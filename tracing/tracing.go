// Package tracing provides hooks that observe the events a simulation
// executes: logging them, recording them, counting them, and exporting
// them as metrics and spans.
//
// Every hook here expects the hook item to implement timing.EventInfo,
// which is true for the hooks fired by timing.Simulation. Hooks keep
// per-event state between the before and after positions, so one hook
// instance must only be attached to one simulation.
package tracing

import (
	"math"

	"github.com/sarchlab/desim/hooking"
	"github.com/sarchlab/desim/timing"
)

func eventInfo(ctx hooking.HookCtx) (timing.EventInfo, bool) {
	info, ok := ctx.Item.(timing.EventInfo)
	return info, ok
}

func isBefore(ctx hooking.HookCtx) bool {
	return ctx.Pos == timing.HookPosBeforeEvent
}

func isAfter(ctx hooking.HookCtx) bool {
	return ctx.Pos == timing.HookPosAfterEvent
}

func eventError(ctx hooking.HookCtx) error {
	err, _ := ctx.Detail.(error)
	return err
}

// timeValue turns an event time into a number, or NaN if the time type
// cannot be measured.
func timeValue(info timing.EventInfo) float64 {
	if m, ok := info.When().(timing.Measurable); ok {
		return m.Float64()
	}

	return math.NaN()
}
