package tracing_test

import (
	"errors"

	"github.com/sarchlab/desim/hooking"
	"github.com/sarchlab/desim/timing"
)

type pingState struct {
	pings int
	pongs int
}

type (
	pingSim    = timing.Simulation[*pingState, timing.VTimeInSec]
	pingHandle = timing.Handle[*pingState, timing.VTimeInSec]
)

type pingEvent struct {
	onExecute func()
}

func (e pingEvent) Execute(s *pingState, h *pingHandle) error {
	if e.onExecute != nil {
		e.onExecute()
	}

	s.pings++

	return h.ScheduleAfter(0.5, pongEvent{})
}

type pongEvent struct{}

func (pongEvent) Execute(s *pingState, _ *pingHandle) error {
	s.pongs++
	return nil
}

var errBroken = errors.New("broken")

type brokenEvent struct{}

func (brokenEvent) Execute(*pingState, *pingHandle) error {
	return errBroken
}

// newPingSim queues pings at 1 and 2, and optionally a broken event at 3.
func newPingSim(broken bool, hooks ...hooking.Hook) *pingSim {
	b := timing.MakeBuilder[*pingState, timing.VTimeInSec]().
		WithState(&pingState{}).
		WithSeed(1, pingEvent{}).
		WithSeed(2, pingEvent{})

	if broken {
		b = b.WithSeed(3, brokenEvent{})
	}

	for _, h := range hooks {
		b = b.WithHook(h)
	}

	sim, err := b.Build()
	if err != nil {
		panic(err)
	}

	return sim
}
