package tracing

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/desim/datarecording"
	"github.com/sarchlab/desim/hooking"
)

// ExecutedEventTable is the table EventRecorder writes into.
const ExecutedEventTable = "executed_events"

// ExecutedEvent is the row recorded for every executed event.
type ExecutedEvent struct {
	Replication string
	Seq         uint64
	Time        float64
	Kind        string
	WallNanos   int64
	Failed      bool
}

// EventRecorder is a hook that writes one ExecutedEvent per executed event
// into a DataRecorder. Several recorders, one per simulation, may share a
// DataRecorder.
type EventRecorder struct {
	recorder    datarecording.DataRecorder
	replication string
	clock       clock.Clock
	logger      logrus.FieldLogger

	started time.Time
}

// NewEventRecorder creates the executed event table unless it exists and
// returns a hook recording into it under the given replication name.
func NewEventRecorder(
	recorder datarecording.DataRecorder,
	replication string,
	clk clock.Clock,
) (*EventRecorder, error) {
	err := recorder.CreateTable(ExecutedEventTable, ExecutedEvent{})
	if err != nil && !errors.Is(err, datarecording.ErrTableExists) {
		return nil, err
	}

	if clk == nil {
		clk = clock.New()
	}

	return &EventRecorder{
		recorder:    recorder,
		replication: replication,
		clock:       clk,
		logger:      logrus.StandardLogger(),
	}, nil
}

// Func times the event and records it after it executed.
func (r *EventRecorder) Func(ctx hooking.HookCtx) {
	if isBefore(ctx) {
		r.started = r.clock.Now()
		return
	}

	if !isAfter(ctx) {
		return
	}

	info, ok := eventInfo(ctx)
	if !ok {
		return
	}

	row := ExecutedEvent{
		Replication: r.replication,
		Seq:         info.Sequence(),
		Time:        timeValue(info),
		Kind:        info.Kind(),
		WallNanos:   r.clock.Now().Sub(r.started).Nanoseconds(),
		Failed:      eventError(ctx) != nil,
	}

	if err := r.recorder.InsertData(ExecutedEventTable, row); err != nil {
		r.logger.WithError(err).
			WithField("replication", r.replication).
			Error("failed to record event")
	}
}
