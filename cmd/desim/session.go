package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sarchlab/desim/datarecording"
	"github.com/sarchlab/desim/hooking"
	"github.com/sarchlab/desim/monitoring"
	"github.com/sarchlab/desim/replication"
	"github.com/sarchlab/desim/timing"
	"github.com/sarchlab/desim/tracing"
)

const replicationTable = "replications"

// replicationEntry is one finished replication as stored by the recorder.
type replicationEntry struct {
	ID           string
	Model        string
	Seed         int64
	ElapsedNanos int64
	Failed       bool
	Error        string
}

// session is everything that observes the replications of one command:
// the recorder, the monitor, the metrics, and the tracer.
type session struct {
	ctx    context.Context
	model  string
	logger *logrus.Logger

	steps    *tracing.StepCounter
	metrics  *tracing.MetricsCollector
	recorder datarecording.DataRecorder
	runInfo  *datarecording.RunRecorder
	monitor  *monitoring.Monitor

	tracer         trace.Tracer
	tracerShutdown func(context.Context) error
}

func openSession(ctx context.Context, model string) (s *session, err error) {
	s = &session{
		ctx:    ctx,
		model:  model,
		logger: logrus.StandardLogger(),
		steps:  tracing.NewStepCounter(),
	}

	defer func() {
		if err != nil {
			err = errors.Join(err, s.close())
		}
	}()

	if err = s.openRecorder(); err != nil {
		return s, err
	}

	if err = s.openMonitor(); err != nil {
		return s, err
	}

	if flags.traceStdout {
		if err = s.openTracer(); err != nil {
			return s, err
		}
	}

	return s, nil
}

func (s *session) openRecorder() error {
	var err error

	switch {
	case flags.clickHouseAddr != "":
		s.recorder, err = datarecording.NewClickHouse(s.ctx, datarecording.ClickHouseConfig{
			Addr:     flags.clickHouseAddr,
			Database: flags.clickHouseDB,
			Username: os.Getenv("DESIM_CLICKHOUSE_USER"),
			Password: os.Getenv("DESIM_CLICKHOUSE_PASSWORD"),
		})
	case flags.record != "":
		s.recorder, err = datarecording.New(flags.record)
	default:
		return nil
	}

	if err != nil {
		return err
	}

	if err = s.recorder.CreateTable(replicationTable, replicationEntry{}); err != nil {
		return err
	}

	s.runInfo, err = datarecording.NewRunRecorder(s.recorder, nil)
	if err != nil {
		return err
	}

	s.runInfo.Start()
	s.runInfo.Set("Model", s.model)
	s.runInfo.Set("Seed", strconv.FormatInt(flags.seed, 10))
	s.runInfo.Set("Replications", strconv.Itoa(flags.replications))

	return nil
}

func (s *session) openMonitor() error {
	if !flags.monitor {
		return nil
	}

	var err error

	s.metrics, err = tracing.NewMetricsCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	s.monitor = monitoring.NewMonitor().
		WithLogger(s.logger).
		WithMetrics(s.metrics.Gatherer())

	if flags.monitorPort != 0 {
		s.monitor.WithPortNumber(flags.monitorPort)
	}

	url, err := s.monitor.StartServer()
	if err != nil {
		return err
	}

	if flags.openBrowser {
		if err := monitoring.OpenBrowser(url); err != nil {
			s.logger.WithError(err).Warn("failed to open the browser")
		}
	}

	return nil
}

func (s *session) openTracer() error {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stdout),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	s.tracer = provider.Tracer("github.com/sarchlab/desim")
	s.tracerShutdown = provider.Shutdown

	return nil
}

// hooks creates the hooks observing the replication called name.
func (s *session) hooks(name string) ([]hooking.Hook, error) {
	hooks := []hooking.Hook{s.steps}

	if flags.logEvents {
		hooks = append(hooks, tracing.NewEventLogger(
			s.logger.WithField("replication", name), logrus.DebugLevel))
	}

	if s.recorder != nil {
		recorder, err := tracing.NewEventRecorder(s.recorder, name, nil)
		if err != nil {
			return nil, err
		}

		hooks = append(hooks, recorder)
	}

	if s.metrics != nil {
		hooks = append(hooks, s.metrics.Hook(name))
	}

	if s.tracer != nil {
		hooks = append(hooks, tracing.NewSpanHook(s.ctx, s.tracer,
			attribute.String("desim.replication", name)))
	}

	return hooks, nil
}

func (s *session) runnerOptions() ([]replication.Option, func()) {
	opts := []replication.Option{replication.WithLogger(s.logger)}

	if flags.parallelism > 0 {
		opts = append(opts, replication.WithParallelism(flags.parallelism))
	}

	if s.monitor == nil {
		return opts, func() {}
	}

	bar := s.monitor.CreateProgressBar(s.model, uint64(max(flags.replications, 0)))
	opts = append(opts, replication.WithProgress(bar))

	return opts, func() { s.monitor.CompleteProgressBar(bar) }
}

// observe attaches the hooks of the replication called name to sim and
// shows it on the monitor.
func observe[S any, T timing.Time[T]](
	s *session,
	name string,
	sim *timing.Simulation[S, T],
) error {
	hooks, err := s.hooks(name)
	if err != nil {
		return err
	}

	for _, h := range hooks {
		sim.AcceptHook(h)
	}

	if s.monitor != nil {
		s.monitor.RegisterSimulation(name, monitoring.Watch(sim))
	}

	return nil
}

func recordReplications[S any](
	s *session,
	model string,
	results []replication.Result[S],
) error {
	if s.recorder == nil {
		return nil
	}

	for _, res := range results {
		entry := replicationEntry{
			ID:           res.ID,
			Model:        model,
			Seed:         flags.seed + int64(res.Index),
			ElapsedNanos: res.Elapsed.Nanoseconds(),
			Failed:       res.Err != nil,
		}

		if res.Err != nil {
			entry.Error = res.Err.Error()
		}

		if err := s.recorder.InsertData(replicationTable, entry); err != nil {
			return err
		}
	}

	return nil
}

// replicate runs flags.replications replications of the model built by
// build, seeding replication i with flags.seed+i.
func replicate[S any, T timing.Time[T]](
	s *session,
	maxTime *T,
	build func(seed int64, hooks []hooking.Hook) (*timing.Simulation[S, T], error),
) ([]S, error) {
	opts, done := s.runnerOptions()
	defer done()

	runner := replication.NewRunner[S](opts...)

	results := replication.Simulate(s.ctx, runner, flags.replications,
		func(rep int) (*timing.Simulation[S, T], error) {
			name := fmt.Sprintf("%s-%d", s.model, rep)

			hooks, err := s.hooks(name)
			if err != nil {
				return nil, err
			}

			sim, err := build(flags.seed+int64(rep), hooks)
			if err != nil {
				return nil, err
			}

			if s.monitor != nil {
				s.monitor.RegisterSimulation(name, monitoring.Watch(sim))
			}

			return sim, nil
		}, maxTime)

	if err := recordReplications(s, s.model, results); err != nil {
		return nil, err
	}

	if err := replication.Errors(results); err != nil {
		return nil, err
	}

	return replication.States(results), nil
}

func (s *session) close() error {
	errs := make([]error, 0)

	if s.runInfo != nil {
		s.runInfo.Set("Executed Events", strconv.FormatUint(s.steps.Total(), 10))
		errs = append(errs, s.runInfo.End())
	}

	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
	}

	if s.tracerShutdown != nil {
		errs = append(errs, s.tracerShutdown(context.Background()))
	}

	if s.monitor != nil {
		errs = append(errs, s.monitor.StopServer())
	}

	return errors.Join(errs...)
}

func secCutoff() *timing.VTimeInSec {
	if flags.maxTime <= 0 {
		return nil
	}

	t := timing.VTimeInSec(flags.maxTime)

	return &t
}

func cycleCutoff() *timing.VTimeInCycle {
	if flags.maxTime <= 0 {
		return nil
	}

	t := timing.VTimeInCycle(flags.maxTime)

	return &t
}
