package tracing

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/desim/hooking"
)

// MetricsCollector exposes Prometheus metrics about executed events. Create
// one collector per registry and attach a hook from Hook to every
// simulation.
type MetricsCollector struct {
	gatherer prometheus.Gatherer
	clock    clock.Clock

	EventsExecuted *prometheus.CounterVec
	EventFailures  prometheus.Counter
	EventDuration  prometheus.Histogram
	SimulatedTime  *prometheus.GaugeVec
}

// NewMetricsCollector registers the event metrics against reg, or the
// default registerer if reg is nil.
func NewMetricsCollector(reg prometheus.Registerer) (*MetricsCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &MetricsCollector{
		gatherer: gatherer,
		clock:    clock.New(),
		EventsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desim_events_executed_total",
			Help: "Number of events executed, by event kind.",
		}, []string{"kind"}),
		EventFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "desim_event_failures_total",
			Help: "Number of events that returned an error.",
		}),
		EventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "desim_event_duration_seconds",
			Help:    "Wall-clock time spent executing one event.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 10, 8),
		}),
		SimulatedTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "desim_simulated_time",
			Help: "Time of the most recently executed event, by simulation.",
		}, []string{"simulation"}),
	}

	collectors := map[string]prometheus.Collector{
		"desim_events_executed_total":  c.EventsExecuted,
		"desim_event_failures_total":   c.EventFailures,
		"desim_event_duration_seconds": c.EventDuration,
		"desim_simulated_time":         c.SimulatedTime,
	}

	for name, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}

	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MetricsCollector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

// Hook returns a hook that feeds the collector from one simulation.
func (c *MetricsCollector) Hook(simulation string) hooking.Hook {
	return &metricsHook{
		collector:  c,
		simulation: c.SimulatedTime.WithLabelValues(simulation),
	}
}

type metricsHook struct {
	collector  *MetricsCollector
	simulation prometheus.Gauge
	started    time.Time
}

func (h *metricsHook) Func(ctx hooking.HookCtx) {
	c := h.collector

	if isBefore(ctx) {
		h.started = c.clock.Now()
		return
	}

	if !isAfter(ctx) {
		return
	}

	info, ok := eventInfo(ctx)
	if !ok {
		return
	}

	c.EventDuration.Observe(c.clock.Now().Sub(h.started).Seconds())
	c.EventsExecuted.WithLabelValues(info.Kind()).Inc()
	h.simulation.Set(timeValue(info))

	if eventError(ctx) != nil {
		c.EventFailures.Inc()
	}
}
