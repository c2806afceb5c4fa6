package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/reactor/pkg/reactive"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "reactor").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for pass duration.
	// Default: buckets from 10µs to ~1s.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the pass duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "reactor",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is a reactive.Observer that records engine events as Prometheus
// metrics. Labels never include cell ids or names, keeping cardinality
// bounded.
//
// Metrics collected:
//   - reactor_cells_created_total: cells created
//   - reactor_cells_live: cells currently connected
//   - reactor_sets_total: published changes
//   - reactor_passes_total: dispatch passes by kind (initial, follow_up)
//   - reactor_pass_duration_seconds: time spent invoking callbacks per pass
//   - reactor_callbacks_invoked_total: callback invocations
//   - reactor_coalesced_total: changes folded into a running pass
//   - reactor_cycles_total: callback cycles broken
//   - reactor_callback_errors_total: failed callbacks by type (error, panic)
type Metrics struct {
	cellsCreated     prometheus.Counter
	cellsLive        prometheus.Gauge
	sets             prometheus.Counter
	passes           *prometheus.CounterVec
	passDuration     prometheus.Histogram
	callbacksInvoked prometheus.Counter
	coalesced        prometheus.Counter
	cycles           prometheus.Counter
	callbackErrors   *prometheus.CounterVec
}

var _ reactive.Observer = (*Metrics)(nil)

// NewMetrics registers the engine metrics and returns the observer.
// Registering twice against the same registry panics, as with promauto.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	rt := reactive.NewRuntime(
//	    reactive.WithObserver(telemetry.NewMetrics(telemetry.WithRegistry(reg))),
//	)
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		cellsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cells_created_total",
			Help:        "Total number of reactive cells created",
			ConstLabels: config.ConstLabels,
		}),

		cellsLive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cells_live",
			Help:        "Number of connected reactive cells",
			ConstLabels: config.ConstLabels,
		}),

		sets: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sets_total",
			Help:        "Total number of published value changes",
			ConstLabels: config.ConstLabels,
		}),

		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "passes_total",
			Help:        "Total number of dispatch passes by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pass_duration_seconds",
			Help:        "Time spent invoking callbacks in one dispatch pass",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		callbacksInvoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callbacks_invoked_total",
			Help:        "Total number of callback invocations",
			ConstLabels: config.ConstLabels,
		}),

		coalesced: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "coalesced_total",
			Help:        "Total number of changes folded into a running dispatch pass",
			ConstLabels: config.ConstLabels,
		}),

		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "cycles_total",
			Help:        "Total number of callback cycles broken",
			ConstLabels: config.ConstLabels,
		}),

		callbackErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "callback_errors_total",
			Help:        "Total number of failed callbacks by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),
	}
}

// CellCreated implements reactive.Observer.
func (m *Metrics) CellCreated(reactive.CellRef) {
	m.cellsCreated.Inc()
	m.cellsLive.Inc()
}

// CellReleased implements reactive.Observer.
func (m *Metrics) CellReleased(reactive.CellRef) {
	m.cellsLive.Dec()
}

// ValueSet implements reactive.Observer.
func (m *Metrics) ValueSet(reactive.CellRef) {
	m.sets.Inc()
}

// PassStarted implements reactive.Observer.
func (m *Metrics) PassStarted(ctx context.Context, pass reactive.PassInfo) (context.Context, reactive.PassDone) {
	kind := "initial"
	if pass.FollowUp {
		kind = "follow_up"
	}
	m.passes.WithLabelValues(kind).Inc()

	start := time.Now()
	return ctx, func(invoked int) {
		m.passDuration.Observe(time.Since(start).Seconds())
		m.callbacksInvoked.Add(float64(invoked))
	}
}

// Coalesced implements reactive.Observer.
func (m *Metrics) Coalesced(reactive.CellRef) {
	m.coalesced.Inc()
}

// CycleDetected implements reactive.Observer.
func (m *Metrics) CycleDetected(context.Context, reactive.CellRef, int) {
	m.cycles.Inc()
}

// CallbackFailed implements reactive.Observer.
func (m *Metrics) CallbackFailed(_ context.Context, _ reactive.CellRef, err error) {
	m.callbackErrors.WithLabelValues(categorizeError(err)).Inc()
}
