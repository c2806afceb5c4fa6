package telemetry

import (
	"context"
	"errors"

	"github.com/vango-dev/reactor/pkg/reactive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for reactive runtimes.
const defaultTracerName = "reactor"

// TracingConfig configures the OpenTelemetry observer.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "reactor").
	TracerName string

	// Provider supplies the tracer.
	// Default: the global provider from otel.GetTracerProvider.
	Provider trace.TracerProvider

	// Filter determines which passes get a span.
	// Return true to trace the pass. If nil, all passes are traced.
	Filter func(pass reactive.PassInfo) bool
}

// TracingOption configures the OpenTelemetry observer.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(c *TracingConfig) {
		c.Provider = tp
	}
}

// WithPassFilter sets a filter for traced passes.
func WithPassFilter(filter func(pass reactive.PassInfo) bool) TracingOption {
	return func(c *TracingConfig) {
		c.Filter = filter
	}
}

// Tracer is a reactive.Observer that records dispatch passes, cycles and
// callback failures as OpenTelemetry spans.
//
// A pass started from a callback of another pass is a child of that pass's
// span. Cycles and callback failures get spans of their own with an error
// status, parented to the pass they happened in. Lifetime and set events are
// not traced.
type Tracer struct {
	reactive.NopObserver

	tracer trace.Tracer
	filter func(pass reactive.PassInfo) bool
}

var _ reactive.Observer = (*Tracer)(nil)

// NewTracer creates the tracing observer.
//
// The global provider is used unless WithTracerProvider is given. Configure
// it in main() before creating runtimes:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func NewTracer(opts ...TracingOption) *Tracer {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	provider := config.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{
		tracer: provider.Tracer(config.TracerName),
		filter: config.Filter,
	}
}

func cellAttributes(cell reactive.CellRef) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("reactor.cell_id", int64(cell.ID)),
	}
	if cell.Name != "" {
		attrs = append(attrs, attribute.String("reactor.cell", cell.Name))
	}
	return attrs
}

// PassStarted implements reactive.Observer.
func (t *Tracer) PassStarted(ctx context.Context, pass reactive.PassInfo) (context.Context, reactive.PassDone) {
	if t.filter != nil && !t.filter(pass) {
		return ctx, func(int) {}
	}

	attrs := append(cellAttributes(pass.Cell),
		attribute.Int64("reactor.generation", int64(pass.Generation)),
		attribute.Int("reactor.callbacks", pass.Callbacks),
		attribute.Bool("reactor.follow_up", pass.FollowUp),
	)
	ctx, span := t.tracer.Start(ctx, "reactor.pass",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(invoked int) {
		span.SetAttributes(attribute.Int("reactor.invoked", invoked))
		span.SetStatus(codes.Ok, "")
		span.End()
	}
}

// CycleDetected implements reactive.Observer.
func (t *Tracer) CycleDetected(ctx context.Context, cell reactive.CellRef, passes int) {
	attrs := append(cellAttributes(cell), attribute.Int("reactor.passes", passes))
	_, span := t.tracer.Start(ctx, "reactor.cycle",
		trace.WithAttributes(attrs...),
	)
	span.RecordError(reactive.ErrCycle)
	span.SetStatus(codes.Error, reactive.ErrCycle.Error())
	span.End()
}

// CallbackFailed implements reactive.Observer.
func (t *Tracer) CallbackFailed(ctx context.Context, cell reactive.CellRef, err error) {
	attrs := append(cellAttributes(cell), attribute.String("reactor.error_type", categorizeError(err)))
	_, span := t.tracer.Start(ctx, "reactor.callback_error",
		trace.WithAttributes(attrs...),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// categorizeError returns a low-cardinality label for a callback failure.
func categorizeError(err error) string {
	var panicErr *reactive.CallbackPanicError
	if errors.As(err, &panicErr) {
		return "panic"
	}
	return "error"
}
