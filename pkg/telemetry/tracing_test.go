package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/vango-dev/reactor/pkg/reactive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type recordingProvider struct {
	noop.TracerProvider
	tracer *recordingTracer
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return p.tracer
}

type recordingTracer struct {
	noop.Tracer

	mu    sync.Mutex
	spans []*recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordingSpan{name: name, attrs: cfg.Attributes()}
	s.parent, _ = trace.SpanFromContext(ctx).(*recordingSpan)
	t.mu.Lock()
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return trace.ContextWithSpan(ctx, s), s
}

func (t *recordingTracer) byName(name string) []*recordingSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*recordingSpan
	for _, s := range t.spans {
		if s.name == name {
			out = append(out, s)
		}
	}
	return out
}

type recordingSpan struct {
	noop.Span

	name   string
	parent *recordingSpan
	attrs  []attribute.KeyValue
	status codes.Code
	errs   []error
	ended  bool
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) { s.attrs = append(s.attrs, kv...) }
func (s *recordingSpan) SetStatus(c codes.Code, _ string) { s.status = c }
func (s *recordingSpan) RecordError(err error, _ ...trace.EventOption) {
	s.errs = append(s.errs, err)
}
func (s *recordingSpan) End(...trace.SpanEndOption) { s.ended = true }

func (s *recordingSpan) attr(key string) (attribute.Value, bool) {
	for _, kv := range s.attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func newRecordingTracer(opts ...TracingOption) (*Tracer, *recordingTracer) {
	rec := &recordingTracer{}
	opts = append(opts, WithTracerProvider(&recordingProvider{tracer: rec}))
	return NewTracer(opts...), rec
}

func TestTracerPassSpans(t *testing.T) {
	tr, rec := newRecordingTracer()
	rt := reactive.NewRuntime(reactive.WithObserver(tr))
	d := reactive.NewNamedDynamic(rt, "count", 0)
	defer d.Release()

	h := d.ForEach(func(int) {})
	defer h.Disconnect()
	d.Set(1)

	spans := rec.byName("reactor.pass")
	if len(spans) != 1 {
		t.Fatalf("expected 1 pass span, got %d", len(spans))
	}
	s := spans[0]
	if !s.ended || s.status != codes.Ok {
		t.Errorf("expected ended span with Ok status, got ended=%v status=%v", s.ended, s.status)
	}
	if v, ok := s.attr("reactor.cell"); !ok || v.AsString() != "count" {
		t.Errorf("expected reactor.cell=count, got %v", v)
	}
	if v, ok := s.attr("reactor.generation"); !ok || v.AsInt64() != 1 {
		t.Errorf("expected reactor.generation=1, got %v", v)
	}
	if v, ok := s.attr("reactor.invoked"); !ok || v.AsInt64() != 1 {
		t.Errorf("expected reactor.invoked=1, got %v", v)
	}
}

func TestTracerCycleAndFailureSpans(t *testing.T) {
	tr, rec := newRecordingTracer()
	rt := reactive.NewRuntime(reactive.WithObserver(tr), reactive.WithMaxCoalescedPasses(1))
	d := reactive.NewDynamic(rt, 0)
	defer d.Release()

	h := d.ForEach(func(v int) { d.Set(v + 1) })
	d.Set(1)
	h.Disconnect()

	cycles := rec.byName("reactor.cycle")
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle span, got %d", len(cycles))
	}
	if cycles[0].status != codes.Error || len(cycles[0].errs) != 1 {
		t.Errorf("cycle span should carry an error, got status=%v errs=%v", cycles[0].status, cycles[0].errs)
	}

	d.ForEach(func(int) { panic("boom") }).Weak()
	d.Set(10)

	failures := rec.byName("reactor.callback_error")
	if len(failures) != 1 {
		t.Fatalf("expected 1 callback error span, got %d", len(failures))
	}
	if v, _ := failures[0].attr("reactor.error_type"); v.AsString() != "panic" {
		t.Errorf("expected error_type=panic, got %v", v)
	}
}

func TestTracerPassFilter(t *testing.T) {
	tr, rec := newRecordingTracer(WithPassFilter(func(p reactive.PassInfo) bool {
		return p.Callbacks > 0
	}))
	rt := reactive.NewRuntime(reactive.WithObserver(tr))
	d := reactive.NewDynamic(rt, 0)
	defer d.Release()

	d.Set(1)
	h := d.ForEach(func(int) {})
	defer h.Disconnect()
	d.Set(2)

	if got := len(rec.byName("reactor.pass")); got != 1 {
		t.Errorf("expected only the pass with callbacks traced, got %d", got)
	}
}

func TestTracerDefaultProvider(t *testing.T) {
	tr := NewTracer(WithTracerName("custom"))
	ctx, done := tr.PassStarted(context.Background(), reactive.PassInfo{Cell: reactive.CellRef{ID: 1}})
	if ctx == nil {
		t.Fatal("expected a pass context")
	}
	done(0)
}

func TestTracerNestedPassSpans(t *testing.T) {
	tr, rec := newRecordingTracer()
	rt := reactive.NewRuntime(reactive.WithObserver(tr))
	a := reactive.NewNamedDynamic(rt, "a", 0)
	b := reactive.NewNamedDynamic(rt, "b", 0)
	defer a.Release()
	defer b.Release()

	ha := a.ForEach(func(v int) { b.Set(v * 2) })
	hb := b.ForEach(func(int) { panic("boom") })
	defer ha.Join(hb).Disconnect()

	a.Set(1)

	var outer, inner *recordingSpan
	for _, s := range rec.byName("reactor.pass") {
		v, _ := s.attr("reactor.cell")
		switch v.AsString() {
		case "a":
			outer = s
		case "b":
			inner = s
		}
	}
	if outer == nil || inner == nil {
		t.Fatalf("expected pass spans for a and b, got outer=%v inner=%v", outer, inner)
	}
	if outer.parent != nil {
		t.Error("the outermost pass should be a root span")
	}
	if inner.parent != outer {
		t.Error("a pass started from a callback should be a child of that pass")
	}

	failures := rec.byName("reactor.callback_error")
	if len(failures) != 1 || failures[0].parent != inner {
		t.Errorf("callback error span should be a child of b's pass, got %d spans", len(failures))
	}
}

func TestTracerNestedCycleSpan(t *testing.T) {
	tr, rec := newRecordingTracer()
	rt := reactive.NewRuntime(reactive.WithObserver(tr), reactive.WithMaxCoalescedPasses(1))
	a := reactive.NewNamedDynamic(rt, "a", 0)
	b := reactive.NewNamedDynamic(rt, "b", 0)
	defer a.Release()
	defer b.Release()

	ha := a.ForEach(func(v int) { b.Set(v) })
	hb := b.ForEach(func(v int) { b.Set(v + 1) })
	defer ha.Join(hb).Disconnect()

	a.Set(1)

	cycles := rec.byName("reactor.cycle")
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle span, got %d", len(cycles))
	}
	parent := cycles[0].parent
	if parent == nil {
		t.Fatal("cycle inside a pass of a should not be a root span")
	}
	if v, _ := parent.attr("reactor.cell"); v.AsString() != "a" {
		t.Errorf("expected the cycle under a's pass, got %v", v)
	}
}
