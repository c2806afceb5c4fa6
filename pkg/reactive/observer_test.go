package reactive

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
)

// recordingObserver records engine events for assertions.
type recordingObserver struct {
	NopObserver

	mu       sync.Mutex
	created  []CellRef
	released []CellRef
	sets     int
	passes   []PassInfo
	invoked  []int
	cycles   []int
	errs     []error
}

func (o *recordingObserver) CellCreated(c CellRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created = append(o.created, c)
}

func (o *recordingObserver) CellReleased(c CellRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = append(o.released, c)
}

func (o *recordingObserver) ValueSet(CellRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sets++
}

func (o *recordingObserver) PassStarted(ctx context.Context, p PassInfo) (context.Context, PassDone) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = append(o.passes, p)
	return ctx, func(invoked int) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.invoked = append(o.invoked, invoked)
	}
}

func (o *recordingObserver) CycleDetected(_ context.Context, _ CellRef, passes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles = append(o.cycles, passes)
}

func (o *recordingObserver) CallbackFailed(_ context.Context, _ CellRef, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errs = append(o.errs, err)
}

func (o *recordingObserver) failures() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]error(nil), o.errs...)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func TestObserverEvents(t *testing.T) {
	rec := &recordingObserver{}
	rt := NewRuntime(WithObserver(rec))

	d := NewNamedDynamic(rt, "temp", 20)
	h := d.ForEach(func(int) {})
	d.Set(21)
	d.Set(22)
	h.Disconnect()
	d.Release()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if len(rec.created) != 1 || rec.created[0].Name != "temp" {
		t.Errorf("expected one created cell named temp, got %v", rec.created)
	}
	if len(rec.released) != 1 || rec.released[0].ID != d.ID() {
		t.Errorf("expected release of cell %d, got %v", d.ID(), rec.released)
	}
	if rec.sets != 2 {
		t.Errorf("expected 2 sets, got %d", rec.sets)
	}
	if len(rec.passes) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(rec.passes))
	}
	if rec.passes[1].Generation != 2 || rec.passes[1].Callbacks != 1 {
		t.Errorf("unexpected pass info: %+v", rec.passes[1])
	}
	if len(rec.invoked) != 2 || rec.invoked[0] != 1 {
		t.Errorf("expected each pass to invoke 1 callback, got %v", rec.invoked)
	}
}

func TestObserverCycle(t *testing.T) {
	rec := &recordingObserver{}
	rt := NewRuntime(WithObserver(rec), WithMaxCoalescedPasses(2))
	d := NewDynamic(rt, 0)
	defer d.Release()

	h := d.ForEach(func(v int) { d.Set(v + 1) })
	defer h.Disconnect()
	d.Set(1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.cycles) != 1 || rec.cycles[0] != 3 {
		t.Errorf("expected one cycle after 3 cascades, got %v", rec.cycles)
	}
	if len(rec.passes) < 2 || !rec.passes[1].FollowUp {
		t.Errorf("expected follow-up passes, got %+v", rec.passes)
	}
}

func TestObserversFanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	rt := NewRuntime(WithObserver(Observers(a, nil, b)))
	d := NewDynamic(rt, 0)
	d.Set(1)
	d.Release()

	for i, rec := range []*recordingObserver{a, b} {
		rec.mu.Lock()
		if rec.sets != 1 || len(rec.passes) != 1 || len(rec.released) != 1 {
			t.Errorf("observer %d missed events: sets=%d passes=%d released=%d",
				i, rec.sets, len(rec.passes), len(rec.released))
		}
		rec.mu.Unlock()
	}

	if _, ok := Observers().(NopObserver); !ok {
		t.Error("empty Observers should be a NopObserver")
	}
	if Observers(a) != Observer(a) {
		t.Error("single observer should be returned as is")
	}
}

func TestCellRefString(t *testing.T) {
	if got := (CellRef{ID: 3, Name: "x"}).String(); got != "x#3" {
		t.Errorf("expected x#3, got %s", got)
	}
	if got := (CellRef{ID: 4}).String(); got != "#4" {
		t.Errorf("expected #4, got %s", got)
	}
}
