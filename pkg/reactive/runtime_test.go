package reactive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRuntimeDefaults(t *testing.T) {
	rt := NewRuntimeWithConfig(Config{})
	if rt.maxPasses != DefaultMaxCoalescedPasses {
		t.Errorf("expected default max passes, got %d", rt.maxPasses)
	}
	if rt.maxDepth != DefaultMaxDispatchDepth {
		t.Errorf("expected default max depth, got %d", rt.maxDepth)
	}
	if rt.Logger() == nil {
		t.Error("expected a default logger")
	}

	rt = NewRuntime(WithName("ui"), WithDispatchBudget(10, 0))
	if rt.Name() != "ui" {
		t.Errorf("expected name ui, got %q", rt.Name())
	}
	if rt.budgetWindow != time.Second {
		t.Errorf("expected 1s budget window, got %v", rt.budgetWindow)
	}
}

func TestRuntimeIDsUnique(t *testing.T) {
	rt := NewRuntime()
	a := NewDynamic(rt, 0)
	b := NewDynamic(rt, 0)
	defer a.Release()
	defer b.Release()

	if a.ID() == b.ID() || b.ID() < a.ID() {
		t.Errorf("ids should increase: %d then %d", a.ID(), b.ID())
	}
}

func TestRuntimeCellsAndInspect(t *testing.T) {
	rt := NewRuntime()
	a := NewNamedDynamic(rt, "a", 1)
	b := NewNamedDynamic(rt, "b", "x")
	defer a.Release()

	cells := rt.Cells()
	if len(cells) != 2 || cells[0].Name != "a" || cells[1].Name != "b" {
		t.Fatalf("unexpected cells %+v", cells)
	}
	if cells[1].Type != "string" || cells[1].Value != "x" {
		t.Errorf("unexpected info %+v", cells[1])
	}

	in, ok := rt.Inspect(a.ID())
	if !ok {
		t.Fatal("expected a to be inspectable")
	}
	if in.Info().Value != "1" {
		t.Errorf("expected value 1, got %s", in.Info().Value)
	}

	b.Release()
	if _, ok := rt.Inspect(b.ID()); ok {
		t.Error("released cells leave the arena")
	}

	stats := rt.Stats()
	if stats.CellsCreated != 2 || stats.CellsLive != 1 || stats.Disconnects != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestInspectorWaitAfter(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 0)
	in, _ := rt.Inspect(d.ID())

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Set(42)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := in.WaitAfter(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Value != "42" || info.Generation != 1 {
		t.Errorf("unexpected info %+v", info)
	}

	d.Release()
	if _, err := in.WaitAfter(ctx, 1); !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
}

func TestRuntimeLogsCycle(t *testing.T) {
	logger, buf := newTestLogger()
	rt := NewRuntime(WithLogger(logger), WithName("test"), WithMaxCoalescedPasses(1))
	d := NewNamedDynamic(rt, "loop", 0)
	defer d.Release()

	h := d.ForEach(func(v int) { d.Set(v + 1) })
	defer h.Disconnect()
	d.Set(1)

	out := buf.String()
	if !strings.Contains(out, "callback cycle broken") {
		t.Errorf("expected cycle log, got:\n%s", out)
	}
	if !strings.Contains(out, "runtime=test") || !strings.Contains(out, "cell=loop") {
		t.Errorf("expected runtime and cell attributes, got:\n%s", out)
	}
}

func TestRuntimeStateCleanedUp(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 0)
	defer d.Release()
	h := d.ForEach(func(int) {})
	defer h.Disconnect()

	d.Set(1)
	rt.Batch(func() { d.Set(2) })

	if n := rt.activeStates.Load(); n != 0 {
		t.Errorf("expected no goroutine state after dispatch, got %d", n)
	}
}

func TestGenerationHelpers(t *testing.T) {
	var g Generation
	if g.Next() != 1 {
		t.Errorf("expected 1, got %d", g.Next())
	}
	if !g.Next().After(g) || g.After(g) {
		t.Error("After should be strict")
	}
}
