package reactive

import "testing"

func TestCallbackHandleKeepsSourceConnected(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 0)

	calls := 0
	h := d.ForEach(func(int) { calls++ })
	if got := d.Info().Handles; got != 2 {
		t.Errorf("expected the handle to hold a strong count, got %d", got)
	}

	writer := d.Clone()
	d.Release()
	writer.Set(1)
	writer.Release()
	if !writer.Connected() {
		t.Fatal("callback handle should keep the cell connected")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}

	h.Disconnect()
	if writer.Connected() {
		t.Error("cell should disconnect with its last handle")
	}
	h.Disconnect() // idempotent
}

func TestCallbackHandlePersist(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 0)
	defer d.Release()

	calls := 0
	h := d.ForEach(func(int) { calls++ })
	h.Persist()

	if got := d.Info().Handles; got != 1 {
		t.Errorf("persist should release the source handle, got %d", got)
	}
	h.Disconnect() // no effect after Persist
	d.Set(1)
	if calls != 1 {
		t.Errorf("persisted callback should keep running, got %d calls", calls)
	}
}

func TestCallbackHandleWeak(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 0)

	calls := 0
	h := d.ForEach(func(int) { calls++ }).Weak()
	d.Set(1)
	if calls != 1 {
		t.Errorf("weak callback should stay registered, got %d calls", calls)
	}

	d.Release()
	if d.Connected() {
		t.Error("weak handle must not keep the cell connected")
	}
	h.Disconnect()
}

func TestJoinHandles(t *testing.T) {
	rt := NewRuntime()
	a := NewDynamic(rt, 0)
	b := NewDynamic(rt, 0)
	defer a.Release()
	defer b.Release()

	calls := 0
	h := JoinHandles(
		a.ForEach(func(int) { calls++ }),
		b.ForEach(func(int) { calls++ }),
		CallbackHandle{},
	)
	if h.Len() != 2 {
		t.Errorf("expected 2 joined callbacks, got %d", h.Len())
	}

	a.Set(1)
	b.Set(1)
	h.Disconnect()
	a.Set(2)
	b.Set(2)

	if calls != 2 {
		t.Errorf("expected 2 calls before disconnect, got %d", calls)
	}
	if a.Info().Callbacks != 0 || b.Info().Callbacks != 0 {
		t.Error("joined disconnect should remove every callback")
	}
}

func TestEmptyHandle(t *testing.T) {
	var h CallbackHandle
	if !h.IsEmpty() || h.Len() != 0 {
		t.Error("zero handle should be empty")
	}
	h.Disconnect()
	h.Persist()
	if !JoinHandles().IsEmpty() {
		t.Error("joining nothing should be empty")
	}
}

func TestRemoveDuringPass(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 0)
	defer d.Release()

	var second CallbackHandle
	secondCalls := 0
	first := d.ForEach(func(int) { second.Disconnect() })
	second = d.ForEach(func(int) { secondCalls++ })
	defer first.Disconnect()

	d.Set(1)
	if secondCalls != 0 {
		t.Errorf("callback removed earlier in the pass must be skipped, got %d calls", secondCalls)
	}
}

func TestAddDuringPass(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 0)
	defer d.Release()

	var added []CallbackHandle
	lateCalls := 0
	first := d.ForEach(func(int) {
		added = append(added, d.ForEach(func(int) { lateCalls++ }))
	})
	defer first.Disconnect()

	d.Set(1)
	if lateCalls != 0 {
		t.Errorf("callbacks added during a pass run from the next pass, got %d", lateCalls)
	}
	first.Disconnect()
	d.Set(2)
	if lateCalls != 1 {
		t.Errorf("expected 1 late call, got %d", lateCalls)
	}
	JoinHandles(added...).Disconnect()
}
