package reactive

import "testing"

func TestValueConstant(t *testing.T) {
	v := Constant(3)
	if v.Get() != 3 || v.IsDynamic() {
		t.Errorf("unexpected constant %v", v)
	}
	if _, ok := v.Generation(); ok {
		t.Error("constants have no generation")
	}

	calls := 0
	h := v.ForEach(func(n int) { calls += n })
	if calls != 3 || !h.IsEmpty() {
		t.Errorf("constant ForEach should call once with empty handle, got %d", calls)
	}

	s := MapValue(v, func(n int) string { return string(rune('a' + n)) })
	if s.Get() != "d" || s.IsDynamic() {
		t.Errorf("expected constant d, got %q", s.Get())
	}
}

func TestValueDynamic(t *testing.T) {
	rt := NewRuntime()
	d := NewDynamic(rt, 1)
	defer d.Release()

	v := FromDynamic(d)
	if !v.IsDynamic() || v.Dynamic() != d {
		t.Fatal("expected dynamic value")
	}

	d.Set(2)
	if v.Get() != 2 {
		t.Errorf("expected 2, got %d", v.Get())
	}
	if gen, ok := v.Generation(); !ok || gen != 1 {
		t.Errorf("expected generation 1, got %d (%v)", gen, ok)
	}

	doubled := MapValue(v, func(n int) int { return n * 2 })
	defer doubled.Dynamic().Release()
	d.Set(5)
	if doubled.Get() != 10 {
		t.Errorf("expected 10, got %d", doubled.Get())
	}
}

func TestValueZero(t *testing.T) {
	var v Value[string]
	if v.Get() != "" || v.IsDynamic() {
		t.Error("zero Value should be an empty constant")
	}
}
