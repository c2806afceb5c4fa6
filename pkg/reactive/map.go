package reactive

import (
	"errors"
	"weak"
)

// Map returns a new cell holding fn applied to src's value, recomputed after
// every change of src.
//
// The derived cell does not keep src connected and src only refers to it
// weakly: once every handle to the derived cell is released or collected its
// callback is removed from src. When src disconnects the derived cell keeps
// its last value and stops updating.
//
// fn runs on the goroutine dispatching src and must not block on src.
func Map[T, R any](src *Dynamic[T], fn func(T) R) *Dynamic[R] {
	return mapCell(src, fn, false)
}

// MapUnique is Map, but the derived cell only publishes when the mapped
// value differs from its current value, using the derived cell's equality.
func MapUnique[T, R any](src *Dynamic[T], fn func(T) R) *Dynamic[R] {
	return mapCell(src, fn, true)
}

func mapCell[T, R any](src *Dynamic[T], fn func(T) R, unique bool) *Dynamic[R] {
	sc := src.c
	value, gen, _ := sc.snapshot()
	dst := NewNamedDynamic(sc.rt, derivedName(sc.name), fn(value))

	// srcGen is the source generation the derived value was computed from.
	// It is only touched under the derived cell's lock.
	srcGen := gen
	wp := weak.Make(dst.c)
	apply := func(v T, g Generation) error {
		dc := wp.Value()
		if dc == nil {
			return ErrCallbackDisconnected
		}
		next := fn(v)
		_, err := dc.mapMut(func(cur *R) bool {
			if !g.After(srcGen) {
				return false
			}
			srcGen = g
			if unique && dc.equals(*cur, next) {
				return false
			}
			*cur = next
			return true
		})
		if errors.Is(err, ErrReleased) {
			return ErrCallbackDisconnected
		}
		return err
	}

	id := sc.rt.nextID()
	if sc.callbacks.add(id, apply) {
		dst.c.addHook(func() { sc.callbacks.remove(id) })
	}

	// Changes published between the first snapshot and the registration
	// were dispatched without this callback.
	if v, g, disconnected := sc.snapshot(); !disconnected && g != gen {
		if err := apply(v, g); err != nil && !errors.Is(err, ErrCallbackDisconnected) {
			sc.rt.logger.Warn("map catch-up failed", "cell_id", dst.c.id, "error", err)
		}
	}
	return dst
}

// Map2 returns a new cell holding fn applied to the values of a and b,
// recomputed whenever either changes. Lifetime rules are those of Map.
func Map2[A, B, R any](a *Dynamic[A], b *Dynamic[B], fn func(A, B) R) *Dynamic[R] {
	ac, bc := a.c, b.c
	va, ga, _ := ac.snapshot()
	vb, gb, _ := bc.snapshot()
	dst := NewNamedDynamic(ac.rt, derivedName(ac.name), fn(va, vb))

	// Guarded by the derived cell's lock.
	seenA, seenB := ga, gb
	wp := weak.Make(dst.c)
	apply := func(va A, ga Generation, vb B, gb Generation) error {
		dc := wp.Value()
		if dc == nil {
			return ErrCallbackDisconnected
		}
		next := fn(va, vb)
		_, err := dc.mapMut(func(cur *R) bool {
			if ga < seenA || gb < seenB || (ga == seenA && gb == seenB) {
				return false
			}
			seenA, seenB = ga, gb
			*cur = next
			return true
		})
		if errors.Is(err, ErrReleased) {
			return ErrCallbackDisconnected
		}
		return err
	}

	idA := ac.rt.nextID()
	if ac.callbacks.add(idA, func(va A, ga Generation) error {
		vb, gb, _ := bc.snapshot()
		return apply(va, ga, vb, gb)
	}) {
		dst.c.addHook(func() { ac.callbacks.remove(idA) })
	}
	idB := bc.rt.nextID()
	if bc.callbacks.add(idB, func(vb B, gb Generation) error {
		va, ga, _ := ac.snapshot()
		return apply(va, ga, vb, gb)
	}) {
		dst.c.addHook(func() { bc.callbacks.remove(idB) })
	}

	va2, ga2, _ := ac.snapshot()
	vb2, gb2, _ := bc.snapshot()
	if ga2 != ga || gb2 != gb {
		if err := apply(va2, ga2, vb2, gb2); err != nil && !errors.Is(err, ErrCallbackDisconnected) {
			ac.rt.logger.Warn("map catch-up failed", "cell_id", dst.c.id, "error", err)
		}
	}
	return dst
}

func derivedName(name string) string {
	if name == "" {
		return ""
	}
	return name + ".map"
}

// equals compares with the cell's equality function. Called with mu held.
func (c *cell[T]) equals(a, b T) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}
	return defaultEquals(a, b)
}
