package reactive

// Value is either a constant or a cell. It lets APIs accept both fixed and
// reactive inputs.
//
// The zero Value is a constant holding the zero value of T.
type Value[T any] struct {
	constant T
	dynamic  *Dynamic[T]
}

// Constant returns a Value that never changes.
func Constant[T any](v T) Value[T] {
	return Value[T]{constant: v}
}

// FromDynamic returns a Value backed by d. The Value shares d's handle and
// does not clone it.
func FromDynamic[T any](d *Dynamic[T]) Value[T] {
	return Value[T]{dynamic: d}
}

// Get returns the current value.
func (v Value[T]) Get() T {
	if v.dynamic != nil {
		return v.dynamic.Get()
	}
	return v.constant
}

// Generation returns the cell's generation. ok is false for constants.
func (v Value[T]) Generation() (gen Generation, ok bool) {
	if v.dynamic == nil {
		return 0, false
	}
	return v.dynamic.Generation(), true
}

// IsDynamic reports whether v is backed by a cell.
func (v Value[T]) IsDynamic() bool {
	return v.dynamic != nil
}

// Dynamic returns the backing cell handle, or nil for constants.
func (v Value[T]) Dynamic() *Dynamic[T] {
	return v.dynamic
}

// ForEach registers fn on the backing cell. For constants fn is called once
// with the value and the returned handle is empty.
func (v Value[T]) ForEach(fn func(T)) CallbackHandle {
	if v.dynamic == nil {
		fn(v.constant)
		return CallbackHandle{}
	}
	return v.dynamic.ForEach(fn)
}

// MapValue applies fn to v. Constants map to constants; cells map through
// Map.
func MapValue[T, R any](v Value[T], fn func(T) R) Value[R] {
	if v.dynamic == nil {
		return Constant(fn(v.constant))
	}
	return FromDynamic(Map(v.dynamic, fn))
}
