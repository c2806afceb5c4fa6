package reactive

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

// cell is the shared state behind every handle to one reactive value.
type cell[T any] struct {
	rt   *Runtime
	id   uint64
	name string

	// mu protects value, gen, changed, disconnected, watchers and hooks.
	mu    sync.Mutex
	value T
	gen   Generation

	// changed is closed and replaced on every published change, and closed
	// for good on disconnect. Waiters select on the channel they captured.
	changed      chan struct{}
	disconnected bool

	// lockOwner is the goroutine running user code under mu (MapRef, MapMut,
	// custom equality), 0 otherwise. Used to report self-deadlocks.
	lockOwner atomic.Uint64

	// watchers are reader OnDisconnect registrations keyed by id.
	watchers map[uint64]*disconnectWatcher

	// hooks run once on disconnect, after callbacks are dropped.
	hooks []func()

	// equal decides whether Update publishes. nil means defaultEquals.
	equal func(T, T) bool

	strong  atomic.Int64
	readers atomic.Int64

	callbacks *callbackRegistry[T]
	dispatch  dispatchState
	budget    *slidingWindow
}

// Dynamic is a strong handle to a reactive cell.
//
// All handles cloned from the same cell share its value, generation and
// callbacks. The cell stays connected until every strong handle has been
// released. A handle must not be used after Release.
type Dynamic[T any] struct {
	c        *cell[T]
	released atomic.Bool
	cleanup  runtime.Cleanup
}

// NewDynamic creates a cell holding initial in rt.
// If rt is nil the cell gets a runtime of its own with default settings.
func NewDynamic[T any](rt *Runtime, initial T) *Dynamic[T] {
	return NewNamedDynamic(rt, "", initial)
}

// NewNamedDynamic creates a cell with a name used in logs, errors and
// inspection output.
func NewNamedDynamic[T any](rt *Runtime, name string, initial T) *Dynamic[T] {
	if rt == nil {
		rt = NewRuntime()
	}
	c := &cell[T]{
		rt:        rt,
		id:        rt.nextID(),
		name:      name,
		value:     initial,
		changed:   make(chan struct{}),
		callbacks: newCallbackRegistry[T](),
	}
	c.dispatch.settled = make(chan struct{})
	if rt.budgetPasses > 0 {
		c.budget = newSlidingWindow(rt.budgetWindow, rt.budgetPasses)
	}
	c.strong.Store(1)
	rt.register(c.id, c, c.ref())
	return newHandle(c)
}

func newHandle[T any](c *cell[T]) *Dynamic[T] {
	d := &Dynamic[T]{c: c}
	// Handles dropped without Release still give up their strong count.
	d.cleanup = runtime.AddCleanup(d, func(c *cell[T]) { c.release() }, c)
	return d
}

// WithEquals sets the equality function used by Update and MapUnique.
// It must be called before the cell is shared between goroutines.
func (d *Dynamic[T]) WithEquals(fn func(T, T) bool) *Dynamic[T] {
	d.c.mustLock("WithEquals")
	d.c.equal = fn
	d.c.mu.Unlock()
	return d
}

// ID returns the cell's runtime-unique id.
func (d *Dynamic[T]) ID() uint64 {
	return d.c.id
}

// Name returns the cell name given at creation.
func (d *Dynamic[T]) Name() string {
	return d.c.name
}

// Runtime returns the runtime owning the cell.
func (d *Dynamic[T]) Runtime() *Runtime {
	return d.c.rt
}

// Get returns a copy of the current value.
// It panics with ErrDeadlock when called from inside MapRef or MapMut on the
// same cell; use TryGet to handle that case.
func (d *Dynamic[T]) Get() T {
	v, err := d.TryGet()
	if err != nil {
		panic(fmt.Errorf("reactive: Get on cell %s: %w", d.c.ref(), err))
	}
	return v
}

// TryGet returns a copy of the current value, or ErrDeadlock when the
// calling goroutine already holds the cell's lock.
func (d *Dynamic[T]) TryGet() (T, error) {
	c := d.c
	if err := c.lock(); err != nil {
		var zero T
		return zero, err
	}
	v := c.value
	c.mu.Unlock()
	return v, nil
}

// Generation returns the generation of the current value.
func (d *Dynamic[T]) Generation() Generation {
	c := d.c
	c.mustLock("Generation")
	defer c.mu.Unlock()
	return c.gen
}

// Set stores v, advances the generation and dispatches callbacks.
// Writes to a disconnected cell are dropped.
//
// Set returns once every callback has been called with v or a newer value.
// When another goroutine is dispatching the cell, Set waits for it, except
// from inside a callback, where the change is handed to the running
// dispatch and Set returns at once.
func (d *Dynamic[T]) Set(v T) {
	if err := d.TrySet(v); err != nil {
		if err == ErrDeadlock {
			panic(fmt.Errorf("reactive: Set on cell %s: %w", d.c.ref(), err))
		}
		d.c.rt.logger.Debug("write to released cell dropped", "cell", d.c.ref().String())
	}
}

// TrySet is Set reporting ErrDeadlock or ErrReleased instead of panicking or
// dropping.
func (d *Dynamic[T]) TrySet(v T) error {
	_, err := d.c.replace(v)
	return err
}

// Replace stores v like Set and returns the previous value.
func (d *Dynamic[T]) Replace(v T) T {
	old, err := d.c.replace(v)
	if err == ErrDeadlock {
		panic(fmt.Errorf("reactive: Replace on cell %s: %w", d.c.ref(), err))
	}
	return old
}

// Take replaces the value with the zero value and returns the old value.
func (d *Dynamic[T]) Take() T {
	var zero T
	return d.Replace(zero)
}

// TakeIfNotZero replaces the value with the zero value unless it already
// equals it, using the cell's equality. It reports whether a value was taken.
func (d *Dynamic[T]) TakeIfNotZero() (T, bool) {
	c := d.c
	var old, zero T
	taken := d.MapMut(func(v *T) bool {
		if c.equal != nil && c.equal(*v, zero) || c.equal == nil && defaultEquals(*v, zero) {
			return false
		}
		old, *v = *v, zero
		return true
	})
	return old, taken
}

// Update stores v only when it differs from the current value.
// Returns true if the value was published.
func (d *Dynamic[T]) Update(v T) bool {
	changed, err := d.TryUpdate(v)
	if err == ErrDeadlock {
		panic(fmt.Errorf("reactive: Update on cell %s: %w", d.c.ref(), err))
	}
	return changed
}

// TryUpdate is Update reporting ErrDeadlock or ErrReleased.
func (d *Dynamic[T]) TryUpdate(v T) (bool, error) {
	return d.c.update(v)
}

// MapRef calls fn with the current value while holding the cell's lock.
// fn must not access the same cell; doing so reports ErrDeadlock.
func (d *Dynamic[T]) MapRef(fn func(T)) {
	c := d.c
	c.mustLock("MapRef")
	defer c.mu.Unlock()
	c.runLocked(func() { fn(c.value) })
}

// MapMut calls fn with a pointer to the value while holding the cell's lock.
// When fn returns true the change is published like Set.
func (d *Dynamic[T]) MapMut(fn func(*T) bool) bool {
	changed, err := d.c.mapMut(fn)
	if err == ErrDeadlock {
		panic(fmt.Errorf("reactive: MapMut on cell %s: %w", d.c.ref(), err))
	}
	return changed
}

// Clone returns a new strong handle to the same cell.
func (d *Dynamic[T]) Clone() *Dynamic[T] {
	d.c.strong.Add(1)
	return newHandle(d.c)
}

// Release gives up this handle's strong count. When the last strong handle
// is released the cell disconnects. Calling Release twice is a no-op.
func (d *Dynamic[T]) Release() {
	if d == nil || !d.released.CompareAndSwap(false, true) {
		return
	}
	d.cleanup.Stop()
	d.c.release()
}

// Connected reports whether the cell still has strong handles.
func (d *Dynamic[T]) Connected() bool {
	return !d.c.isDisconnected()
}

// CreateReader returns a reader positioned at the current generation.
// Readers do not keep the cell connected.
func (d *Dynamic[T]) CreateReader() *Reader[T] {
	c := d.c
	c.mustLock("CreateReader")
	gen := c.gen
	c.mu.Unlock()
	return newReader(c, gen)
}

// IntoReader creates a reader and releases this handle. The reader reports
// ErrDisconnected once no other strong handle is left.
func (d *Dynamic[T]) IntoReader() *Reader[T] {
	r := d.CreateReader()
	d.Release()
	return r
}

// ForEach registers fn to run with the new value after every published
// change. The returned handle keeps the cell connected until it is
// disconnected, persisted or made weak.
func (d *Dynamic[T]) ForEach(fn func(T)) CallbackHandle {
	return d.ForEachTry(func(v T) error {
		fn(v)
		return nil
	})
}

// ForEachTry is ForEach for callbacks that may fail. Returning
// ErrCallbackDisconnected removes the callback; other errors are logged.
func (d *Dynamic[T]) ForEachTry(fn func(T) error) CallbackHandle {
	c := d.c
	id := c.rt.nextID()
	if !c.callbacks.add(id, func(v T, _ Generation) error { return fn(v) }) {
		return CallbackHandle{}
	}
	return newCallbackHandle(func() { c.callbacks.remove(id) }, d.Clone())
}

// WithForEach registers fn for the lifetime of the cell and returns d.
func (d *Dynamic[T]) WithForEach(fn func(T)) *Dynamic[T] {
	d.ForEach(fn).Persist()
	return d
}

// Info describes the cell.
func (d *Dynamic[T]) Info() CellInfo {
	return d.c.Info()
}

// =============================================================================
// cell internals
// =============================================================================

func (c *cell[T]) ref() CellRef {
	return CellRef{ID: c.id, Name: c.name}
}

func (c *cell[T]) cellID() uint64 {
	return c.id
}

// lock acquires mu, reporting ErrDeadlock instead of blocking forever when
// the calling goroutine is the one running user code under mu.
func (c *cell[T]) lock() error {
	if c.mu.TryLock() {
		return nil
	}
	if owner := c.lockOwner.Load(); owner != 0 && owner == getGoroutineID() {
		return ErrDeadlock
	}
	c.mu.Lock()
	return nil
}

// mustLock is lock for operations with no error result. It panics with
// ErrDeadlock naming op.
func (c *cell[T]) mustLock(op string) {
	if err := c.lock(); err != nil {
		panic(fmt.Errorf("reactive: %s on cell %s: %w", op, c.ref(), err))
	}
}

// runLocked runs user code while mu is held, recording the owner goroutine.
func (c *cell[T]) runLocked(fn func()) {
	c.lockOwner.Store(getGoroutineID())
	defer c.lockOwner.Store(0)
	fn()
}

// bumpLocked advances the generation and wakes waiters. mu must be held and
// the cell must be connected.
func (c *cell[T]) bumpLocked() {
	c.gen = c.gen.Next()
	close(c.changed)
	c.changed = make(chan struct{})
}

// published records the change to gen and dispatches it. mu must not be
// held.
func (c *cell[T]) published(gen Generation) {
	c.rt.stats.sets.Add(1)
	c.rt.observer.ValueSet(c.ref())
	c.publishUpTo(gen)
}

func (c *cell[T]) replace(v T) (T, error) {
	var old T
	if err := c.lock(); err != nil {
		return old, err
	}
	if c.disconnected {
		c.mu.Unlock()
		return old, ErrReleased
	}
	old = c.value
	c.value = v
	c.bumpLocked()
	gen := c.gen
	c.mu.Unlock()

	c.published(gen)
	return old, nil
}

func (c *cell[T]) update(v T) (bool, error) {
	var gen Generation
	changed, err := func() (changed bool, err error) {
		if err := c.lock(); err != nil {
			return false, err
		}
		defer c.mu.Unlock()

		if c.disconnected {
			return false, ErrReleased
		}
		var equal bool
		if c.equal != nil {
			c.runLocked(func() { equal = c.equal(c.value, v) })
		} else {
			equal = defaultEquals(c.value, v)
		}
		if equal {
			return false, nil
		}
		c.value = v
		c.bumpLocked()
		gen = c.gen
		return true, nil
	}()
	if changed {
		c.published(gen)
	}
	return changed, err
}

func (c *cell[T]) mapMut(fn func(*T) bool) (bool, error) {
	var gen Generation
	changed, err := func() (changed bool, err error) {
		if err := c.lock(); err != nil {
			return false, err
		}
		defer c.mu.Unlock()

		if c.disconnected {
			return false, ErrReleased
		}
		c.runLocked(func() { changed = fn(&c.value) })
		if changed {
			c.bumpLocked()
			gen = c.gen
		}
		return changed, nil
	}()
	if changed {
		c.published(gen)
	}
	return changed, err
}

// snapshot returns the value and generation under the lock.
func (c *cell[T]) snapshot() (T, Generation, bool) {
	c.mustLock("read")
	defer c.mu.Unlock()
	return c.value, c.gen, c.disconnected
}

func (c *cell[T]) isDisconnected() bool {
	c.mustLock("Connected")
	defer c.mu.Unlock()
	return c.disconnected
}

// addHook registers fn to run on disconnect. If the cell is already
// disconnected fn runs immediately.
func (c *cell[T]) addHook(fn func()) {
	c.mustLock("OnDisconnect")
	if c.disconnected {
		c.mu.Unlock()
		fn()
		return
	}
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *cell[T]) release() {
	if c.strong.Add(-1) > 0 {
		return
	}
	c.disconnect()
}

// disconnect drops callbacks, wakes every waiter and fires OnDisconnect
// watchers. It runs at most once.
func (c *cell[T]) disconnect() {
	c.mustLock("Release")
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	close(c.changed)
	watchers := make([]*disconnectWatcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.watchers = nil
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	c.callbacks.close()
	for _, hook := range hooks {
		hook()
	}
	c.rt.deregister(c.id, c.ref())

	sort.Slice(watchers, func(i, j int) bool { return watchers[i].id < watchers[j].id })
	for _, w := range watchers {
		w.fire()
	}
	c.rt.logger.Debug("cell disconnected", "cell_id", c.id, "cell", c.name)
}

// Info implements Inspector.
func (c *cell[T]) Info() CellInfo {
	c.mustLock("Info")
	v, gen, disconnected := c.value, c.gen, c.disconnected
	c.mu.Unlock()

	return CellInfo{
		ID:         c.id,
		Name:       c.name,
		Type:       reflect.TypeFor[T]().String(),
		Generation: gen,
		Value:      fmt.Sprintf("%v", v),
		Handles:    max(c.strong.Load(), 0),
		Readers:    c.readers.Load(),
		Callbacks:  c.callbacks.len(),
		Connected:  !disconnected,
	}
}
