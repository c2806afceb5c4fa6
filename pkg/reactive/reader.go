package reactive

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"sync"
)

// Reader is a non-owning view of a cell that remembers the last generation
// it has read. It does not keep the cell connected.
//
// A Reader is safe for concurrent use, but concurrent waits on the same
// reader race for each new value. Give each consumer its own Clone.
type Reader[T any] struct {
	c *cell[T]

	mu       sync.Mutex
	gen      Generation
	closed   bool
	watchers []uint64
	cleanup  runtime.Cleanup
}

func newReader[T any](c *cell[T], gen Generation) *Reader[T] {
	c.readers.Add(1)
	r := &Reader[T]{c: c, gen: gen}
	r.cleanup = runtime.AddCleanup(r, func(c *cell[T]) { c.readers.Add(-1) }, c)
	return r
}

// Clone returns an independent reader positioned at the same generation.
func (r *Reader[T]) Clone() *Reader[T] {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	return newReader(r.c, gen)
}

// Close detaches the reader. Pending OnDisconnect callbacks will not run.
// Calling Close more than once is a no-op.
func (r *Reader[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	watchers := r.watchers
	r.watchers = nil
	r.mu.Unlock()

	for _, id := range watchers {
		r.c.removeWatcher(id)
	}
	r.cleanup.Stop()
	r.c.readers.Add(-1)
}

// Release is an alias for Close so readers can be owned by a Scope.
func (r *Reader[T]) Release() {
	r.Close()
}

// Get returns the current value and marks it read.
func (r *Reader[T]) Get() T {
	c := r.c
	if err := c.lock(); err != nil {
		panic(fmt.Errorf("reactive: reader Get on cell %s: %w", c.ref(), err))
	}
	v, gen := c.value, c.gen
	c.mu.Unlock()

	r.mu.Lock()
	if gen.After(r.gen) {
		r.gen = gen
	}
	r.mu.Unlock()
	return v
}

// Peek returns the current value without marking it read.
func (r *Reader[T]) Peek() T {
	c := r.c
	if err := c.lock(); err != nil {
		panic(fmt.Errorf("reactive: reader Peek on cell %s: %w", c.ref(), err))
	}
	defer c.mu.Unlock()
	return c.value
}

// HasUpdated reports whether the cell holds a value newer than the last one
// read through this reader.
//
// Like Get it panics with ErrDeadlock inside MapRef or MapMut on the same cell.
func (r *Reader[T]) HasUpdated() bool {
	_, gen, _ := r.c.snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen.After(r.gen)
}

// Generation returns the generation of the last value read.
func (r *Reader[T]) Generation() Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Connected reports whether the source cell still has strong handles.
func (r *Reader[T]) Connected() bool {
	return !r.c.isDisconnected()
}

// BlockUntilUpdated waits for a value newer than the last one read, marks it
// read and returns it. Intermediate values published while the caller was
// not waiting are skipped; the newest one is returned.
//
// It returns ErrDisconnected when the cell disconnects with no unread value,
// and ErrDeadlock instead of waiting when called from a callback of the same
// cell or while holding its lock.
func (r *Reader[T]) BlockUntilUpdated() (T, error) {
	return r.WaitUntilUpdated(context.Background())
}

// WaitUntilUpdated is BlockUntilUpdated with cancellation. It returns
// ctx.Err() when ctx is done first.
func (r *Reader[T]) WaitUntilUpdated(ctx context.Context) (T, error) {
	var zero T
	c := r.c
	for {
		r.mu.Lock()
		closed, last := r.closed, r.gen
		r.mu.Unlock()
		if closed {
			return zero, ErrReaderClosed
		}

		if err := c.lock(); err != nil {
			return zero, err
		}
		if c.gen.After(last) {
			v, gen := c.value, c.gen
			c.mu.Unlock()
			if r.advance(last, gen) {
				return v, nil
			}
			// Another waiter on this reader took the value; wait again.
			continue
		}
		if c.disconnected {
			c.mu.Unlock()
			return zero, ErrDisconnected
		}
		changed := c.changed
		c.mu.Unlock()

		// A pass of this cell on the calling goroutine cannot complete while
		// it waits for the next change.
		if c.rt.isDispatching(c.id) {
			return zero, ErrDeadlock
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// advance moves the read cursor from last to gen unless someone else moved
// it first.
func (r *Reader[T]) advance(last, gen Generation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != last {
		return false
	}
	r.gen = gen
	return true
}

// Updates yields every new value observed by the reader until the cell
// disconnects, ctx is done or the loop stops.
func (r *Reader[T]) Updates(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := r.WaitUntilUpdated(ctx)
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// OnDisconnect registers fn to run once when the source cell disconnects.
// If the cell is already disconnected fn runs immediately. fn never runs
// after Close.
func (r *Reader[T]) OnDisconnect(fn func()) {
	guarded := func() {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if !closed {
			fn()
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	id, ok, err := r.c.addWatcher(r.c.rt.nextID(), guarded)
	if ok {
		r.watchers = append(r.watchers, id)
	}
	r.mu.Unlock()

	if err != nil {
		panic(fmt.Errorf("reactive: reader OnDisconnect on cell %s: %w", r.c.ref(), err))
	}
	if !ok {
		fn()
	}
}

// =============================================================================
// Disconnect watchers
// =============================================================================

type disconnectWatcher struct {
	id   uint64
	once sync.Once
	fn   func()
}

func (w *disconnectWatcher) fire() {
	w.once.Do(w.fn)
}

// addWatcher registers fn under id. It returns false if the cell has
// already disconnected.
func (c *cell[T]) addWatcher(id uint64, fn func()) (uint64, bool, error) {
	if err := c.lock(); err != nil {
		return 0, false, err
	}
	defer c.mu.Unlock()
	if c.disconnected {
		return 0, false, nil
	}
	if c.watchers == nil {
		c.watchers = make(map[uint64]*disconnectWatcher)
	}
	c.watchers[id] = &disconnectWatcher{id: id, fn: fn}
	return id, true, nil
}

func (c *cell[T]) removeWatcher(id uint64) {
	c.mustLock("reader Close")
	defer c.mu.Unlock()
	delete(c.watchers, id)
}

// WaitAfter implements Inspector.
func (c *cell[T]) WaitAfter(ctx context.Context, gen Generation) (CellInfo, error) {
	for {
		if err := c.lock(); err != nil {
			return CellInfo{}, err
		}
		if c.gen.After(gen) {
			c.mu.Unlock()
			return c.Info(), nil
		}
		if c.disconnected {
			c.mu.Unlock()
			return CellInfo{}, ErrDisconnected
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return CellInfo{}, ctx.Err()
		}
	}
}
