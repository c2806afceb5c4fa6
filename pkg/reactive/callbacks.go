package reactive

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// callbackEntry is one registered callback.
type callbackEntry[T any] struct {
	id uint64

	// fn receives the value of the pass and its generation.
	fn func(T, Generation) error

	// removed is set when the entry leaves the registry. A pass that already
	// copied the entry skips it.
	removed atomic.Bool
}

// callbackRegistry keeps callbacks in registration order with O(1) removal
// by id.
type callbackRegistry[T any] struct {
	mu     sync.Mutex
	order  *list.List
	index  map[uint64]*list.Element
	closed bool
}

func newCallbackRegistry[T any]() *callbackRegistry[T] {
	return &callbackRegistry[T]{
		order: list.New(),
		index: make(map[uint64]*list.Element),
	}
}

// add appends a callback. It returns false once the registry has been
// closed by a disconnect.
func (r *callbackRegistry[T]) add(id uint64, fn func(T, Generation) error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.index[id] = r.order.PushBack(&callbackEntry[T]{id: id, fn: fn})
	return true
}

// remove drops the callback with the given id.
func (r *callbackRegistry[T]) remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.index[id]
	if !ok {
		return false
	}
	delete(r.index, id)
	e := r.order.Remove(el).(*callbackEntry[T])
	e.removed.Store(true)
	return true
}

// snapshot copies the live entries in order.
// Uses copy-before-notify so no lock is held while callbacks run.
func (r *callbackRegistry[T]) snapshot() []*callbackEntry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*callbackEntry[T], 0, r.order.Len())
	for el := r.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*callbackEntry[T]))
	}
	return entries
}

// close removes every callback and rejects further registrations.
func (r *callbackRegistry[T]) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for el := r.order.Front(); el != nil; el = el.Next() {
		el.Value.(*callbackEntry[T]).removed.Store(true)
	}
	r.order.Init()
	clear(r.index)
}

func (r *callbackRegistry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
