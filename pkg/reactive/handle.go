package reactive

import "sync"

// Releaser is implemented by handles that hold a resource until released,
// such as *Dynamic[T] and *Reader[T].
type Releaser interface {
	Release()
}

// handleEntry controls a single registered callback.
type handleEntry struct {
	mu sync.Mutex

	// remove unregisters the callback. nil once disconnected or persisted.
	remove func()

	// owner is a strong handle keeping the source cell connected while the
	// callback is registered. nil for weak entries.
	owner Releaser
}

func (e *handleEntry) disconnect() {
	e.mu.Lock()
	remove, owner := e.remove, e.owner
	e.remove, e.owner = nil, nil
	e.mu.Unlock()

	if remove != nil {
		remove()
	}
	if owner != nil {
		owner.Release()
	}
}

func (e *handleEntry) persist() {
	e.mu.Lock()
	owner := e.owner
	e.remove, e.owner = nil, nil
	e.mu.Unlock()

	if owner != nil {
		owner.Release()
	}
}

func (e *handleEntry) forgetOwner() {
	e.mu.Lock()
	owner := e.owner
	e.owner = nil
	e.mu.Unlock()

	if owner != nil {
		owner.Release()
	}
}

// CallbackHandle controls one or more callbacks registered on cells.
//
// Callbacks stay registered until Disconnect is called or their cell
// disconnects. By default a handle also keeps its source cell connected;
// Weak drops that hold without unregistering the callback.
//
// The zero CallbackHandle is empty. Copies of a handle control the same
// callbacks.
type CallbackHandle struct {
	entries []*handleEntry
}

func newCallbackHandle(remove func(), owner Releaser) CallbackHandle {
	return CallbackHandle{entries: []*handleEntry{{remove: remove, owner: owner}}}
}

// JoinHandles combines handles into one. Disposing the result disposes all
// of them.
func JoinHandles(handles ...CallbackHandle) CallbackHandle {
	var n int
	for _, h := range handles {
		n += len(h.entries)
	}
	if n == 0 {
		return CallbackHandle{}
	}
	entries := make([]*handleEntry, 0, n)
	for _, h := range handles {
		entries = append(entries, h.entries...)
	}
	return CallbackHandle{entries: entries}
}

// Join returns a handle controlling the callbacks of both h and other.
func (h CallbackHandle) Join(other CallbackHandle) CallbackHandle {
	return JoinHandles(h, other)
}

// Disconnect unregisters every callback and releases any source handles.
// It is safe to call more than once.
func (h CallbackHandle) Disconnect() {
	for _, e := range h.entries {
		e.disconnect()
	}
}

// Release is an alias for Disconnect so handles can be owned by a Scope.
func (h CallbackHandle) Release() {
	h.Disconnect()
}

// Persist gives up control of the callbacks: they stay registered for as
// long as their cells are connected. Source handles are released.
func (h CallbackHandle) Persist() {
	for _, e := range h.entries {
		e.persist()
	}
}

// ForgetOwners releases the strong source handles held by h while leaving
// the callbacks registered. The source cells may then disconnect
// independently of this handle.
func (h CallbackHandle) ForgetOwners() {
	for _, e := range h.entries {
		e.forgetOwner()
	}
}

// Weak calls ForgetOwners and returns h.
func (h CallbackHandle) Weak() CallbackHandle {
	h.ForgetOwners()
	return h
}

// Len returns the number of callbacks joined into h.
func (h CallbackHandle) Len() int {
	return len(h.entries)
}

// IsEmpty reports whether h controls no callbacks.
func (h CallbackHandle) IsEmpty() bool {
	return len(h.entries) == 0
}
