package reactive

import (
	"sync"
	"sync/atomic"
)

// Scope owns callback handles, cell and reader handles, and cleanup
// functions for one lifetime, such as a widget. Disposing a scope disposes
// its children and releases everything it owns.
//
// Scopes form a tree mirroring the owners of the lifetimes: a child is
// disposed with its parent.
type Scope struct {
	// parent is nil for a root scope.
	parent *Scope

	children   []*Scope
	childrenMu sync.Mutex

	// cleanups include Track and Own registrations.
	cleanups   []func()
	cleanupsMu sync.Mutex

	disposed atomic.Bool
}

// NewScope creates a scope. A non-nil parent disposes the new scope when it
// is disposed itself.
func NewScope(parent *Scope) *Scope {
	s := &Scope{parent: parent}
	if parent != nil {
		if !parent.addChild(s) {
			// Parent already gone: the child starts disposed.
			s.disposed.Store(true)
		}
	}
	return s
}

// Parent returns the parent scope, or nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// IsDisposed reports whether Dispose has been called.
func (s *Scope) IsDisposed() bool {
	return s.disposed.Load()
}

func (s *Scope) addChild(child *Scope) bool {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	if s.disposed.Load() {
		return false
	}
	s.children = append(s.children, child)
	return true
}

func (s *Scope) removeChild(child *Scope) {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()

	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// Track disconnects h when the scope is disposed and returns h.
func (s *Scope) Track(h CallbackHandle) CallbackHandle {
	s.OnCleanup(h.Disconnect)
	return h
}

// Own releases r when the scope is disposed.
func (s *Scope) Own(r Releaser) {
	s.OnCleanup(r.Release)
}

// OnCleanup registers fn to run when the scope is disposed. Cleanups run in
// reverse registration order. If the scope is already disposed fn runs
// immediately.
func (s *Scope) OnCleanup(fn func()) {
	s.cleanupsMu.Lock()
	if s.disposed.Load() {
		s.cleanupsMu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.cleanupsMu.Unlock()
}

// Dispose disposes children (last created first), then runs cleanups in
// reverse order. Only the first call has any effect.
func (s *Scope) Dispose() {
	s.cleanupsMu.Lock()
	already := s.disposed.Swap(true)
	s.cleanupsMu.Unlock()
	if already {
		return
	}

	if s.parent != nil {
		s.parent.removeChild(s)
	}

	s.childrenMu.Lock()
	children := s.children
	s.children = nil
	s.childrenMu.Unlock()

	for i := len(children) - 1; i >= 0; i-- {
		children[i].Dispose()
	}

	s.cleanupsMu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.cleanupsMu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
