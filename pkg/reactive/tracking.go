package reactive

import (
	"context"
	"runtime"
)

// goroutineState holds the per-goroutine dispatch bookkeeping of one Runtime.
// It is only ever touched by the goroutine it belongs to, so it needs no lock.
type goroutineState struct {
	gid uint64

	// depth is the number of dispatch passes currently on this goroutine's stack.
	depth int

	// dispatching counts in-flight passes per cell id on this goroutine.
	// A Set on a cell present here is re-entrant.
	dispatching map[uint64]int

	// ctx is the observer context of the innermost pass, nil outside passes.
	ctx context.Context

	// batchDepth tracks nested Runtime.Batch calls.
	batchDepth int

	// batched holds cells changed during the current batch, in first-change
	// order, deduplicated by id.
	batched    []publisher
	batchedIDs map[uint64]struct{}

	// deferred holds cells whose dispatch was pushed back because the pass
	// stack reached Config.MaxDispatchDepth.
	deferred []publisher

	// draining is set while the outermost dispatcher runs deferred passes.
	draining bool
}

// publisher is the type-erased dispatch entry point of a cell.
type publisher interface {
	cellID() uint64
	publish()
}

func (s *goroutineState) idle() bool {
	return s.depth == 0 && s.batchDepth == 0 && !s.draining && len(s.deferred) == 0 && len(s.batched) == 0
}

func (s *goroutineState) enterPass(id uint64, ctx context.Context) {
	s.depth++
	s.dispatching[id]++
	s.ctx = ctx
}

// leavePass pops a pass and restores the enclosing pass context.
func (s *goroutineState) leavePass(id uint64, parent context.Context) {
	s.depth--
	s.ctx = parent
	if n := s.dispatching[id] - 1; n > 0 {
		s.dispatching[id] = n
	} else {
		delete(s.dispatching, id)
	}
}

// passCtx returns the context of the innermost pass on this goroutine.
func (s *goroutineState) passCtx() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *goroutineState) queueBatched(p publisher) {
	if s.batchedIDs == nil {
		s.batchedIDs = make(map[uint64]struct{})
	}
	id := p.cellID()
	if _, ok := s.batchedIDs[id]; ok {
		return
	}
	s.batchedIDs[id] = struct{}{}
	s.batched = append(s.batched, p)
}

func (s *goroutineState) drainBatched() []publisher {
	out := s.batched
	s.batched = nil
	s.batchedIDs = nil
	return out
}

// getGoroutineID returns a unique identifier for the current goroutine.
// This uses the runtime stack to extract the goroutine ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	// The stack starts with "goroutine <id> "
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] == ' ' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// lookupState returns the calling goroutine's state, or nil if it has none.
// When no goroutine of the runtime holds state the goroutine id is not
// computed at all.
func (rt *Runtime) lookupState() *goroutineState {
	if rt.activeStates.Load() == 0 {
		return nil
	}
	if st, ok := rt.states.Load(getGoroutineID()); ok {
		return st.(*goroutineState)
	}
	return nil
}

// enterState returns the calling goroutine's state, creating it if needed.
// Every enterState must be paired with leaveState.
func (rt *Runtime) enterState() *goroutineState {
	gid := getGoroutineID()
	if st, ok := rt.states.Load(gid); ok {
		return st.(*goroutineState)
	}
	st := &goroutineState{
		gid:         gid,
		dispatching: make(map[uint64]int),
	}
	rt.states.Store(gid, st)
	rt.activeStates.Add(1)
	return st
}

// leaveState drops the goroutine's state once nothing is in flight.
func (rt *Runtime) leaveState(st *goroutineState) {
	if !st.idle() {
		return
	}
	if _, loaded := rt.states.LoadAndDelete(st.gid); loaded {
		rt.activeStates.Add(-1)
	}
}

// isDispatching reports whether the calling goroutine is inside a pass of
// the given cell.
func (rt *Runtime) isDispatching(id uint64) bool {
	st := rt.lookupState()
	return st != nil && st.dispatching[id] > 0
}
