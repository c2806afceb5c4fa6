package reactive

import (
	"context"
	"errors"
	"sync"
	"time"
)

// dispatchState serializes the passes of one cell. It is guarded by its own
// mutex so a pass never holds the value lock while callbacks run.
type dispatchState struct {
	mu sync.Mutex

	// running is true while owner runs the dispatch loop.
	running bool
	owner   uint64

	// pending is set by changes from other goroutines while the loop runs.
	// cascaded is set by changes made by the owner's own callbacks; only
	// those count towards cycle detection.
	pending  bool
	cascaded bool

	// lastGen is the generation of the last completed pass.
	lastGen Generation

	// settled is closed and replaced after every completed pass and when the
	// loop stops. Setters waiting for their generation select on it.
	settled chan struct{}
}

// notifyLocked wakes goroutines waiting on settled. mu must be held.
func (ds *dispatchState) notifyLocked() {
	close(ds.settled)
	ds.settled = make(chan struct{})
}

// stopLocked gives up the loop. mu must be held.
func (ds *dispatchState) stopLocked() {
	ds.running, ds.owner, ds.cascaded = false, 0, false
	ds.notifyLocked()
}

// acquireResult is the outcome of trying to own a cell's dispatch loop.
type acquireResult int

const (
	acquired acquireResult = iota
	// handedOff means a running loop will dispatch the change.
	handedOff
	// covered means a completed pass already delivered the change or a newer one.
	covered
)

// publish schedules a pass for the cell's current value.
func (c *cell[T]) publish() {
	_, gen, _ := c.snapshot()
	c.publishUpTo(gen)
}

// publishUpTo returns once callbacks have seen target or a newer generation.
//
// A change made from a callback of the same cell is handed to the loop
// already running on this goroutine. A change made while another goroutine
// owns the loop waits for a pass covering it, unless the caller is itself
// inside a pass, in which case it is handed off and returns at once.
func (c *cell[T]) publishUpTo(target Generation) {
	rt := c.rt
	st := rt.enterState()
	defer rt.leaveState(st)

	if st.batchDepth > 0 {
		st.queueBatched(c)
		return
	}
	if st.depth >= rt.maxDepth {
		st.deferred = append(st.deferred, c)
		return
	}

	switch c.acquire(st, target) {
	case handedOff:
		rt.stats.coalesced.Add(1)
		rt.observer.Coalesced(c.ref())
		return
	case covered:
		return
	}

	c.runPasses(st)
	if st.depth == 0 && !st.draining {
		rt.drainDeferred(st)
	}
}

// acquire makes the calling goroutine the owner of the dispatch loop, or
// records the change with the current owner.
func (c *cell[T]) acquire(st *goroutineState, target Generation) acquireResult {
	ds := &c.dispatch
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for ds.running {
		if ds.owner == st.gid {
			ds.cascaded = true
			return handedOff
		}
		if !target.After(ds.lastGen) {
			return covered
		}
		ds.pending = true
		if st.depth > 0 {
			// Blocking here could wait on a loop that is waiting on ours.
			return handedOff
		}
		settled := ds.settled
		ds.mu.Unlock()
		<-settled
		ds.mu.Lock()
	}
	if !target.After(ds.lastGen) {
		return covered
	}
	ds.running, ds.owner, ds.pending = true, st.gid, false
	return acquired
}

// runPasses owns the dispatch loop until no coalesced change is left.
func (c *cell[T]) runPasses(st *goroutineState) {
	ds := &c.dispatch
	finished := false
	defer func() {
		if !finished {
			// A pass panicked outside callback recovery; release the loop so
			// later changes can dispatch.
			ds.mu.Lock()
			ds.pending = false
			ds.stopLocked()
			ds.mu.Unlock()
		}
	}()

	cascades := 0
	broken := false
	followUp := false
	for {
		value, gen, disconnected := c.snapshot()

		ds.mu.Lock()
		run := !disconnected && gen.After(ds.lastGen)
		ds.mu.Unlock()

		if run {
			c.pass(st, value, gen, followUp)
			ds.mu.Lock()
			ds.lastGen = gen
			ds.notifyLocked()
			ds.mu.Unlock()
		}

		ds.mu.Lock()
		cycle := false
		if ds.cascaded && !broken {
			cascades++
			if cascades > c.rt.maxPasses {
				broken, cycle = true, true
			}
		}
		if broken {
			// Changes from our own callbacks are no longer followed; changes
			// from other goroutines still are.
			ds.cascaded = false
		}
		if disconnected || (!ds.pending && !ds.cascaded) {
			if disconnected {
				ds.pending = false
			}
			ds.stopLocked()
			ds.mu.Unlock()
			finished = true
			if cycle {
				c.reportCycle(st, cascades)
			}
			return
		}
		ds.pending, ds.cascaded = false, false
		ds.mu.Unlock()
		if cycle {
			c.reportCycle(st, cascades)
		}
		followUp = true
	}
}

// pass invokes every live callback with value, in registration order.
func (c *cell[T]) pass(st *goroutineState, value T, gen Generation, followUp bool) {
	rt := c.rt
	entries := c.callbacks.snapshot()

	rt.stats.passes.Add(1)
	parent := st.passCtx()
	ctx, done := rt.observer.PassStarted(parent, PassInfo{
		Cell:       c.ref(),
		Generation: gen,
		Callbacks:  len(entries),
		FollowUp:   followUp,
	})
	if c.budget != nil {
		now := time.Now()
		if c.budget.record(now) {
			rt.logger.Warn("dispatch budget exceeded",
				"cell_id", c.id,
				"cell", c.name,
				"passes", rt.budgetPasses,
				"window", rt.budgetWindow,
				"in_window", c.budget.count(now),
			)
		}
	}

	invoked := 0
	st.enterPass(c.id, ctx)
	defer func() {
		st.leavePass(c.id, parent)
		done(invoked)
	}()

	for _, e := range entries {
		// Removed after the snapshot was taken.
		if e.removed.Load() {
			continue
		}
		invoked++
		if err := c.invoke(e, value, gen); err != nil {
			c.callbackFailed(ctx, e, err)
		}
	}
}

// invoke runs one callback, converting a panic into *CallbackPanicError.
func (c *cell[T]) invoke(e *callbackEntry[T], value T, gen Generation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackPanicError{Cell: c.ref(), Recovered: r}
		}
	}()
	return e.fn(value, gen)
}

func (c *cell[T]) callbackFailed(ctx context.Context, e *callbackEntry[T], err error) {
	rt := c.rt
	if errors.Is(err, ErrCallbackDisconnected) {
		c.callbacks.remove(e.id)
		return
	}

	rt.stats.callbackErrors.Add(1)
	rt.observer.CallbackFailed(ctx, c.ref(), err)

	var panicErr *CallbackPanicError
	if errors.As(err, &panicErr) {
		c.callbacks.remove(e.id)
		rt.logger.Error("callback panicked, removed",
			"cell_id", c.id,
			"cell", c.name,
			"callback_id", e.id,
			"panic", panicErr.Recovered,
		)
		return
	}
	rt.logger.Warn("callback failed",
		"cell_id", c.id,
		"cell", c.name,
		"callback_id", e.id,
		"error", err,
	)
}

func (c *cell[T]) reportCycle(st *goroutineState, passes int) {
	rt := c.rt
	rt.stats.cycles.Add(1)
	rt.observer.CycleDetected(st.passCtx(), c.ref(), passes)
	rt.logger.Error("callback cycle broken",
		"cell_id", c.id,
		"cell", c.name,
		"passes", passes,
		"error", ErrCycle,
	)
}

// drainDeferred runs passes that were pushed back because the goroutine's
// pass stack was full. It is called by the outermost dispatcher only.
func (rt *Runtime) drainDeferred(st *goroutineState) {
	if len(st.deferred) == 0 {
		return
	}
	st.draining = true
	defer func() { st.draining = false }()

	limit := rt.maxPasses * rt.maxDepth
	drained := 0
	for len(st.deferred) > 0 {
		if drained >= limit {
			dropped := len(st.deferred)
			st.deferred = nil
			rt.stats.cycles.Add(1)
			rt.logger.Error("deferred dispatch limit reached",
				"dropped", dropped,
				"limit", limit,
				"error", ErrCycle,
			)
			return
		}
		p := st.deferred[0]
		st.deferred[0] = nil
		st.deferred = st.deferred[1:]
		drained++
		p.publish()
	}
}
