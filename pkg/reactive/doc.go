// Package reactive provides shared, observable value cells for concurrent Go
// programs.
//
// A Dynamic[T] holds a value, a generation counter that advances on every
// published change, and an ordered list of change callbacks. Any number of
// goroutines may read and write the same cell.
//
// # Core Types
//
// Dynamic[T] is the reactive cell:
//
//	rt := reactive.NewRuntime()
//	count := reactive.NewDynamic(rt, 0)
//	count.Set(5)                  // publishes generation 1, runs callbacks
//	count.Update(5)               // no-op, value unchanged
//	doubled := reactive.Map(count, func(n int) int { return n * 2 })
//
// Reader[T] is a cursor over a cell's generations:
//
//	r := count.CreateReader()
//	v, err := r.BlockUntilUpdated() // waits for a generation newer than the last read
//	if errors.Is(err, reactive.ErrDisconnected) {
//	    // every strong handle to count was released
//	}
//
// CallbackHandle controls registered callbacks:
//
//	h := count.ForEach(func(n int) { fmt.Println(n) })
//	h = h.Join(other.ForEach(...))
//	defer h.Disconnect()
//
// # Lifetime
//
// Handles returned by NewDynamic, Clone and Map are strong: the cell stays
// connected until every strong handle has been released with Release (or
// collected by the garbage collector). Readers and derived cells never keep a
// source connected. When a cell disconnects its callbacks are dropped and
// blocked readers return ErrDisconnected.
//
// # Dispatch
//
// Callbacks run synchronously on the goroutine that published the change, in
// registration order, with no cell lock held. At most one dispatch pass runs
// per cell at a time. A change published while a pass for the same cell is in
// flight is coalesced into a follow-up pass that observes the newest value, so
// intermediate values may be skipped but the newest value is always delivered.
// A setter on another goroutine waits for that pass so that its value has
// reached callbacks when Set returns; a setter that is itself inside a pass
// hands the change off instead of waiting. Follow-up passes caused by the
// dispatching goroutine's own callbacks (feedback cycles) are bounded by
// Config.MaxCoalescedPasses and reported as ErrCycle.
//
// # Channels
//
// Channel[T] delivers every value, in send order, to one receive callback
// running on a goroutine owned by the channel:
//
//	ch := reactive.NewChannel(rt, func(ev Event) { handle(ev) }, reactive.WithCapacity(64))
//	ch.Send(ev)    // blocks while a bounded channel is full
//	ch.TrySend(ev) // ErrChannelFull instead of blocking
//
// A failing or panicking receive callback disconnects the channel and later
// sends return ErrDisconnected.
//
// # Runtime
//
// Runtime is an explicit context object owning id allocation, the arena of
// live cells, logging and observation. There is no process-wide default
// runtime.
package reactive
