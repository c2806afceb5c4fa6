package reactive

import (
	"context"
	"strconv"
)

// CellRef identifies a cell in observer callbacks and errors.
type CellRef struct {
	ID   uint64
	Name string
}

// String returns "name#id", or "#id" for unnamed cells.
func (r CellRef) String() string {
	return r.Name + "#" + strconv.FormatUint(r.ID, 10)
}

// PassInfo describes one dispatch pass.
type PassInfo struct {
	Cell       CellRef
	Generation Generation

	// Callbacks is the number of registered callbacks when the pass started.
	Callbacks int

	// FollowUp is true for passes that run because a change was coalesced
	// while an earlier pass for the same cell was in flight.
	FollowUp bool
}

// PassDone is returned by Observer.PassStarted and called once the pass has
// invoked its callbacks.
type PassDone func(invoked int)

// Observer receives engine events. Implementations must be safe for
// concurrent use and must not call back into the cell being reported.
//
// The context given to PassStarted is the one returned for the pass enclosing
// it on the same goroutine, or context.Background for an outermost pass.
// CycleDetected and CallbackFailed receive the context of the pass they
// happened in.
//
// Embed NopObserver to implement only the events you care about.
type Observer interface {
	CellCreated(cell CellRef)
	CellReleased(cell CellRef)
	ValueSet(cell CellRef)
	PassStarted(ctx context.Context, pass PassInfo) (context.Context, PassDone)
	Coalesced(cell CellRef)
	CycleDetected(ctx context.Context, cell CellRef, passes int)
	CallbackFailed(ctx context.Context, cell CellRef, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CellCreated(CellRef) {}
func (NopObserver) CellReleased(CellRef) {}
func (NopObserver) ValueSet(CellRef) {}
func (NopObserver) PassStarted(ctx context.Context, _ PassInfo) (context.Context, PassDone) {
	return ctx, nopPassDone
}
func (NopObserver) Coalesced(CellRef) {}
func (NopObserver) CycleDetected(context.Context, CellRef, int) {}
func (NopObserver) CallbackFailed(context.Context, CellRef, error) {}

func nopPassDone(int) {}

// Observers fans events out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	list := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	switch len(list) {
	case 0:
		return NopObserver{}
	case 1:
		return list[0]
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) CellCreated(c CellRef) {
	for _, o := range m {
		o.CellCreated(c)
	}
}

func (m multiObserver) CellReleased(c CellRef) {
	for _, o := range m {
		o.CellReleased(c)
	}
}

func (m multiObserver) ValueSet(c CellRef) {
	for _, o := range m {
		o.ValueSet(c)
	}
}

// PassStarted threads the context through the observers in order.
func (m multiObserver) PassStarted(ctx context.Context, p PassInfo) (context.Context, PassDone) {
	done := make([]PassDone, len(m))
	for i, o := range m {
		ctx, done[i] = o.PassStarted(ctx, p)
	}
	return ctx, func(invoked int) {
		for _, d := range done {
			if d != nil {
				d(invoked)
			}
		}
	}
}

func (m multiObserver) Coalesced(c CellRef) {
	for _, o := range m {
		o.Coalesced(c)
	}
}

func (m multiObserver) CycleDetected(ctx context.Context, c CellRef, passes int) {
	for _, o := range m {
		o.CycleDetected(ctx, c, passes)
	}
}

func (m multiObserver) CallbackFailed(ctx context.Context, c CellRef, err error) {
	for _, o := range m {
		o.CallbackFailed(ctx, c, err)
	}
}
