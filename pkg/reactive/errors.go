package reactive

import (
	"errors"
	"fmt"
)

// ErrDisconnected is returned by reader waits when every strong handle to the
// source cell has been released and no unread value remains. No further
// updates will be published.
var ErrDisconnected = errors.New("reactive: source disconnected")

// ErrDeadlock is returned when the calling goroutine tries to lock a cell it
// already holds, for example by calling Set from inside MapMut, or by
// blocking on a reader of that cell from inside MapRef.
var ErrDeadlock = errors.New("reactive: deadlock detected")

// ErrCycle is reported (logged and observed, never returned from Set) when
// callbacks keep re-publishing a cell past the configured coalesced pass
// limit.
var ErrCycle = errors.New("reactive: callback cycle detected")

// ErrCallbackDisconnected may be returned by a callback registered with
// ForEachTry to remove itself from the cell.
var ErrCallbackDisconnected = errors.New("reactive: callback disconnected")

// ErrReleased is returned when writing to a cell that has already
// disconnected.
var ErrReleased = errors.New("reactive: cell released")

// ErrReaderClosed is returned by operations on a reader after Close.
var ErrReaderClosed = errors.New("reactive: reader closed")

// ErrChannelFull is returned by Channel.TrySend when the channel is at
// capacity.
var ErrChannelFull = errors.New("reactive: channel full")

// CallbackPanicError wraps a value recovered from a panicking callback.
// The callback is removed from its cell.
type CallbackPanicError struct {
	Cell      CellRef
	Recovered any
}

// Error implements the error interface.
func (e *CallbackPanicError) Error() string {
	return fmt.Sprintf("reactive: callback on cell %s panicked: %v", e.Cell, e.Recovered)
}

// Unwrap returns the recovered value when it is itself an error.
func (e *CallbackPanicError) Unwrap() error {
	if err, ok := e.Recovered.(error); ok {
		return err
	}
	return nil
}
