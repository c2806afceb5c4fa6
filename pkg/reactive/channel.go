package reactive

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ChannelOption configures a Channel.
type ChannelOption func(*channelConfig)

type channelConfig struct {
	name     string
	capacity int
}

// WithCapacity bounds the number of queued values. Zero, the default, means
// unbounded.
func WithCapacity(n int) ChannelOption {
	return func(c *channelConfig) {
		c.capacity = max(n, 0)
	}
}

// WithChannelName sets the name used in logs and errors.
func WithChannelName(name string) ChannelOption {
	return func(c *channelConfig) {
		c.name = name
	}
}

// Channel is a multi-sender queue whose values are each handed to one
// receive callback, in send order, on a goroutine owned by the channel.
//
// Where a Dynamic may skip intermediate values, a Channel never does. The
// receiver stops when its callback fails or after the last handle has been
// released and every queued value has been delivered.
type Channel[T any] struct {
	ch       *channel[T]
	released atomic.Bool
	cleanup  runtime.Cleanup
}

type channel[T any] struct {
	rt   *Runtime
	id   uint64
	name string

	onReceive func(T) error
	limit     int

	// mu protects every field below.
	mu    sync.Mutex
	queue []T

	// changed is closed and replaced whenever the queue or the state below
	// changes. Senders waiting for space and the receiver select on it.
	changed chan struct{}

	handles      int
	disconnected bool

	// receiver is the goroutine id of the receive loop.
	receiver atomic.Uint64
	done     chan struct{}
}

// NewChannel creates a channel in rt that calls onReceive for every value
// sent. If rt is nil the channel gets a runtime of its own.
func NewChannel[T any](rt *Runtime, onReceive func(T), opts ...ChannelOption) *Channel[T] {
	return NewChannelTry(rt, func(v T) error {
		onReceive(v)
		return nil
	}, opts...)
}

// NewChannelTry is NewChannel for callbacks that may fail. Any error,
// including ErrCallbackDisconnected, disconnects the channel; errors other
// than ErrCallbackDisconnected are also logged and counted.
func NewChannelTry[T any](rt *Runtime, onReceive func(T) error, opts ...ChannelOption) *Channel[T] {
	if rt == nil {
		rt = NewRuntime()
	}
	var cfg channelConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &channel[T]{
		rt:        rt,
		id:        rt.nextID(),
		name:      cfg.name,
		onReceive: onReceive,
		limit:     cfg.capacity,
		changed:   make(chan struct{}),
		handles:   1,
		done:      make(chan struct{}),
	}
	go c.run()
	return newChannelHandle(c)
}

func newChannelHandle[T any](c *channel[T]) *Channel[T] {
	h := &Channel[T]{ch: c}
	h.cleanup = runtime.AddCleanup(h, func(c *channel[T]) { c.release() }, c)
	return h
}

// Send queues v. When the channel is full it blocks until the receiver makes
// room. It returns ErrDisconnected once the receive callback has failed, and
// ErrDeadlock when called from the channel's own receive callback while the
// channel is full.
func (ch *Channel[T]) Send(v T) error {
	return ch.ch.send(context.Background(), v, true)
}

// SendContext is Send with cancellation. It returns ctx.Err() when ctx is
// done before v could be queued.
func (ch *Channel[T]) SendContext(ctx context.Context, v T) error {
	return ch.ch.send(ctx, v, true)
}

// TrySend queues v without blocking. It returns ErrChannelFull when the
// channel is at capacity and ErrDisconnected once the receive callback has
// failed.
func (ch *Channel[T]) TrySend(v T) error {
	return ch.ch.send(context.Background(), v, false)
}

// Len returns the number of queued values not yet handed to the receiver.
func (ch *Channel[T]) Len() int {
	c := ch.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Cap returns the channel capacity, or 0 when unbounded.
func (ch *Channel[T]) Cap() int {
	return ch.ch.limit
}

// Connected reports whether the receiver still accepts values.
func (ch *Channel[T]) Connected() bool {
	c := ch.ch
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

// Done is closed once the receive loop has stopped.
func (ch *Channel[T]) Done() <-chan struct{} {
	return ch.ch.done
}

// Clone returns another handle sending to the same receiver.
func (ch *Channel[T]) Clone() *Channel[T] {
	c := ch.ch
	c.mu.Lock()
	c.handles++
	c.mu.Unlock()
	return newChannelHandle(c)
}

// Release gives up this handle. After the last handle is released the
// receiver delivers what is queued and stops. Calling Release twice is a
// no-op.
func (ch *Channel[T]) Release() {
	if ch == nil || !ch.released.CompareAndSwap(false, true) {
		return
	}
	ch.cleanup.Stop()
	ch.ch.release()
}

// =============================================================================
// channel internals
// =============================================================================

func (c *channel[T]) ref() CellRef {
	return CellRef{ID: c.id, Name: c.name}
}

// notifyLocked wakes everything waiting on changed. mu must be held.
func (c *channel[T]) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *channel[T]) send(ctx context.Context, v T, block bool) error {
	c.mu.Lock()
	for {
		if c.disconnected {
			c.mu.Unlock()
			return ErrDisconnected
		}
		if c.limit == 0 || len(c.queue) < c.limit {
			break
		}
		if !block {
			c.mu.Unlock()
			return ErrChannelFull
		}
		if c.receiver.Load() == getGoroutineID() {
			c.mu.Unlock()
			return ErrDeadlock
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}

	c.queue = append(c.queue, v)
	c.notifyLocked()
	c.mu.Unlock()
	return nil
}

func (c *channel[T]) release() {
	c.mu.Lock()
	c.handles--
	c.notifyLocked()
	c.mu.Unlock()
}

// run is the receive loop.
func (c *channel[T]) run() {
	c.receiver.Store(getGoroutineID())
	defer close(c.done)

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.disconnected && c.handles > 0 {
			changed := c.changed
			c.mu.Unlock()
			<-changed
			c.mu.Lock()
		}
		if c.disconnected || len(c.queue) == 0 {
			c.mu.Unlock()
			c.rt.logger.Debug("channel stopped", "channel_id", c.id, "channel", c.name)
			return
		}
		v := c.queue[0]
		var zero T
		c.queue[0] = zero
		c.queue = c.queue[1:]
		c.notifyLocked()
		c.mu.Unlock()

		if err := c.invoke(v); err != nil {
			c.failed(err)
		}
	}
}

// invoke runs the receive callback, converting a panic into
// *CallbackPanicError.
func (c *channel[T]) invoke(v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CallbackPanicError{Cell: c.ref(), Recovered: r}
		}
	}()
	return c.onReceive(v)
}

// failed disconnects the channel, dropping queued values and waking blocked
// senders.
func (c *channel[T]) failed(err error) {
	c.mu.Lock()
	dropped := len(c.queue)
	c.queue = nil
	c.disconnected = true
	c.notifyLocked()
	c.mu.Unlock()

	if errors.Is(err, ErrCallbackDisconnected) {
		c.rt.logger.Debug("channel disconnected", "channel_id", c.id, "channel", c.name, "dropped", dropped)
		return
	}
	rt := c.rt
	rt.stats.callbackErrors.Add(1)
	rt.observer.CallbackFailed(context.Background(), c.ref(), err)
	rt.logger.Warn("channel receiver failed, disconnected",
		"channel_id", c.id,
		"channel", c.name,
		"dropped", dropped,
		"error", err,
	)
}
