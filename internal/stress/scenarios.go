package stress

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/reactor/pkg/reactive"
)

var scenarios = []Scenario{
	{
		Name:        "no-lost-updates",
		Description: "concurrent read-modify-write increments are never lost",
		Run:         noLostUpdates,
	},
	{
		Name:        "reader-wakes",
		Description: "a waiting reader always observes the final value",
		Run:         readerWakes,
	},
	{
		Name:        "disconnect-unblocks",
		Description: "releasing the last handle wakes every blocked reader",
		Run:         disconnectUnblocks,
	},
	{
		Name:        "cycle-terminates",
		Description: "self-feeding callbacks are cut off and Set returns",
		Run:         cycleTerminates,
	},
	{
		Name:        "map-released-with-source",
		Description: "mapped cells track their source and detach when released",
		Run:         mapReleasedWithSource,
	},
	{
		Name:        "last-writer-wins",
		Description: "callbacks always end on the cell's final value",
		Run:         lastWriterWins,
	},
	{
		Name:        "shared-sink",
		Description: "sources written from many goroutines feed one cell without false cycles",
		Run:         sharedSink,
	},
}

// writers runs fn(worker, iteration) on env.Goroutines goroutines.
func writers(ctx context.Context, env *Env, fn func(w, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for w := range env.Goroutines {
		g.Go(func() error {
			for i := range env.Iterations {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(w, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func noLostUpdates(ctx context.Context, env *Env) error {
	d := reactive.NewNamedDynamic(env.Runtime, "stress.counter", 0)
	defer d.Release()

	var last atomic.Int64
	h := d.ForEach(func(v int) { last.Store(int64(v)) })
	defer h.Disconnect()

	err := writers(ctx, env, func(int, int) error {
		d.MapMut(func(v *int) bool {
			*v++
			return true
		})
		return nil
	})
	if err != nil {
		return err
	}

	want := env.Goroutines * env.Iterations
	if got := d.Get(); got != want {
		return fmt.Errorf("counter = %d, want %d", got, want)
	}
	if got := last.Load(); got != int64(want) {
		return fmt.Errorf("last callback value = %d, want %d", got, want)
	}
	return nil
}

func readerWakes(ctx context.Context, env *Env) error {
	d := reactive.NewNamedDynamic(env.Runtime, "stress.progress", 0)
	defer d.Release()
	want := env.Goroutines * env.Iterations

	r := d.CreateReader()
	defer r.Close()

	seen := make(chan error, 1)
	go func() {
		prev := 0
		for v := range r.Updates(ctx) {
			if v < prev {
				seen <- fmt.Errorf("reader went backwards: %d after %d", v, prev)
				return
			}
			prev = v
			if v == want {
				seen <- nil
				return
			}
		}
		seen <- fmt.Errorf("reader stopped at %d, want %d: %w", prev, want, ctx.Err())
	}()

	err := writers(ctx, env, func(int, int) error {
		d.MapMut(func(v *int) bool {
			*v++
			return true
		})
		return nil
	})
	if err != nil {
		return err
	}
	return <-seen
}

func disconnectUnblocks(ctx context.Context, env *Env) error {
	d := reactive.NewNamedDynamic(env.Runtime, "stress.doomed", 0)

	var blocked sync.WaitGroup
	errs := make(chan error, env.Goroutines)
	for range env.Goroutines {
		r := d.CreateReader()
		blocked.Add(1)
		go func() {
			defer r.Close()
			blocked.Done()
			_, err := r.WaitUntilUpdated(ctx)
			errs <- err
		}()
	}
	blocked.Wait()
	d.Release()

	for range env.Goroutines {
		select {
		case err := <-errs:
			if !stderrors.Is(err, reactive.ErrDisconnected) {
				return fmt.Errorf("reader returned %v, want %v", err, reactive.ErrDisconnected)
			}
		case <-ctx.Done():
			return fmt.Errorf("reader still blocked after release: %w", ctx.Err())
		}
	}
	return nil
}

func cycleTerminates(ctx context.Context, env *Env) error {
	// The broken cycles are expected, so their error logs are discarded.
	rt := reactive.NewRuntime(
		reactive.WithName(env.Runtime.Name()+".cycle"),
		reactive.WithLogger(slog.New(slog.DiscardHandler)),
		reactive.WithMaxCoalescedPasses(8),
	)

	err := writers(ctx, &Env{Runtime: rt, Goroutines: env.Goroutines, Iterations: 1}, func(w, _ int) error {
		d := reactive.NewDynamic(rt, 0)
		defer d.Release()
		h := d.ForEach(func(v int) { d.Set(v + 1) })
		defer h.Disconnect()

		return await(ctx, fmt.Sprintf("Set on cycling cell %d", w), func() error {
			d.Set(1)
			return nil
		})
	})
	if err != nil {
		return err
	}

	if cycles := rt.Stats().Cycles; cycles < uint64(env.Goroutines) {
		return fmt.Errorf("detected %d cycles, want at least %d", cycles, env.Goroutines)
	}
	return nil
}

func mapReleasedWithSource(ctx context.Context, env *Env) error {
	src := reactive.NewNamedDynamic(env.Runtime, "stress.source", 0)
	defer src.Release()

	maps := make([]*reactive.Dynamic[int], env.Goroutines)
	for i := range maps {
		maps[i] = reactive.Map(src, func(v int) int { return v*10 + i })
	}

	err := writers(ctx, env, func(w, i int) error {
		src.Set(w*env.Iterations + i)
		return nil
	})
	if err != nil {
		return err
	}

	final := src.Get()
	for i, m := range maps {
		if got, want := m.Get(), final*10+i; got != want {
			return fmt.Errorf("map %d = %d, want %d for source %d", i, got, want, final)
		}
	}

	var g errgroup.Group
	for _, m := range maps {
		g.Go(func() error {
			m.Release()
			return nil
		})
	}
	g.Wait()

	if n := src.Info().Callbacks; n != 0 {
		return fmt.Errorf("source still has %d callbacks after releasing its maps", n)
	}
	return nil
}

func lastWriterWins(ctx context.Context, env *Env) error {
	d := reactive.NewNamedDynamic(env.Runtime, "stress.latest", -1)
	defer d.Release()

	var (
		mu   sync.Mutex
		last = -1
	)
	h := d.ForEach(func(v int) {
		mu.Lock()
		last = v
		mu.Unlock()
	})
	defer h.Disconnect()

	err := writers(ctx, env, func(w, i int) error {
		return d.TrySet(w*env.Iterations + i)
	})
	if err != nil {
		return err
	}

	mu.Lock()
	got := last
	mu.Unlock()
	if want := d.Get(); got != want {
		return fmt.Errorf("last delivered value = %d, final value = %d", got, want)
	}
	return nil
}

func sharedSink(ctx context.Context, env *Env) error {
	// A runtime of its own so cycles from other scenarios are not counted.
	rt := reactive.NewRuntime(
		reactive.WithName(env.Runtime.Name()+".sink"),
		reactive.WithLogger(env.Runtime.Logger()),
		reactive.WithMaxCoalescedPasses(4),
	)

	sink := reactive.NewNamedDynamic(rt, "stress.sink", -1)
	defer sink.Release()

	var (
		mu   sync.Mutex
		last = -1
	)
	hs := sink.ForEach(func(v int) {
		mu.Lock()
		last = v
		mu.Unlock()
	})
	defer hs.Disconnect()

	sources := make([]*reactive.Dynamic[int], env.Goroutines)
	for w := range sources {
		sources[w] = reactive.NewDynamic(rt, 0)
		defer sources[w].Release()
		h := sources[w].ForEach(sink.Set)
		defer h.Disconnect()
	}

	err := writers(ctx, env, func(w, i int) error {
		sources[w].Set(w*env.Iterations + i)
		return nil
	})
	if err != nil {
		return err
	}

	if cycles := rt.Stats().Cycles; cycles != 0 {
		return fmt.Errorf("%d cycles reported for an acyclic graph", cycles)
	}
	mu.Lock()
	got := last
	mu.Unlock()
	if want := sink.Get(); got != want {
		return fmt.Errorf("last delivered value = %d, final value = %d", got, want)
	}
	return nil
}
