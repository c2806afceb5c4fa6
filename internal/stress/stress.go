package stress

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/reactor/internal/errors"
	"github.com/vango-dev/reactor/pkg/reactive"
	"github.com/vango-dev/reactor/pkg/report"
)

// Result is the outcome of one scenario.
type Result = report.Result

// Env is what a scenario runs against.
type Env struct {
	// Runtime is shared by every scenario of a run.
	Runtime *reactive.Runtime

	Goroutines int
	Iterations int

	Logger *slog.Logger
}

// Scenario exercises one engine guarantee. Run returns nil when the
// guarantee held.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, env *Env) error
}

// Config sizes a run.
type Config struct {
	Goroutines int
	Iterations int

	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration

	// Scenarios limits the run to the named scenarios. Empty runs all.
	Scenarios []string

	Logger *slog.Logger
}

// Runner runs scenarios concurrently against one runtime.
type Runner struct {
	rt     *reactive.Runtime
	config Config
	logger *slog.Logger
}

// NewRunner creates a runner. Non-positive sizes fall back to 8 goroutines
// and 1000 iterations.
func NewRunner(rt *reactive.Runtime, cfg Config) *Runner {
	if cfg.Goroutines <= 0 {
		cfg.Goroutines = 8
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "stress")
	}
	return &Runner{rt: rt, config: cfg, logger: logger}
}

// Selected resolves the configured scenario names.
func (r *Runner) Selected() ([]Scenario, error) {
	if len(r.config.Scenarios) == 0 {
		return Scenarios(), nil
	}
	out := make([]Scenario, 0, len(r.config.Scenarios))
	for _, name := range r.config.Scenarios {
		s, ok := Lookup(name)
		if !ok {
			return nil, errors.New("R042").
				WithDetail(fmt.Sprintf("No scenario named %q.", name)).
				WithSuggestion("Run 'reactor stress --list' to see the scenarios")
		}
		out = append(out, s)
	}
	return out, nil
}

// Run executes the selected scenarios and returns their results in
// selection order. Scenario failures are reported in the results; the error
// is non-nil only when the selection is invalid or the run timed out.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	scenarios, err := r.Selected()
	if err != nil {
		return nil, err
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	env := &Env{
		Runtime:    r.rt,
		Goroutines: r.config.Goroutines,
		Iterations: r.config.Iterations,
		Logger:     r.logger,
	}

	results := make([]Result, len(scenarios))
	var g errgroup.Group
	for i, s := range scenarios {
		g.Go(func() error {
			res := runOne(ctx, s, env)
			results[i] = res

			attrs := []any{"scenario", s.Name, "passed", res.Passed, "duration", res.Duration}
			if res.Passed {
				r.logger.Info("scenario finished", attrs...)
			} else {
				r.logger.Warn("scenario failed", append(attrs, "detail", res.Detail)...)
			}
			return nil
		})
	}
	g.Wait()

	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return results, errors.New("R041").
			WithDetail(fmt.Sprintf("The run exceeded its %s timeout.", r.config.Timeout))
	}
	return results, nil
}

func runOne(ctx context.Context, s Scenario, env *Env) (res Result) {
	res.Name = s.Name
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Passed = false
			res.Detail = fmt.Sprintf("panic: %v", p)
		}
		res.Duration = time.Since(start)
	}()

	if err := s.Run(ctx, env); err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	return res
}

// Scenarios returns every registered scenario, in a stable order.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
	for _, s := range scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// await runs fn on its own goroutine and waits for it or ctx. A blocked fn
// is reported as a hang.
func await(ctx context.Context, what string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s did not return: %w", what, ctx.Err())
	}
}
