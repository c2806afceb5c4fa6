package reactive

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxCoalescedPasses bounds follow-up passes caused by callbacks
	// within a single dispatch loop.
	DefaultMaxCoalescedPasses = 16

	// DefaultMaxDispatchDepth bounds how many passes may be nested on one
	// goroutine before further dispatches are deferred.
	DefaultMaxDispatchDepth = 64
)

// Config holds Runtime settings.
type Config struct {
	// Name labels the runtime in logs.
	Name string

	// Logger receives engine diagnostics.
	// Default: slog.Default().With("component", "reactive").
	Logger *slog.Logger

	// Observer receives engine events for metrics and tracing.
	// Default: NopObserver.
	Observer Observer

	// MaxCoalescedPasses is the number of callback-caused follow-up passes a
	// dispatch loop may run before the loop is treated as a cycle.
	MaxCoalescedPasses int

	// MaxDispatchDepth is the number of nested passes allowed on one goroutine.
	MaxDispatchDepth int

	// DispatchBudget warns when a single cell runs more than
	// DispatchBudget passes within DispatchBudgetWindow. Zero disables it.
	DispatchBudget       int
	DispatchBudgetWindow time.Duration
}

// Option configures a Runtime.
type Option func(*Config)

// WithName sets the runtime name.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithObserver sets the runtime observer. Use Observers to combine several.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

// WithMaxCoalescedPasses sets the cycle detection threshold.
func WithMaxCoalescedPasses(n int) Option {
	return func(c *Config) {
		c.MaxCoalescedPasses = n
	}
}

// WithMaxDispatchDepth sets the nested pass limit per goroutine.
func WithMaxDispatchDepth(n int) Option {
	return func(c *Config) {
		c.MaxDispatchDepth = n
	}
}

// WithDispatchBudget enables per-cell pass rate warnings.
func WithDispatchBudget(passes int, window time.Duration) Option {
	return func(c *Config) {
		c.DispatchBudget = passes
		c.DispatchBudgetWindow = window
	}
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		MaxCoalescedPasses: DefaultMaxCoalescedPasses,
		MaxDispatchDepth:   DefaultMaxDispatchDepth,
	}
}

// Runtime owns the cells created against it: id allocation, the arena of
// live cells, per-goroutine dispatch state, logging and observation.
// A Runtime is safe for concurrent use.
type Runtime struct {
	name     string
	logger   *slog.Logger
	observer Observer

	maxPasses int
	maxDepth  int

	budgetPasses int
	budgetWindow time.Duration

	// idCounter is the source of cell and callback ids.
	idCounter atomic.Uint64

	// cells is the arena of connected cells, keyed by id.
	cells sync.Map

	// states holds per-goroutine dispatch state keyed by goroutine id.
	states       sync.Map
	activeStates atomic.Int64

	stats runtimeStats
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	CellsCreated   uint64 `json:"cells_created"`
	CellsLive      int64  `json:"cells_live"`
	Sets           uint64 `json:"sets"`
	Passes         uint64 `json:"passes"`
	Coalesced      uint64 `json:"coalesced"`
	Cycles         uint64 `json:"cycles"`
	CallbackErrors uint64 `json:"callback_errors"`
	Disconnects    uint64 `json:"disconnects"`
}

type runtimeStats struct {
	cellsCreated   atomic.Uint64
	cellsLive      atomic.Int64
	sets           atomic.Uint64
	passes         atomic.Uint64
	coalesced      atomic.Uint64
	cycles         atomic.Uint64
	callbackErrors atomic.Uint64
	disconnects    atomic.Uint64
}

// NewRuntime creates a runtime with the given options applied over
// DefaultConfig.
func NewRuntime(opts ...Option) *Runtime {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewRuntimeWithConfig(cfg)
}

// NewRuntimeWithConfig creates a runtime from an explicit configuration.
// Zero limits are replaced with their defaults.
func NewRuntimeWithConfig(cfg Config) *Runtime {
	if cfg.MaxCoalescedPasses <= 0 {
		cfg.MaxCoalescedPasses = DefaultMaxCoalescedPasses
	}
	if cfg.MaxDispatchDepth <= 0 {
		cfg.MaxDispatchDepth = DefaultMaxDispatchDepth
	}
	if cfg.DispatchBudget > 0 && cfg.DispatchBudgetWindow <= 0 {
		cfg.DispatchBudgetWindow = time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "reactive")
	}
	if cfg.Name != "" {
		logger = logger.With("runtime", cfg.Name)
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	return &Runtime{
		name:         cfg.Name,
		logger:       logger,
		observer:     observer,
		maxPasses:    cfg.MaxCoalescedPasses,
		maxDepth:     cfg.MaxDispatchDepth,
		budgetPasses: cfg.DispatchBudget,
		budgetWindow: cfg.DispatchBudgetWindow,
	}
}

// Name returns the runtime name.
func (rt *Runtime) Name() string {
	return rt.name
}

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// nextID returns the next unique id. Ids are never reused.
func (rt *Runtime) nextID() uint64 {
	return rt.idCounter.Add(1)
}

// Stats returns a snapshot of the runtime counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		CellsCreated:   rt.stats.cellsCreated.Load(),
		CellsLive:      rt.stats.cellsLive.Load(),
		Sets:           rt.stats.sets.Load(),
		Passes:         rt.stats.passes.Load(),
		Coalesced:      rt.stats.coalesced.Load(),
		Cycles:         rt.stats.cycles.Load(),
		CallbackErrors: rt.stats.callbackErrors.Load(),
		Disconnects:    rt.stats.disconnects.Load(),
	}
}

// =============================================================================
// Arena
// =============================================================================

// CellInfo is a point-in-time description of a cell.
type CellInfo struct {
	ID         uint64     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Type       string     `json:"type"`
	Generation Generation `json:"generation"`
	Value      string     `json:"value"`
	Handles    int64      `json:"handles"`
	Readers    int64      `json:"readers"`
	Callbacks  int        `json:"callbacks"`
	Connected  bool       `json:"connected"`
}

// Inspector is a type-erased view of one cell.
type Inspector interface {
	// Info describes the cell now.
	Info() CellInfo

	// WaitAfter blocks until the cell's generation is newer than gen and
	// returns its description. It returns ErrDisconnected once the cell
	// disconnects, or ctx.Err() when ctx is done.
	WaitAfter(ctx context.Context, gen Generation) (CellInfo, error)
}

func (rt *Runtime) register(id uint64, c Inspector, ref CellRef) {
	rt.cells.Store(id, c)
	rt.stats.cellsCreated.Add(1)
	rt.stats.cellsLive.Add(1)
	rt.observer.CellCreated(ref)
}

func (rt *Runtime) deregister(id uint64, ref CellRef) {
	if _, ok := rt.cells.LoadAndDelete(id); !ok {
		return
	}
	rt.stats.cellsLive.Add(-1)
	rt.stats.disconnects.Add(1)
	rt.observer.CellReleased(ref)
}

// Inspect returns an inspector for a connected cell.
func (rt *Runtime) Inspect(id uint64) (Inspector, bool) {
	v, ok := rt.cells.Load(id)
	if !ok {
		return nil, false
	}
	return v.(Inspector), true
}

// Cells describes every connected cell, ordered by id.
func (rt *Runtime) Cells() []CellInfo {
	var infos []CellInfo
	rt.cells.Range(func(_, v any) bool {
		infos = append(infos, v.(Inspector).Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// =============================================================================
// Batching
// =============================================================================

// Batch defers the dispatch of every cell changed by the calling goroutine
// inside fn until the outermost Batch returns. Each changed cell then runs one
// pass with its newest value. Values, generations and reader wake-ups are
// published immediately.
//
// Batches can be nested. Changes made by other goroutines are not batched.
func (rt *Runtime) Batch(fn func()) {
	st := rt.enterState()
	st.batchDepth++

	defer func() {
		st.batchDepth--
		if st.batchDepth == 0 {
			for _, p := range st.drainBatched() {
				p.publish()
			}
		}
		rt.leaveState(st)
	}()

	fn()
}
