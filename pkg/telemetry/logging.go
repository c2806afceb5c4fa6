package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/reactor/pkg/reactive"
)

// LogObserver logs pass-level engine events at Debug. Warnings and errors
// are already logged by the runtime itself; this observer is for tracing
// dispatch order while debugging.
type LogObserver struct {
	logger *slog.Logger
}

var _ reactive.Observer = (*LogObserver)(nil)

// NewLogObserver returns an observer writing to logger, or to
// slog.Default() when logger is nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With("component", "reactive.trace")}
}

func (o *LogObserver) enabled() bool {
	return o.logger.Enabled(context.Background(), slog.LevelDebug)
}

// CellCreated implements reactive.Observer.
func (o *LogObserver) CellCreated(cell reactive.CellRef) {
	o.logger.Debug("cell created", "cell_id", cell.ID, "cell", cell.Name)
}

// CellReleased implements reactive.Observer.
func (o *LogObserver) CellReleased(cell reactive.CellRef) {
	o.logger.Debug("cell released", "cell_id", cell.ID, "cell", cell.Name)
}

// ValueSet implements reactive.Observer.
func (o *LogObserver) ValueSet(reactive.CellRef) {}

// PassStarted implements reactive.Observer.
func (o *LogObserver) PassStarted(ctx context.Context, pass reactive.PassInfo) (context.Context, reactive.PassDone) {
	if !o.enabled() {
		return ctx, func(int) {}
	}
	start := time.Now()
	return ctx, func(invoked int) {
		o.logger.DebugContext(ctx, "pass finished",
			"cell_id", pass.Cell.ID,
			"cell", pass.Cell.Name,
			"generation", uint64(pass.Generation),
			"follow_up", pass.FollowUp,
			"invoked", invoked,
			"duration", time.Since(start),
		)
	}
}

// Coalesced implements reactive.Observer.
func (o *LogObserver) Coalesced(cell reactive.CellRef) {
	o.logger.Debug("change coalesced", "cell_id", cell.ID, "cell", cell.Name)
}

// CycleDetected implements reactive.Observer.
func (o *LogObserver) CycleDetected(context.Context, reactive.CellRef, int) {}

// CallbackFailed implements reactive.Observer.
func (o *LogObserver) CallbackFailed(context.Context, reactive.CellRef, error) {}
