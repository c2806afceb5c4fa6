package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/reactor/internal/config"
	"github.com/vango-dev/reactor/internal/errors"
	"github.com/vango-dev/reactor/pkg/inspect"
	"github.com/vango-dev/reactor/pkg/reactive"
	"github.com/vango-dev/reactor/pkg/telemetry"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		addr string
		demo bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the debug inspector",
		Long: `Serve a runtime's cells over HTTP.

Routes:
  /healthz           runtime counters
  /cells             connected cells
  /cells/{id}        one cell
  /cells/{id}/watch  websocket stream of a cell
  /metrics           Prometheus metrics

With --demo a ticking counter and two cells derived from it are created
so there is something to watch.

Examples:
  reactor serve --demo
  reactor serve --addr=:6060`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Debug.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runServe(ctx, cfg, demo)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&demo, "demo", false, "Create demo cells")

	return cmd
}

func (c *cli) runServe(ctx context.Context, cfg *config.Config, demo bool) error {
	logger := c.logger(cfg)

	observers := []reactive.Observer{
		telemetry.NewTracer(),
		telemetry.NewLogObserver(logger),
	}
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		observers = append(observers, telemetry.NewMetrics(
			telemetry.WithRegistry(registry),
			telemetry.WithNamespace(cfg.Metrics.Namespace),
			telemetry.WithSubsystem(cfg.Metrics.Subsystem),
		))
	}

	opts := append(cfg.ToOptions(),
		reactive.WithLogger(logger.With("component", "reactive")),
		reactive.WithObserver(reactive.Observers(observers...)),
	)
	rt := reactive.NewRuntime(opts...)

	srvOpts := []inspect.Option{
		inspect.WithAddr(cfg.Debug.Addr),
		inspect.WithLogger(logger.With("component", "inspect")),
		inspect.WithShutdownTimeout(cfg.Debug.ShutdownTimeout.Std()),
	}
	if cfg.Metrics.Enabled {
		srvOpts = append(srvOpts, inspect.WithGatherer(registry))
	}
	srv := inspect.New(rt, srvOpts...)

	if demo {
		stop := startDemo(ctx, rt)
		defer stop()
	}

	c.success("inspect server on http://%s", cfg.Debug.Addr)
	if err := srv.Run(ctx); err != nil {
		e := errors.New("R080").Wrap(err)
		if isAddrInUse(err) {
			e = errors.New("R081").
				WithDetail(fmt.Sprintf("Could not listen on %s.", cfg.Debug.Addr)).
				WithSuggestion("Pick another address with --addr").
				Wrap(err)
		}
		return e
	}
	c.info("stopped")
	return nil
}

// startDemo creates a counter that ticks every second plus a mapped label
// and a deduplicated parity cell. The returned func stops and releases them.
func startDemo(ctx context.Context, rt *reactive.Runtime) func() {
	counter := reactive.NewNamedDynamic(rt, "demo.counter", 0)
	label := reactive.Map(counter, func(v int) string { return fmt.Sprintf("tick %d", v) })
	parity := reactive.MapUnique(counter, func(v int) string {
		if v%2 == 0 {
			return "even"
		}
		return "odd"
	})

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				counter.MapMut(func(v *int) bool {
					*v++
					return true
				})
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		parity.Release()
		label.Release()
		counter.Release()
	}
}

func isAddrInUse(err error) bool {
	return stderrors.Is(err, syscall.EADDRINUSE)
}
