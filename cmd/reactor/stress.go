package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/reactor/internal/config"
	"github.com/vango-dev/reactor/internal/errors"
	"github.com/vango-dev/reactor/internal/stress"
	"github.com/vango-dev/reactor/pkg/reactive"
	"github.com/vango-dev/reactor/pkg/report"
	"github.com/vango-dev/reactor/pkg/telemetry"
)

type stressFlags struct {
	goroutines int
	iterations int
	timeout    time.Duration
	scenarios  []string
	list       bool

	reportDir  string
	noReport   bool
	s3Bucket   string
	s3Prefix   string
	s3Region   string
	s3Endpoint string
}

func (c *cli) stressCmd() *cobra.Command {
	var f stressFlags

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run the engine's concurrency scenarios",
		Long: `Run the engine's concurrency guarantees as scenarios.

Every scenario runs concurrently against one runtime. Results are printed
and saved as a JSON report, either to a local directory or to S3 when a
bucket is configured. The command fails if any scenario fails.

Examples:
  reactor stress
  reactor stress --goroutines=32 --iterations=10000
  reactor stress --scenario=reader-wakes --scenario=cycle-terminates
  reactor stress --s3-bucket=my-reports --s3-region=us-east-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.list {
				c.listScenarios()
				return nil
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runStress(ctx, cfg, f.noReport)
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&f.goroutines, "goroutines", "g", 0, "Writer goroutines per scenario (default from config)")
	flags.IntVarP(&f.iterations, "iterations", "n", 0, "Operations per goroutine (default from config)")
	flags.DurationVar(&f.timeout, "timeout", 0, "Abort the run after this long (default from config)")
	flags.StringArrayVarP(&f.scenarios, "scenario", "s", nil, "Run only this scenario (repeatable)")
	flags.BoolVar(&f.list, "list", false, "List scenarios and exit")
	flags.StringVar(&f.reportDir, "report-dir", "", "Directory for the JSON report")
	flags.BoolVar(&f.noReport, "no-report", false, "Do not store a report")
	flags.StringVar(&f.s3Bucket, "s3-bucket", "", "Upload the report to this S3 bucket")
	flags.StringVar(&f.s3Prefix, "s3-prefix", "", "S3 key prefix")
	flags.StringVar(&f.s3Region, "s3-region", "", "S3 region")
	flags.StringVar(&f.s3Endpoint, "s3-endpoint", "", "S3 endpoint override, e.g. for MinIO")

	return cmd
}

// apply overrides cfg with the flags that were set.
func (f *stressFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("goroutines") {
		if f.goroutines <= 0 {
			return errors.New("R100").WithDetail("--goroutines must be positive")
		}
		cfg.Stress.Goroutines = f.goroutines
	}
	if flags.Changed("iterations") {
		if f.iterations <= 0 {
			return errors.New("R100").WithDetail("--iterations must be positive")
		}
		cfg.Stress.Iterations = f.iterations
	}
	if flags.Changed("timeout") {
		cfg.Stress.Timeout = config.Duration(f.timeout)
	}
	if len(f.scenarios) > 0 {
		cfg.Stress.Scenarios = f.scenarios
	}
	if f.reportDir != "" {
		cfg.Report.Dir = f.reportDir
	}
	if f.s3Bucket != "" {
		cfg.Report.Bucket = f.s3Bucket
	}
	if flags.Changed("s3-prefix") {
		cfg.Report.Prefix = f.s3Prefix
	}
	if f.s3Region != "" {
		cfg.Report.Region = f.s3Region
	}
	if f.s3Endpoint != "" {
		cfg.Report.Endpoint = f.s3Endpoint
	}
	return cfg.Validate()
}

func (c *cli) listScenarios() {
	for _, s := range stress.Scenarios() {
		c.info("%-26s %s", s.Name, s.Description)
	}
}

func (c *cli) runStress(ctx context.Context, cfg *config.Config, noReport bool) error {
	logger := c.logger(cfg)

	opts := append(cfg.ToOptions(),
		reactive.WithLogger(logger.With("component", "reactive")),
		reactive.WithObserver(telemetry.NewLogObserver(logger)),
	)
	rt := reactive.NewRuntime(opts...)

	runner := stress.NewRunner(rt, stress.Config{
		Goroutines: cfg.Stress.Goroutines,
		Iterations: cfg.Stress.Iterations,
		Timeout:    cfg.Stress.Timeout.Std(),
		Scenarios:  cfg.Stress.Scenarios,
		Logger:     logger.With("component", "stress"),
	})

	c.info("stress: %d goroutines × %d iterations", cfg.Stress.Goroutines, cfg.Stress.Iterations)
	started := time.Now()
	results, runErr := runner.Run(ctx)
	if results == nil {
		return runErr
	}

	rep := &report.Report{
		StartedAt:  started,
		Duration:   time.Since(started),
		Goroutines: cfg.Stress.Goroutines,
		Iterations: cfg.Stress.Iterations,
		Results:    results,
		Stats:      rt.Stats(),
	}
	c.printResults(rep)

	if !noReport {
		store, err := newReportStore(cfg)
		if err != nil {
			return err
		}
		loc, err := store.Put(ctx, report.Name(started), rep)
		if err != nil {
			code := "R060"
			if cfg.Report.Bucket != "" {
				code = "R061"
			}
			return errors.New(code).Wrap(err)
		}
		c.info("report: %s", loc)
	}

	if runErr != nil {
		return runErr
	}
	if failed := rep.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, r := range failed {
			names[i] = r.Name
		}
		return errors.New("R040").WithDetail("Failed: " + strings.Join(names, ", "))
	}
	return nil
}

func (c *cli) printResults(rep *report.Report) {
	fmt.Fprintln(c.stdout)
	for _, r := range rep.Results {
		if r.Passed {
			c.success("%-26s %s", r.Name, r.Duration.Round(time.Millisecond))
			continue
		}
		c.failure("%-26s %s", r.Name, r.Detail)
	}
	fmt.Fprintln(c.stdout)
	s := rep.Stats
	c.info("sets=%d passes=%d coalesced=%d cycles=%d callback_errors=%d",
		s.Sets, s.Passes, s.Coalesced, s.Cycles, s.CallbackErrors)
}

func newReportStore(cfg *config.Config) (report.Store, error) {
	if cfg.Report.Bucket != "" {
		client := report.NewS3Client(report.S3ClientConfig{
			Region:    cfg.Report.Region,
			Endpoint:  cfg.Report.Endpoint,
			PathStyle: cfg.Report.Endpoint != "",
		})
		return report.NewS3Store(client, cfg.Report.Bucket, cfg.Report.Prefix), nil
	}
	store, err := report.NewFileStore(cfg.Report.Dir)
	if err != nil {
		return nil, errors.New("R060").WithLocation(cfg.Report.Dir, 0).Wrap(err)
	}
	return store, nil
}
