package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/reactor/internal/config"
	"github.com/vango-dev/reactor/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries state shared by every command.
type cli struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "reactor",
		Short: "Stress and inspect the reactive value engine",
		Long: `reactor drives the concurrent reactive value engine.

  • stress runs the engine's concurrency guarantees as scenarios
    and stores a report locally or in S3
  • serve exposes a runtime's cells over HTTP and websocket
    with Prometheus metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"Config file (.json, .yaml or .yml; default ./"+config.ConfigFileName+" if present)")

	rootCmd.AddCommand(
		c.stressCmd(),
		c.serveCmd(),
		c.versionCmd(),
	)
	return rootCmd
}

// loadConfig loads --config, or the optional file in the working directory.
func (c *cli) loadConfig() (*config.Config, error) {
	if c.configPath != "" {
		return config.Load(c.configPath)
	}
	return config.LoadOptional(".")
}

func (c *cli) logger(cfg *config.Config) *slog.Logger {
	return cfg.NewLogger(c.stderr)
}

// success prints a success message.
func (c *cli) success(format string, args ...any) {
	fmt.Fprintf(c.stdout, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func (c *cli) info(format string, args ...any) {
	fmt.Fprintf(c.stdout, "  %s\n", fmt.Sprintf(format, args...))
}

// failure prints a failure line.
func (c *cli) failure(format string, args ...any) {
	fmt.Fprintf(c.stdout, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
