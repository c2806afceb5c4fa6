package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func (c *cli) versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and engine limits",
		Long: `Print the reactor version together with the dispatch limits the
engine runs with: the built-in defaults, overridden by --config or
reactor.yaml when present.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(c.stdout, version)
				return nil
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			rc := cfg.Runtime

			fmt.Fprintf(c.stdout, "reactor %s (%s, built %s)\n", version, commit, date)
			fmt.Fprintf(c.stdout, "  Go:               %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(c.stdout, "  Coalesced passes: %d\n", rc.MaxCoalescedPasses)
			fmt.Fprintf(c.stdout, "  Dispatch depth:   %d\n", rc.MaxDispatchDepth)
			if rc.DispatchBudget > 0 {
				fmt.Fprintf(c.stdout, "  Dispatch budget:  %d passes per %s\n", rc.DispatchBudget, rc.DispatchBudgetWindow)
			} else {
				fmt.Fprintln(c.stdout, "  Dispatch budget:  off")
			}
			if path := cfg.Path(); path != "" {
				fmt.Fprintf(c.stdout, "  Config:           %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")

	return cmd
}
