package main

import (
	"github.com/spf13/cobra"
)

var coverageRefresh bool

var coverageCmd = &cobra.Command{
	Use:   "coverage <build>",
	Short: "Show the aggregated coverage of a build",
	Long: `Show the probe coverage of a build, in total, per class and per test type.

The aggregate is served from cache or storage when available. Use
--refresh to recompute it from the stored executions.

Examples:
  covdiff coverage acme:shop:1.1.0
  covdiff coverage acme:shop:1.1.0 --refresh`,
	Args: cobra.ExactArgs(1),
	RunE: runCoverage,
}

func init() {
	coverageCmd.Flags().BoolVar(&coverageRefresh, "refresh", false, "Recompute the aggregate from stored executions")
	rootCmd.AddCommand(coverageCmd)
}

func runCoverage(cmd *cobra.Command, args []string) error {
	keys, err := buildArgs(args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := newContext()
	defer cancel()

	get := a.engine.Coverage
	if coverageRefresh {
		get = a.engine.Refresh
	}
	bundle, err := get(ctx, keys[0])
	if err != nil {
		return err
	}
	return printResult(newCoverageResponse(bundle))
}
