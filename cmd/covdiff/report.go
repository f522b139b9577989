package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reportThreshold float64
	reportStrict    bool
)

var reportCmd = &cobra.Command{
	Use:   "report <target> <baseline>",
	Short: "Summarise a build against its baseline",
	Long: `Summarise the changes of a build against a baseline: change counts,
coverage of the changed methods, uncovered changes and the number of tests
to run, checked against a coverage threshold.

With --strict the command fails when the threshold is not met.

Examples:
  covdiff report acme:shop:1.1.0 1.0.0
  covdiff report acme:shop:1.1.0 1.0.0 --threshold 75 --strict`,
	Args: cobra.ExactArgs(2),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().Float64Var(&reportThreshold, "threshold", -1, "Coverage threshold in percent (negative uses report.coverageThreshold)")
	reportCmd.Flags().BoolVar(&reportStrict, "strict", false, "Fail when the threshold is not met")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
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

	report, err := a.engine.BuildDiffReport(ctx, keys[0], keys[1], reportThreshold)
	if err != nil {
		return err
	}
	if err := printResult(report); err != nil {
		return err
	}
	if reportStrict && !report.MeetsThreshold {
		return fmt.Errorf("changed-method coverage %.1f%% is below the %.1f%% threshold",
			report.Percentage, report.Threshold)
	}
	return nil
}
