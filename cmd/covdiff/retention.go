package main

import (
	"github.com/spf13/cobra"

	cerrors "covdiff/internal/errors"
)

var (
	retentionDays       int
	retentionKeepLatest int
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Delete builds older than the retention period",
	Long: `Delete builds created more than --days ago, keeping at least the
--keep-latest newest builds of every application. A build's methods,
executions and aggregates go with it.

Flags left unset use the retention section of the configuration.

Examples:
  covdiff retention
  covdiff retention --days 30 --keep-latest 5`,
	Args: cobra.NoArgs,
	RunE: runRetention,
}

func init() {
	retentionCmd.Flags().IntVar(&retentionDays, "days", 0, "Delete builds older than this many days")
	retentionCmd.Flags().IntVar(&retentionKeepLatest, "keep-latest", 0, "Builds to keep per application regardless of age")
	rootCmd.AddCommand(retentionCmd)
}

func runRetention(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	scope := a.engine.RetentionScope()
	if cmd.Flags().Changed("days") {
		scope.Days = retentionDays
	}
	if cmd.Flags().Changed("keep-latest") {
		scope.KeepLatest = retentionKeepLatest
	}
	if scope.Days <= 0 {
		return cerrors.Newf(cerrors.InvalidArgument, "retention days must be positive, got %d", scope.Days)
	}

	ctx, cancel := newContext()
	defer cancel()

	res, err := a.engine.Retention(ctx, scope)
	if err != nil {
		return err
	}
	return printResult(res)
}
