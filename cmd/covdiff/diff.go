package main

import (
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <target> <baseline>",
	Short: "Show method changes between two builds",
	Long: `Compare the methods of two builds of the same application.

Builds are written group:app:version. The baseline may be given as a bare
version, resolved against the target's group and application.

Examples:
  covdiff diff acme:shop:1.1.0 acme:shop:1.0.0
  covdiff diff acme:shop:1.1.0 1.0.0 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
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

	changes, err := a.engine.Changes(ctx, keys[0], keys[1])
	if err != nil {
		return err
	}
	return printResult(&ChangesResponse{
		Target:   keys[0].String(),
		Baseline: keys[1].String(),
		Summary:  changes.Summary(),
		Changes:  changes,
	})
}
