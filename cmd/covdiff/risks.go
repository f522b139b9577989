package main

import (
	"github.com/spf13/cobra"
)

var risksCmd = &cobra.Command{
	Use:   "risks <target> <baseline>",
	Short: "Show the coverage history of changed methods",
	Long: `List the new and modified methods of the target build with their
current coverage and the coverage they had in earlier builds since the
baseline. Each call records the target in the application's risk ledger.

Examples:
  covdiff risks acme:shop:1.1.0 1.0.0`,
	Args: cobra.ExactArgs(2),
	RunE: runRisks,
}

func init() {
	rootCmd.AddCommand(risksCmd)
}

func runRisks(cmd *cobra.Command, args []string) error {
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

	risks, err := a.engine.Risks(ctx, keys[0], keys[1])
	if err != nil {
		return err
	}
	return printResult(risks)
}
