package main

import (
	"github.com/spf13/cobra"
)

var impactedMethodsCmd = &cobra.Command{
	Use:   "impacted-methods <target> <baseline>",
	Short: "List changed methods the baseline's tests covered",
	Long: `List the methods changed since the baseline that were covered while
testing the baseline, with the tests that reached them.

Examples:
  covdiff impacted-methods acme:shop:1.1.0 1.0.0`,
	Args: cobra.ExactArgs(2),
	RunE: runImpactedMethods,
}

var impactedTestsCmd = &cobra.Command{
	Use:   "impacted-tests <target> <baseline>",
	Short: "Classify tests by whether the changes reach them",
	Long: `Classify every known test as IMPACTED, NOT_IMPACTED or UNKNOWN_IMPACT
for the changes between the baseline and the target.

Examples:
  covdiff impacted-tests acme:shop:1.1.0 1.0.0 --format json`,
	Args: cobra.ExactArgs(2),
	RunE: runImpactedTests,
}

var methodsCoverageCmd = &cobra.Command{
	Use:   "methods-coverage <build>",
	Short: "Show per-method coverage including unchanged prior builds",
	Long: `Show each method's coverage in the build itself and aggregated over
earlier builds in which its body was identical.

Examples:
  covdiff methods-coverage acme:shop:1.1.0`,
	Args: cobra.ExactArgs(1),
	RunE: runMethodsCoverage,
}

func init() {
	rootCmd.AddCommand(impactedMethodsCmd)
	rootCmd.AddCommand(impactedTestsCmd)
	rootCmd.AddCommand(methodsCoverageCmd)
}

func runImpactedMethods(cmd *cobra.Command, args []string) error {
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

	methods, err := a.engine.ImpactedMethods(ctx, keys[0], keys[1])
	if err != nil {
		return err
	}
	return printResult(methods)
}

func runImpactedTests(cmd *cobra.Command, args []string) error {
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

	tests, err := a.engine.ImpactedTests(ctx, keys[0], keys[1])
	if err != nil {
		return err
	}
	return printResult(tests)
}

func runMethodsCoverage(cmd *cobra.Command, args []string) error {
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

	methods, err := a.engine.MethodsCoverage(ctx, keys[0])
	if err != nil {
		return err
	}
	return printResult(methods)
}
