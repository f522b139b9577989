package main

import (
	"strconv"

	"github.com/spf13/cobra"

	cerrors "covdiff/internal/errors"
	"covdiff/internal/paging"
	"covdiff/internal/service"
)

var (
	recommendPage       int
	recommendPageSize   int
	recommendTask       string
	recommendBranches   []string
	recommendPeriodDays int
	recommendSkip       string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <build>",
	Short: "Decide which tests must run on a build",
	Long: `Decide, for every test known from earlier builds, whether it must run
on the target build (RUN) or can be skipped (SKIP).

Zero-valued flags fall back to the recommendations section of the
configuration.

Examples:
  covdiff recommend acme:shop:1.1.0
  covdiff recommend acme:shop:1.1.0 --skip=false --page 2 --page-size 20
  covdiff recommend acme:shop:1.1.0 --task nightly --branch main --period-days 30`,
	Args: cobra.ExactArgs(1),
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().IntVar(&recommendPage, "page", 1, "Page number, starting at 1")
	recommendCmd.Flags().IntVar(&recommendPageSize, "page-size", 0, "Page size (0 uses recommendations.pageSize)")
	recommendCmd.Flags().StringVar(&recommendTask, "task", "", "Only tests recorded under this test task")
	recommendCmd.Flags().StringSliceVar(&recommendBranches, "branch", nil, "Only use coverage from builds of these branches")
	recommendCmd.Flags().IntVar(&recommendPeriodDays, "period-days", 0, "Only use coverage from builds of the last N days; 0 disables recommendations.coveragePeriodDays")
	recommendCmd.Flags().StringVar(&recommendSkip, "skip", "", "true lists only tests to skip, false only tests to run")
	rootCmd.AddCommand(recommendCmd)
}

// parseOptionalBool maps "" to nil.
func parseOptionalBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, cerrors.Newf(cerrors.InvalidArgument, "invalid boolean %q", s)
	}
	return &v, nil
}

func runRecommend(cmd *cobra.Command, args []string) error {
	keys, err := buildArgs(args)
	if err != nil {
		return err
	}
	skip, err := parseOptionalBool(recommendSkip)
	if err != nil {
		return err
	}

	var periodDays *int
	if cmd.Flags().Changed("period-days") {
		if recommendPeriodDays < 0 {
			return cerrors.Newf(cerrors.InvalidArgument, "--period-days must not be negative")
		}
		periodDays = &recommendPeriodDays
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := newContext()
	defer cancel()

	list, err := a.engine.RecommendedTests(ctx, service.RecommendQuery{
		Target:      keys[0],
		TaskID:      recommendTask,
		Branches:    recommendBranches,
		PeriodDays:  periodDays,
		TestsToSkip: skip,
		Page:        paging.Page{Number: recommendPage, Size: recommendPageSize},
	})
	if err != nil {
		return err
	}
	return printResult(list)
}
