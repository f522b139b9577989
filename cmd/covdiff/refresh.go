package main

import (
	"fmt"

	"github.com/spf13/cobra"

	cerrors "covdiff/internal/errors"
	"covdiff/internal/jobs"
)

var (
	refreshAll   bool
	refreshGroup string
	refreshApp   string
	refreshAsync bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [build]...",
	Short: "Recompute stored coverage aggregates",
	Long: `Recompute the coverage aggregates of builds from their stored executions.

Select builds by id, by application with --group/--app, or all of them with
--all. With --async the refresh is queued as a background job and run by
'covdiff serve'.

Examples:
  covdiff refresh acme:shop:1.1.0
  covdiff refresh --group acme --app shop
  covdiff refresh --all --async`,
	RunE: runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "Refresh every stored build")
	refreshCmd.Flags().StringVar(&refreshGroup, "group", "", "Refresh the builds of this group")
	refreshCmd.Flags().StringVar(&refreshApp, "app", "", "Refresh the builds of this application")
	refreshCmd.Flags().BoolVar(&refreshAsync, "async", false, "Queue a background job instead of refreshing now")
	rootCmd.AddCommand(refreshCmd)
}

// refreshScopeFromFlags builds the refresh scope. Nothing selected is an
// error so a bare 'covdiff refresh' never touches every build by accident.
func refreshScopeFromFlags(args []string) (*jobs.RefreshScope, error) {
	scope := &jobs.RefreshScope{GroupID: refreshGroup, AppID: refreshApp}
	if len(args) > 0 {
		keys, err := buildArgs(args)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			scope.Builds = append(scope.Builds, k.String())
		}
	}
	if !refreshAll && len(scope.Builds) == 0 && scope.GroupID == "" && scope.AppID == "" {
		return nil, cerrors.Newf(cerrors.InvalidArgument, "name builds to refresh or pass --all")
	}
	return scope, nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	scope, err := refreshScopeFromFlags(args)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if refreshAsync {
		store, runner, err := a.openJobs()
		if err != nil {
			return err
		}
		defer store.Close()

		job, err := jobs.NewJob(jobs.JobTypeRefreshAggregates, scope)
		if err != nil {
			return err
		}
		if err := runner.Submit(job); err != nil {
			return err
		}
		return printResult(job)
	}

	ctx, cancel := newContext()
	defer cancel()

	res, err := a.engine.RefreshScope(ctx, scope, func(p int) {
		a.logger.Debug("Refresh progress", "percent", p)
	})
	if err != nil {
		return err
	}
	if err := printResult(res); err != nil {
		return err
	}
	if res.Status != "completed" {
		return fmt.Errorf("%d build(s) failed to refresh", len(res.Warnings))
	}
	return nil
}
