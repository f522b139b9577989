package main

import (
	"strings"

	"github.com/spf13/cobra"

	"covdiff/internal/jobs"
	"covdiff/internal/paging"
)

var (
	jobsPage   int
	jobsLimit  int
	jobsStatus string
	jobsType   string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage background jobs",
	Long: `List, check status, and cancel background jobs.

Background jobs refresh aggregates and apply retention. They are run by
'covdiff serve'.

Examples:
  covdiff jobs list
  covdiff jobs status <job-id>
  covdiff jobs cancel <job-id>`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent background jobs",
	Long: `List recent background jobs with optional filtering.

Examples:
  covdiff jobs list
  covdiff jobs list --status=running
  covdiff jobs list --type=retention --limit=50`,
	Args: cobra.NoArgs,
	RunE: runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get status of a specific job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	jobsListCmd.Flags().IntVar(&jobsPage, "page", 1, "Page number, starting at 1")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Jobs per page (at most 100)")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status, comma separated (queued, running, completed, failed, cancelled)")
	jobsListCmd.Flags().StringVar(&jobsType, "type", "", "Filter by type, comma separated (refresh_aggregates, retention)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

// withRunner opens the job store and hands fn a runner that is not started.
func withRunner(fn func(*jobs.Runner) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, runner, err := a.openJobs()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(runner)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runJobsList(cmd *cobra.Command, args []string) error {
	opts := jobs.ListJobsOptions{Page: paging.Page{Number: jobsPage, Size: jobsLimit}}
	for _, s := range splitList(jobsStatus) {
		opts.Status = append(opts.Status, jobs.JobStatus(s))
	}
	for _, t := range splitList(jobsType) {
		opts.Type = append(opts.Type, jobs.JobType(t))
	}

	return withRunner(func(r *jobs.Runner) error {
		resp, err := r.ListJobs(opts)
		if err != nil {
			return err
		}
		return printResult(resp)
	})
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	return withRunner(func(r *jobs.Runner) error {
		job, err := r.GetJob(args[0])
		if err != nil {
			return err
		}
		return printResult(job)
	})
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	return withRunner(func(r *jobs.Runner) error {
		if err := r.Cancel(args[0]); err != nil {
			return err
		}
		job, err := r.GetJob(args[0])
		if err != nil {
			return err
		}
		return printResult(job)
	})
}
