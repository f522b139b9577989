package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"covdiff/internal/api"
	"covdiff/internal/jobs"
)

var (
	servePort string
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job runner and the operational HTTP endpoints",
	Long: `Run the background job runner and serve health, readiness, metrics
and job endpoints over HTTP.

Queued jobs, including those submitted with 'covdiff refresh --async', are
picked up on start. Retention runs on the interval set by
jobs.retentionIntervalMinutes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "Host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	if err := runner.Start(); err != nil {
		return err
	}
	defer func() {
		if err := runner.Stop(30 * time.Second); err != nil {
			a.logger.Warn("Job runner did not stop cleanly", "error", err)
		}
	}()

	if every := a.cfg.Jobs.RetentionIntervalMinutes; every > 0 && a.cfg.Retention.Days > 0 {
		runner.Every(time.Duration(every)*time.Minute, func() (*jobs.Job, error) {
			return jobs.NewJob(jobs.JobTypeRetention, a.engine.RetentionScope())
		})
	}

	addr := net.JoinHostPort(serveHost, servePort)
	server := api.NewServer(addr, a.db, runner, a.logger)

	ctx, cancel := newContext()
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("covdiff listening on http://%s\n", addr)
		fmt.Println("Press Ctrl+C to stop")
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		a.logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}
