package service

import (
	"context"
	"fmt"
	"time"

	"covdiff/internal/diff"
	"covdiff/internal/jobs"
)

// RegisterJobHandlers installs the engine's handlers on a job runner.
func (e *Engine) RegisterJobHandlers(r *jobs.Runner) {
	r.RegisterHandler(jobs.JobTypeRefreshAggregates, e.refreshJob)
	r.RegisterHandler(jobs.JobTypeRetention, func(ctx context.Context, job *jobs.Job, progress func(int)) (any, error) {
		scope, err := jobs.ParseRetentionScope(string(job.Scope))
		if err != nil {
			return nil, err
		}
		res, err := e.Retention(ctx, *scope)
		if err != nil {
			return nil, err
		}
		progress(80)
		if scope.JobDays > 0 {
			n, err := r.CleanupOldJobs(time.Duration(scope.JobDays) * 24 * time.Hour)
			if err != nil {
				return nil, err
			}
			res.JobsDeleted = n
		}
		return res, nil
	})
}

// RetentionScope returns the retention job scope from the configuration.
func (e *Engine) RetentionScope() jobs.RetentionScope {
	return jobs.RetentionScope{
		Days:       e.cfg.Retention.Days,
		KeepLatest: e.cfg.Retention.KeepLatest,
		JobDays:    e.cfg.Retention.Days,
	}
}

// Retention deletes builds older than the scope allows. Cached bundles are
// dropped wholesale since any of them may belong to a deleted build.
func (e *Engine) Retention(ctx context.Context, scope jobs.RetentionScope) (*jobs.RetentionResult, error) {
	cutoff := scope.Cutoff(time.Now())
	n, err := e.store.DeleteBefore(ctx, cutoff, scope.KeepLatest)
	if err != nil {
		return nil, observe("retention", storageErr("delete builds", err))
	}
	if n > 0 {
		e.cache.InvalidateAll()
		buildsDeleted.Add(float64(n))
	}
	return &jobs.RetentionResult{
		BuildsDeleted: n,
		Cutoff:        cutoff.UTC().Format(time.RFC3339),
	}, nil
}

func (e *Engine) refreshJob(ctx context.Context, job *jobs.Job, progress func(int)) (any, error) {
	scope, err := jobs.ParseRefreshScope(string(job.Scope))
	if err != nil {
		return nil, err
	}
	return e.RefreshScope(ctx, scope, progress)
}

// RefreshScope recomputes the aggregates selected by scope. A build that
// fails is reported as a warning and the rest still run. progress may be nil.
func (e *Engine) RefreshScope(ctx context.Context, scope *jobs.RefreshScope, progress func(int)) (*jobs.RefreshResult, error) {
	start := time.Now()
	if progress == nil {
		progress = func(int) {}
	}

	keys, err := e.refreshTargets(ctx, scope)
	if err != nil {
		return nil, err
	}

	res := &jobs.RefreshResult{Status: "completed"}
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := e.refresh(ctx, key, "job")
		if err != nil {
			res.Status = "partial"
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		res.Builds++
		res.Executions += b.Executions
		progress((i + 1) * 100 / len(keys))
	}
	res.Duration = time.Since(start).String()
	return res, nil
}

func (e *Engine) refreshTargets(ctx context.Context, scope *jobs.RefreshScope) ([]diff.BuildKey, error) {
	if len(scope.Builds) > 0 {
		keys := make([]diff.BuildKey, 0, len(scope.Builds))
		for _, id := range scope.Builds {
			key, err := diff.ParseBuildKey(id)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		return keys, nil
	}

	infos, err := e.store.ListBuilds(ctx, scope.GroupID, scope.AppID)
	if err != nil {
		return nil, storageErr("list builds", err)
	}
	keys := make([]diff.BuildKey, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys, nil
}
