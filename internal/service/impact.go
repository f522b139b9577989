package service

import (
	"context"
	"time"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	"covdiff/internal/impact"
	"covdiff/internal/paging"
)

// ImpactedMethods returns the methods of target changed since baseline with
// the target's coverage.
func (e *Engine) ImpactedMethods(ctx context.Context, target, baseline diff.BuildKey) ([]impact.ImpactedMethod, error) {
	out, err := e.impactedMethods(ctx, target, baseline)
	return out, observe("impacted_methods", err)
}

func (e *Engine) impactedMethods(ctx context.Context, target, baseline diff.BuildKey) ([]impact.ImpactedMethod, error) {
	if err := sameApp(target, baseline); err != nil {
		return nil, err
	}
	t, err := e.buildState(ctx, target, 1)
	if err != nil {
		return nil, err
	}
	snap, err := e.baseline(ctx, baseline)
	if err != nil {
		return nil, err
	}
	return e.analyzer.ImpactedMethods(t, impact.BuildState{Snapshot: snap})
}

// ImpactedTests classifies the known tests of target's history against the
// methods changed since baseline.
func (e *Engine) ImpactedTests(ctx context.Context, target, baseline diff.BuildKey) ([]impact.TestImpact, error) {
	out, err := e.impactedTests(ctx, target, baseline)
	return out, observe("impacted_tests", err)
}

func (e *Engine) impactedTests(ctx context.Context, target, baseline diff.BuildKey) ([]impact.TestImpact, error) {
	if err := sameApp(target, baseline); err != nil {
		return nil, err
	}
	t, history, err := e.history(ctx, target)
	if err != nil {
		return nil, err
	}
	base, err := findBaseline(history, baseline)
	if err != nil {
		return nil, err
	}
	return e.analyzer.ImpactedTests(impact.ImpactedTestsRequest{
		Target:   t,
		Baseline: base,
		History:  history,
	})
}

// RecommendQuery selects recommended tests. Zero fields and a nil
// PeriodDays fall back to the recommendations section of the configuration.
type RecommendQuery struct {
	Target diff.BuildKey
	// TaskID restricts the answer to tests recorded under this test task.
	TaskID string
	// Branches keeps only prior builds made from one of these branches.
	Branches []string
	// PeriodDays drops prior builds older than this many days; 0 turns the
	// period filter off.
	PeriodDays *int
	// TestsToSkip: true keeps skippable tests, false tests to run, nil both.
	TestsToSkip *bool
	Page        paging.Page
}

// RecommendedTests decides, per test, whether it must run on the target.
func (e *Engine) RecommendedTests(ctx context.Context, q RecommendQuery) (*paging.List[impact.Recommendation], error) {
	out, err := e.recommendedTests(ctx, q)
	return out, observe("recommended_tests", err)
}

func (e *Engine) recommendedTests(ctx context.Context, q RecommendQuery) (*paging.List[impact.Recommendation], error) {
	cfg := e.cfg.Recommendations
	if len(q.Branches) == 0 {
		q.Branches = cfg.BaselineBranches
	}
	periodDays := cfg.CoveragePeriodDays
	if q.PeriodDays != nil {
		periodDays = *q.PeriodDays
	}
	if q.Page.Size == 0 {
		q.Page.Size = cfg.PageSize
	}

	t, history, err := e.history(ctx, q.Target)
	if err != nil {
		return nil, err
	}

	req := impact.RecommendRequest{
		Target:      t,
		History:     history,
		Branches:    q.Branches,
		TestsToSkip: q.TestsToSkip,
	}
	if periodDays > 0 {
		req.Since = time.Now().AddDate(0, 0, -periodDays)
	}
	if q.TaskID != "" {
		if req.Candidates, err = e.taskTests(ctx, q.TaskID, append(append([]impact.BuildState{}, history...), t)); err != nil {
			return nil, err
		}
	}

	recs, err := e.analyzer.RecommendTests(req)
	if err != nil {
		return nil, err
	}
	return paging.Paginate(q.Page, recs), nil
}

// taskTests returns the tests recorded under a test task in any of states.
func (e *Engine) taskTests(ctx context.Context, taskID string, states []impact.BuildState) ([]coverage.TestKey, error) {
	seen := map[coverage.TestKey]bool{}
	keys := []coverage.TestKey{}
	filter := &coverage.Filter{TaskID: taskID}
	for _, s := range states {
		execs, err := e.store.LoadTestExecutions(ctx, s.Snapshot.Build, filter)
		if err != nil {
			return nil, storageErr("load executions", err)
		}
		for _, x := range execs {
			if x.Source == coverage.SourceAgent || seen[x.Test] {
				continue
			}
			seen[x.Test] = true
			keys = append(keys, x.Test)
		}
	}
	coverage.SortTestKeys(keys)
	return keys, nil
}

// MethodsCoverage returns every method of target with its own coverage and
// the coverage aggregated across prior builds with the same body.
func (e *Engine) MethodsCoverage(ctx context.Context, target diff.BuildKey) ([]impact.MethodCoverage, error) {
	t, history, err := e.history(ctx, target)
	if err != nil {
		return nil, observe("methods_coverage", err)
	}
	return e.analyzer.MethodsCoverage(t, history), nil
}

// BuildDiffReport summarises target against baseline. A negative threshold
// uses the configured one.
func (e *Engine) BuildDiffReport(ctx context.Context, target, baseline diff.BuildKey, threshold float64) (*impact.BuildDiffReport, error) {
	out, err := e.buildDiffReport(ctx, target, baseline, threshold)
	return out, observe("build_diff_report", err)
}

func (e *Engine) buildDiffReport(ctx context.Context, target, baseline diff.BuildKey, threshold float64) (*impact.BuildDiffReport, error) {
	if err := sameApp(target, baseline); err != nil {
		return nil, err
	}
	if threshold < 0 {
		threshold = e.cfg.Report.CoverageThreshold
	}
	t, history, err := e.history(ctx, target)
	if err != nil {
		return nil, err
	}
	base, err := findBaseline(history, baseline)
	if err != nil {
		return nil, err
	}
	return e.analyzer.BuildDiffReport(impact.ReportRequest{
		Target:    t,
		Baseline:  base,
		History:   history,
		Threshold: threshold,
	})
}
