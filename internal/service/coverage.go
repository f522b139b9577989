package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/impact"
	"covdiff/internal/storage"
	"covdiff/internal/tree"
)

// IngestResult reports what Ingest stored.
type IngestResult struct {
	Build         diff.BuildKey `json:"build"`
	SnapshotSaved bool          `json:"snapshotSaved"`
	Executions    int           `json:"executions"`
	SessionID     string        `json:"sessionId,omitempty"`
}

// Ingest stores a manifest. A manifest with methods replaces the build's
// inventory and drops its cached coverage. Executions are checked against
// the build's class widths, stored together with the inventory in one
// transaction, and folded into a cached bundle when one exists. A rejected
// manifest stores nothing.
func (e *Engine) Ingest(ctx context.Context, m *Manifest) (*IngestResult, error) {
	res, err := e.ingest(ctx, m)
	return res, observe("ingest", err)
}

func (e *Engine) ingest(ctx context.Context, m *Manifest) (*IngestResult, error) {
	res := &IngestResult{Build: m.Build}

	snap := m.Snapshot()
	if snap != nil {
		if err := diff.NewValidator().ValidateForIngestion(snap); err != nil {
			return nil, err
		}
	}

	execs, err := e.checkExecutions(ctx, m, snap)
	if err != nil {
		return nil, err
	}
	if snap == nil && len(execs) == 0 {
		return res, nil
	}
	if len(execs) > 0 {
		res.SessionID = m.SessionID
		if res.SessionID == "" {
			res.SessionID = uuid.NewString()
		}
		for i := range execs {
			if execs[i].SessionID == "" {
				execs[i].SessionID = res.SessionID
			}
		}
	}

	if err := e.store.SaveIngestion(ctx, m.Build, snap, execs); err != nil {
		return nil, storageErr("save ingestion", err)
	}
	res.SnapshotSaved = snap != nil
	res.Executions = len(execs)
	for _, x := range execs {
		executionsIngested.WithLabelValues(string(x.Source)).Inc()
	}

	if snap != nil {
		e.cache.Invalidate(m.Build)
		e.logger.Info("Ingested build",
			"build", m.Build.String(),
			"methods", len(snap.Methods),
		)
	} else {
		_, err := e.cache.Update(m.Build, func(b *coverage.Bundle) error {
			for _, x := range execs {
				if err := b.Add(x); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			// the stored executions are intact; the next read recomputes
			e.logger.Warn("Dropped cached bundle after ingest",
				"build", m.Build.String(),
				"error", err,
			)
		}
	}

	if len(execs) > 0 {
		e.logger.Info("Ingested executions",
			"build", m.Build.String(),
			"executions", len(execs),
			"session_id", res.SessionID,
		)
	}
	return res, nil
}

// checkExecutions converts the manifest's executions and validates all of
// them before anything is stored. Known classes must match the build's
// layout. Classes the build does not declare must agree with each other
// and with the coverage already stored for the build.
func (e *Engine) checkExecutions(ctx context.Context, m *Manifest, snap *diff.Snapshot) ([]coverage.Execution, error) {
	if len(m.Executions) == 0 {
		return nil, nil
	}
	if snap == nil {
		var err error
		if snap, err = e.snapshot(ctx, m.Build); err != nil {
			return nil, err
		}
	}
	widths := diff.ClassWidths(snap.Methods)

	execs := make([]coverage.Execution, len(m.Executions))
	undeclared := false
	for i, me := range m.Executions {
		x := coverage.Execution{
			ID:        me.ID,
			Source:    me.Source,
			Test:      me.Test,
			TaskID:    me.TaskID,
			SessionID: me.SessionID,
			Build:     m.Build,
			CreatedAt: me.CreatedAt,
			Classes:   me.Classes,
		}
		if x.Source == "" {
			x.Source = coverage.SourceTest
		}
		if x.Source == coverage.SourceTest && x.Test.ID == "" {
			return nil, cerrors.Newf(cerrors.InvalidArgument, "execution %d: test source without a test id", i)
		}
		for class := range x.Classes {
			if _, ok := widths[class]; !ok {
				undeclared = true
			}
		}
		execs[i] = x
	}

	if undeclared {
		stored, err := e.storedWidths(ctx, m.Build)
		if err != nil {
			return nil, err
		}
		for class, w := range stored {
			if _, ok := widths[class]; !ok {
				widths[class] = w
			}
		}
	}
	if err := coverage.CheckWidths(execs, widths); err != nil {
		return nil, err
	}
	return execs, nil
}

// storedWidths returns the probe widths of every class in the build's
// current coverage, or nil when the build is not stored yet.
func (e *Engine) storedWidths(ctx context.Context, key diff.BuildKey) (map[string]int, error) {
	existing, err := e.store.LoadSnapshot(ctx, key)
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}
	if existing == nil {
		return nil, nil
	}
	b, err := e.Coverage(ctx, key)
	if err != nil {
		return nil, err
	}
	widths := make(map[string]int, len(b.Total))
	for class, bits := range b.Total {
		widths[class] = bits.Width()
	}
	return widths, nil
}

// Coverage returns the aggregated coverage of a build: from the cache, then
// from the stored aggregate, then recomputed from executions. The returned
// bundle is shared and must not be modified.
func (e *Engine) Coverage(ctx context.Context, key diff.BuildKey) (*coverage.Bundle, error) {
	b, hit, err := e.cache.GetOrCompute(ctx, key, e.loadOrAggregate)
	recordCacheResult(hit)
	return b, observe("coverage", err)
}

func (e *Engine) loadOrAggregate(ctx context.Context, key diff.BuildKey) (*coverage.Bundle, error) {
	stored, err := e.store.LoadAggregate(ctx, key)
	if err != nil {
		// a corrupt aggregate is recomputed
		e.logger.Warn("Ignoring stored aggregate",
			"build", key.String(),
			"error", err,
		)
	}
	if stored != nil {
		return stored, nil
	}
	return e.aggregate(ctx, key, "miss")
}

func (e *Engine) aggregate(ctx context.Context, key diff.BuildKey, trigger string) (*coverage.Bundle, error) {
	snap, err := e.snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	execs, err := e.store.LoadTestExecutions(ctx, key, nil)
	if err != nil {
		return nil, storageErr("load executions", err)
	}
	execs, conflicts := coverage.Reconcile(execs, diff.ClassWidths(snap.Methods))
	if len(conflicts) > 0 {
		first := conflicts[0]
		e.logger.Warn("Skipped coverage with mismatched probe widths",
			"build", key.String(),
			"entries", len(conflicts),
			"class", first.Class,
			"execution", first.Execution,
			"width", first.Width,
			"want", first.Want,
		)
	}

	start := time.Now()
	b, err := e.aggregator.Aggregate(ctx, key, execs)
	if err != nil {
		return nil, err
	}
	aggregationDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())

	if e.cfg.Aggregation.StoreAggregates {
		if err := e.store.StoreAggregate(ctx, b); err != nil {
			return nil, storageErr("store aggregate", err)
		}
	}
	return b, nil
}

// Refresh recomputes a build's bundle from its executions, stores it and
// replaces the cached copy.
func (e *Engine) Refresh(ctx context.Context, key diff.BuildKey) (*coverage.Bundle, error) {
	return e.refresh(ctx, key, "refresh")
}

func (e *Engine) refresh(ctx context.Context, key diff.BuildKey, trigger string) (*coverage.Bundle, error) {
	e.cache.Invalidate(key)
	b, err := e.aggregate(ctx, key, trigger)
	if err != nil {
		return nil, observe("refresh", err)
	}
	e.cache.Put(key, b)
	e.logger.Info("Refreshed coverage",
		"build", key.String(),
		"executions", b.Executions,
	)
	return b, nil
}

// Builds lists the stored builds of an application.
func (e *Engine) Builds(ctx context.Context, groupID, appID string) ([]storage.BuildInfo, error) {
	infos, err := e.store.ListBuilds(ctx, groupID, appID)
	if err != nil {
		return nil, observe("builds", storageErr("list builds", err))
	}
	return infos, nil
}

// Changes diffs target against baseline.
func (e *Engine) Changes(ctx context.Context, target, baseline diff.BuildKey) (*diff.ChangeSet, error) {
	t, err := e.snapshot(ctx, target)
	if err != nil {
		return nil, observe("changes", err)
	}
	b, err := e.baseline(ctx, baseline)
	if err != nil {
		return nil, observe("changes", err)
	}
	return diff.Diff(t.Methods, b.Methods), nil
}

// Tree projects a build's coverage onto its package hierarchy.
func (e *Engine) Tree(ctx context.Context, key diff.BuildKey) (*tree.PackageTree, error) {
	snap, err := e.snapshot(ctx, key)
	if err != nil {
		return nil, observe("tree", err)
	}
	b, err := e.Coverage(ctx, key)
	if err != nil {
		return nil, err
	}
	t := e.projector.Project(b, snap.Methods)
	t.Build = key
	return t, nil
}

// Treemap flattens a build's package tree, keeping paths under rootPrefix.
func (e *Engine) Treemap(ctx context.Context, key diff.BuildKey, rootPrefix string) ([]tree.TreemapNode, error) {
	t, err := e.Tree(ctx, key)
	if err != nil {
		return nil, err
	}
	nodes, err := tree.Treemap(t, rootPrefix)
	return nodes, observe("treemap", err)
}

// Risks returns the changed methods of target against baseline with their
// coverage history, updating the application's risk ledger.
func (e *Engine) Risks(ctx context.Context, target, baseline diff.BuildKey) ([]impact.Risk, error) {
	risks, err := e.risks(ctx, target, baseline)
	return risks, observe("risks", err)
}

func (e *Engine) risks(ctx context.Context, target, baseline diff.BuildKey) ([]impact.Risk, error) {
	changes, err := e.Changes(ctx, target, baseline)
	if err != nil {
		return nil, err
	}
	b, err := e.Coverage(ctx, target)
	if err != nil {
		return nil, err
	}

	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	prev, err := e.store.LoadRiskLedger(ctx, target.GroupID, target.AppID)
	if err != nil {
		return nil, storageErr("load risk ledger", err)
	}
	ledger, risks := impact.Accumulate(prev, impact.RiskInput{
		Baseline:  baseline.Version,
		Build:     target.Version,
		Changes:   changes,
		Bundle:    b,
		MaxBuilds: e.cfg.Risks.MaxBuilds,
	})
	if err := e.store.StoreRiskLedger(ctx, target.GroupID, target.AppID, ledger); err != nil {
		return nil, storageErr("store risk ledger", err)
	}
	return risks, nil
}
