// Package service wires the coverage core to storage. The Engine resolves
// builds and their history from a Store, keeps aggregated bundles in a
// bounded cache and answers every coverage, risk and impact query.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"covdiff/internal/config"
	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/impact"
	"covdiff/internal/storage"
	"covdiff/internal/tree"
)

// Store is the storage collaborator the engine needs. *storage.DB
// implements it.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *diff.Snapshot) error
	LoadSnapshot(ctx context.Context, key diff.BuildKey) (*diff.Snapshot, error)
	ListBuilds(ctx context.Context, groupID, appID string) ([]storage.BuildInfo, error)
	LoadPriorBuildVersions(ctx context.Context, groupID, appID, before string) ([]string, error)

	SaveIngestion(ctx context.Context, build diff.BuildKey, snap *diff.Snapshot, execs []coverage.Execution) error
	LoadTestExecutions(ctx context.Context, key diff.BuildKey, f *coverage.Filter) ([]coverage.Execution, error)

	StoreAggregate(ctx context.Context, b *coverage.Bundle) error
	LoadAggregate(ctx context.Context, key diff.BuildKey) (*coverage.Bundle, error)

	LoadRiskLedger(ctx context.Context, groupID, appID string) (*impact.RiskLedger, error)
	StoreRiskLedger(ctx context.Context, groupID, appID string, ledger *impact.RiskLedger) error

	DeleteBefore(ctx context.Context, cutoff time.Time, keepLatest int) (int64, error)
}

var _ Store = (*storage.DB)(nil)

// Engine answers coverage queries over a Store.
type Engine struct {
	store      Store
	cfg        *config.Config
	logger     *slog.Logger
	aggregator *coverage.Aggregator
	projector  *tree.Projector
	analyzer   *impact.Analyzer
	cache      *BundleCache

	// serializes ledger read-modify-write per application
	ledgerMu sync.Mutex
}

// NewEngine creates an engine. A nil cfg uses config.DefaultConfig().
func NewEngine(store Store, cfg *config.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	policy := impact.Policy{
		IncludeNewMethods: cfg.Impact.IncludeNewMethods,
		Window:            impact.CoverageWindow(cfg.Impact.Window),
	}
	return &Engine{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		aggregator: coverage.NewAggregator(logger, coverage.WithWorkers(cfg.Aggregation.Workers)),
		projector:  tree.NewProjector(logger, tree.WithAnomalyLogging(cfg.Aggregation.LogTreeAnomalies)),
		analyzer:   impact.NewAnalyzer(policy, logger),
		cache: NewBundleCache(
			WithMaxEntries(cfg.Cache.MaxBundles),
			WithMaxAge(time.Duration(cfg.Cache.TTLSeconds)*time.Second),
		),
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// CacheStats returns the bundle cache counters.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// storageErr tags an uncoded storage error as STORAGE_FAILURE.
func storageErr(op string, err error) error {
	if err == nil || cerrors.CodeOf(err) != "" {
		return err
	}
	return cerrors.New(cerrors.StorageFailure, op+" failed", err)
}

// snapshot loads a build that must exist.
func (e *Engine) snapshot(ctx context.Context, key diff.BuildKey) (*diff.Snapshot, error) {
	snap, err := e.store.LoadSnapshot(ctx, key)
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}
	if snap == nil {
		return nil, cerrors.Newf(cerrors.BuildNotFound, "build %s has no recorded methods", key)
	}
	return snap, nil
}

// baseline loads a baseline build; a missing or empty one is UNKNOWN_BASELINE.
func (e *Engine) baseline(ctx context.Context, key diff.BuildKey) (*diff.Snapshot, error) {
	snap, err := e.store.LoadSnapshot(ctx, key)
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}
	if snap == nil || len(snap.Methods) == 0 {
		return nil, cerrors.Newf(cerrors.UnknownBaseline, "baseline %s has no recorded methods", key)
	}
	return snap, nil
}
