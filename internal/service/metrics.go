package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	cerrors "covdiff/internal/errors"
)

var (
	// aggregationDuration measures bundle recomputation.
	// Labels: trigger (miss, refresh, job)
	aggregationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "covdiff",
		Subsystem: "coverage",
		Name:      "aggregation_duration_seconds",
		Help:      "Time to aggregate the executions of one build",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"trigger"})

	// bundleCacheRequests counts bundle lookups.
	// Labels: result (hit, miss)
	bundleCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covdiff",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Bundle cache lookups by result",
	}, []string{"result"})

	// executionsIngested counts stored executions.
	// Labels: source (TEST, AGENT)
	executionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covdiff",
		Subsystem: "ingest",
		Name:      "executions_total",
		Help:      "Executions stored by ingest",
	}, []string{"source"})

	// operationErrors counts failed engine operations.
	// Labels: operation, code
	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covdiff",
		Subsystem: "engine",
		Name:      "errors_total",
		Help:      "Failed engine operations by error code",
	}, []string{"operation", "code"})

	// buildsDeleted counts builds removed by retention.
	buildsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "covdiff",
		Subsystem: "retention",
		Name:      "builds_deleted_total",
		Help:      "Builds removed by retention",
	})
)

func recordCacheResult(hit bool) {
	if hit {
		bundleCacheRequests.WithLabelValues("hit").Inc()
		return
	}
	bundleCacheRequests.WithLabelValues("miss").Inc()
}

// observe counts err against operation and returns it unchanged.
func observe(operation string, err error) error {
	if err == nil {
		return nil
	}
	code := cerrors.CodeOf(err)
	if code == "" {
		code = cerrors.InternalError
	}
	operationErrors.WithLabelValues(operation, string(code)).Inc()
	return err
}
