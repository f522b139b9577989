package jobs

import (
	"encoding/json"
	"time"

	cerrors "covdiff/internal/errors"
)

// RefreshScope selects the builds whose aggregates a refresh_aggregates job
// recomputes. An empty Builds list means every build of GroupID:AppID, or
// every stored build when those are empty too.
type RefreshScope struct {
	GroupID string   `json:"groupId,omitempty"`
	AppID   string   `json:"appId,omitempty"`
	Builds  []string `json:"builds,omitempty"` // build ids group:app:version
}

// ParseRefreshScope parses the scope JSON of a refresh_aggregates job.
func ParseRefreshScope(scopeJSON string) (*RefreshScope, error) {
	if scopeJSON == "" {
		return &RefreshScope{}, nil
	}

	var scope RefreshScope
	if err := json.Unmarshal([]byte(scopeJSON), &scope); err != nil {
		return nil, cerrors.New(cerrors.InvalidArgument, "invalid refresh scope", err)
	}
	return &scope, nil
}

// RefreshResult contains the result of a refresh_aggregates job.
type RefreshResult struct {
	Status     string   `json:"status"` // "completed", "partial"
	Builds     int      `json:"builds"`
	Executions int      `json:"executions"`
	Duration   string   `json:"duration"`
	Warnings   []string `json:"warnings,omitempty"`
}

// RetentionScope configures a retention job.
type RetentionScope struct {
	Days       int `json:"days"`
	KeepLatest int `json:"keepLatest"`
	// JobDays also prunes finished jobs older than this many days. Zero keeps them.
	JobDays int `json:"jobDays,omitempty"`
}

// ParseRetentionScope parses the scope JSON of a retention job.
func ParseRetentionScope(scopeJSON string) (*RetentionScope, error) {
	if scopeJSON == "" {
		return nil, cerrors.Newf(cerrors.InvalidArgument, "retention job needs a scope")
	}

	var scope RetentionScope
	if err := json.Unmarshal([]byte(scopeJSON), &scope); err != nil {
		return nil, cerrors.New(cerrors.InvalidArgument, "invalid retention scope", err)
	}
	if scope.Days <= 0 {
		return nil, cerrors.Newf(cerrors.InvalidArgument, "retention days must be positive, got %d", scope.Days)
	}
	return &scope, nil
}

// Cutoff returns the creation time before which builds expire.
func (s RetentionScope) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -s.Days)
}

// RetentionResult contains the result of a retention job.
type RetentionResult struct {
	BuildsDeleted int64  `json:"buildsDeleted"`
	JobsDeleted   int64  `json:"jobsDeleted"`
	Cutoff        string `json:"cutoff"`
}
