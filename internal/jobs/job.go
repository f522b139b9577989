// Package jobs runs maintenance work off the request path: aggregate
// refreshes and build retention. Jobs are persisted in their own SQLite
// database so queued work survives a restart.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"covdiff/internal/paging"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobType identifies the kind of work a job performs.
type JobType string

const (
	JobTypeRefreshAggregates JobType = "refresh_aggregates"
	JobTypeRetention         JobType = "retention"
)

// KnownJobTypes lists every job type a runner can be given handlers for.
var KnownJobTypes = []JobType{JobTypeRefreshAggregates, JobTypeRetention}

// Job is one unit of background work. Scope and Result are the JSON forms
// of the type's scope and result structs.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Scope       json.RawMessage `json:"scope,omitempty"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// NewJob returns a queued job. A nil scope leaves Scope empty.
func NewJob(jobType JobType, scope any) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	if scope != nil {
		data, err := json.Marshal(scope)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s scope: %w", jobType, err)
		}
		job.Scope = data
	}
	return job, nil
}

// IsTerminal reports whether the job has finished one way or another.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// CanCancel reports whether the job is still queued or running.
func (j *Job) CanCancel() bool {
	return !j.IsTerminal()
}

// MarkStarted moves the job to running.
func (j *Job) MarkStarted() {
	now := time.Now().UTC()
	j.Status = JobRunning
	j.StartedAt = &now
}

func (j *Job) finish(status JobStatus) {
	now := time.Now().UTC()
	j.Status = status
	j.CompletedAt = &now
}

// MarkCompleted finishes the job with result encoded as JSON.
func (j *Job) MarkCompleted(result any) error {
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode %s result: %w", j.Type, err)
		}
		j.Result = data
	}
	j.Progress = 100
	j.finish(JobCompleted)
	return nil
}

// MarkFailed finishes the job with err.
func (j *Job) MarkFailed(err error) {
	if err != nil {
		j.Error = err.Error()
	}
	j.finish(JobFailed)
}

// MarkCancelled finishes the job as cancelled.
func (j *Job) MarkCancelled() {
	j.finish(JobCancelled)
}

// SetProgress records progress clamped to 0..100.
func (j *Job) SetProgress(progress int) {
	j.Progress = min(max(progress, 0), 100)
}

// Duration is the run time so far, or the total once finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	return end.Sub(*j.StartedAt)
}

// JobSummary is a lightweight view of a job for listing.
type JobSummary struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ToSummary creates a summary view of the job.
func (j *Job) ToSummary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}
}

// MaxListSize caps the page size of ListJobs.
const MaxListSize = 100

// ListJobsOptions filters and pages a job listing. Empty filters match all.
type ListJobsOptions struct {
	Status []JobStatus
	Type   []JobType
	Page   paging.Page
}
