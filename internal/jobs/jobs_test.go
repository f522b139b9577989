package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	cerrors "covdiff/internal/errors"
	"covdiff/internal/slogutil"
)

func TestNewJob(t *testing.T) {
	t.Run("with nil scope", func(t *testing.T) {
		job, err := NewJob(JobTypeRefreshAggregates, nil)
		if err != nil {
			t.Fatalf("NewJob() error = %v", err)
		}
		if job.ID == "" {
			t.Error("Job ID should not be empty")
		}
		if job.Type != JobTypeRefreshAggregates {
			t.Errorf("Type = %v, want %v", job.Type, JobTypeRefreshAggregates)
		}
		if job.Status != JobQueued {
			t.Errorf("Status = %v, want %v", job.Status, JobQueued)
		}
		if len(job.Scope) != 0 {
			t.Errorf("Scope = %s, want empty", job.Scope)
		}
	})

	t.Run("with scope", func(t *testing.T) {
		job, err := NewJob(JobTypeRetention, RetentionScope{Days: 30, KeepLatest: 2})
		if err != nil {
			t.Fatalf("NewJob() error = %v", err)
		}
		scope, err := ParseRetentionScope(string(job.Scope))
		if err != nil {
			t.Fatalf("ParseRetentionScope() error = %v", err)
		}
		if scope.Days != 30 || scope.KeepLatest != 2 {
			t.Errorf("scope = %+v, want days 30 keep 2", scope)
		}
	})
}

func TestJobLifecycle(t *testing.T) {
	tests := []struct {
		status    JobStatus
		terminal  bool
		canCancel bool
	}{
		{JobQueued, false, true},
		{JobRunning, false, true},
		{JobCompleted, true, false},
		{JobFailed, true, false},
		{JobCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := &Job{Status: tt.status}
			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := job.CanCancel(); got != tt.canCancel {
				t.Errorf("CanCancel() = %v, want %v", got, tt.canCancel)
			}
		})
	}
}

func TestJobMarkTransitions(t *testing.T) {
	job := &Job{Status: JobQueued}
	job.MarkStarted()
	if job.Status != JobRunning || job.StartedAt == nil {
		t.Fatalf("MarkStarted() left %+v", job)
	}

	if err := job.MarkCompleted(RefreshResult{Status: "completed", Builds: 3}); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if job.Progress != 100 || len(job.Result) == 0 || job.CompletedAt == nil {
		t.Errorf("MarkCompleted() left %+v", job)
	}

	failed := &Job{Status: JobRunning}
	failed.MarkFailed(errors.New("disk full"))
	if failed.Status != JobFailed || failed.Error != "disk full" {
		t.Errorf("MarkFailed() left %+v", failed)
	}
}

func TestJobSetProgress(t *testing.T) {
	tests := []struct {
		input, want int
	}{
		{-5, 0},
		{40, 40},
		{150, 100},
	}
	for _, tt := range tests {
		job := &Job{}
		job.SetProgress(tt.input)
		if job.Progress != tt.want {
			t.Errorf("SetProgress(%d) = %d, want %d", tt.input, job.Progress, tt.want)
		}
	}
}

func TestParseRefreshScope(t *testing.T) {
	scope, err := ParseRefreshScope("")
	if err != nil || len(scope.Builds) != 0 {
		t.Errorf("empty scope = %+v, %v", scope, err)
	}

	scope, err = ParseRefreshScope(`{"groupId":"g","appId":"a","builds":["g:a:1"]}`)
	if err != nil {
		t.Fatalf("ParseRefreshScope() error = %v", err)
	}
	if scope.GroupID != "g" || len(scope.Builds) != 1 {
		t.Errorf("scope = %+v", scope)
	}

	if _, err := ParseRefreshScope("{"); !cerrors.IsCode(err, cerrors.InvalidArgument) {
		t.Errorf("invalid JSON error = %v, want INVALID_ARGUMENT", err)
	}
}

func TestParseRetentionScope(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"empty", "", true},
		{"zero days", `{"days":0}`, true},
		{"valid", `{"days":7,"keepLatest":1}`, false},
		{"malformed", `{"days":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRetentionScope(tt.json)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRetentionScope() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	cutoff := RetentionScope{Days: 10}.Cutoff(now)
	if !cutoff.Equal(time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Cutoff = %v", cutoff)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	store := openTestStore(t)

	job, _ := NewJob(JobTypeRetention, RetentionScope{Days: 1})
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	got, err := store.GetJob(job.ID)
	if err != nil || got == nil {
		t.Fatalf("GetJob() = %v, %v", got, err)
	}
	if string(got.Scope) != string(job.Scope) || !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("GetJob() = %+v, want %+v", got, job)
	}

	missing, err := store.GetJob("nope")
	if err != nil || missing != nil {
		t.Errorf("GetJob(missing) = %v, %v", missing, err)
	}

	pending, err := store.GetPendingJobs()
	if err != nil || len(pending) != 1 {
		t.Fatalf("GetPendingJobs() = %d jobs, %v", len(pending), err)
	}

	job.MarkFailed(errors.New("boom"))
	if err := store.UpdateJob(job); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	list, err := store.ListJobs(ListJobsOptions{Status: []JobStatus{JobFailed}})
	if err != nil || list.Total != 1 || list.Items[0].Error != "boom" {
		t.Errorf("ListJobs() = %+v, %v", list, err)
	}
	list, err = store.ListJobs(ListJobsOptions{Type: []JobType{JobTypeRefreshAggregates}})
	if err != nil || list.Total != 0 || len(list.Items) != 0 {
		t.Errorf("ListJobs(refresh) = %+v, %v", list, err)
	}

	err = store.UpdateJob(&Job{ID: "ghost", Status: JobRunning})
	if !cerrors.IsCode(err, cerrors.JobNotFound) {
		t.Errorf("UpdateJob(ghost) error = %v, want JOB_NOT_FOUND", err)
	}

	removed, err := store.CleanupOldJobs(-time.Hour)
	if err != nil || removed != 1 {
		t.Errorf("CleanupOldJobs() = %d, %v", removed, err)
	}
}

func waitForStatus(t *testing.T, r *Runner, id string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := r.GetJob(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s", id, want)
	return nil
}

func TestRunner(t *testing.T) {
	store := openTestStore(t)
	runner := NewRunner(store, slogutil.NewDiscardLogger(), DefaultRunnerConfig())

	runner.RegisterHandler(JobTypeRefreshAggregates, func(ctx context.Context, job *Job, progress func(int)) (any, error) {
		progress(50)
		return RefreshResult{Status: "completed", Builds: 2}, nil
	})
	runner.RegisterHandler(JobTypeRetention, func(ctx context.Context, job *Job, progress func(int)) (any, error) {
		return nil, errors.New("retention failed")
	})

	if err := runner.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = runner.Stop(time.Second) }()

	ok, _ := NewJob(JobTypeRefreshAggregates, nil)
	bad, _ := NewJob(JobTypeRetention, RetentionScope{Days: 1})
	for _, job := range []*Job{ok, bad} {
		if err := runner.Submit(job); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	done := waitForStatus(t, runner, ok.ID, JobCompleted)
	if len(done.Result) == 0 {
		t.Error("Completed job should carry a result")
	}
	failed := waitForStatus(t, runner, bad.ID, JobFailed)
	if failed.Error != "retention failed" {
		t.Errorf("Error = %q, want %q", failed.Error, "retention failed")
	}

	stats := runner.Stats()
	if stats.ProcessedTotal != 1 || stats.FailedTotal != 1 {
		t.Errorf("Stats() = %+v, want 1 processed 1 failed", stats)
	}

	if err := runner.Cancel("missing"); !cerrors.IsCode(err, cerrors.JobNotFound) {
		t.Errorf("Cancel(missing) error = %v, want JOB_NOT_FOUND", err)
	}
	if err := runner.Cancel(ok.ID); !cerrors.IsCode(err, cerrors.InvalidArgument) {
		t.Errorf("Cancel(completed) error = %v, want INVALID_ARGUMENT", err)
	}
}

func TestRunnerCancelRunningJob(t *testing.T) {
	store := openTestStore(t)
	runner := NewRunner(store, slogutil.NewDiscardLogger(), DefaultRunnerConfig())

	started := make(chan struct{})
	runner.RegisterHandler(JobTypeRefreshAggregates, func(ctx context.Context, job *Job, progress func(int)) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_ = runner.Start()
	defer func() { _ = runner.Stop(time.Second) }()

	job, _ := NewJob(JobTypeRefreshAggregates, nil)
	if err := runner.Submit(job); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	if err := runner.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitForStatus(t, runner, job.ID, JobCancelled)
}

func TestRunnerStop(t *testing.T) {
	runner := NewRunner(openTestStore(t), slogutil.NewDiscardLogger(), DefaultRunnerConfig())
	_ = runner.Start()

	if !runner.IsRunning() {
		t.Error("Runner should be running after Start")
	}
	if err := runner.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if runner.IsRunning() {
		t.Error("Runner should not be running after Stop")
	}

	job, _ := NewJob(JobTypeRetention, nil)
	if err := runner.Submit(job); err == nil {
		t.Error("Submit() after Stop should fail")
	}
}
