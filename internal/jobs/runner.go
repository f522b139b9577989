package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cerrors "covdiff/internal/errors"
	"covdiff/internal/paging"
)

// JobHandler runs one job. progress takes a percentage and persists it.
type JobHandler func(ctx context.Context, job *Job, progress func(int)) (any, error)

// RunnerConfig sizes a Runner. Zero values take the defaults.
type RunnerConfig struct {
	QueueSize   int
	WorkerCount int
	// RecoveryInterval is how often stored queued jobs are re-enqueued.
	RecoveryInterval time.Duration
}

// DefaultRunnerConfig returns a single worker with a queue of 100.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		QueueSize:        100,
		WorkerCount:      1,
		RecoveryInterval: 30 * time.Second,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	def := DefaultRunnerConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = def.RecoveryInterval
	}
	return c
}

// Runner executes stored jobs on a fixed pool of workers. Every job
// context derives from the runner's own, so Stop cancels whatever is
// still running.
type Runner struct {
	store  *Store
	logger *slog.Logger
	cfg    RunnerConfig

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	queue chan *Job

	mu       sync.Mutex
	handlers map[JobType]JobHandler
	pending  map[string]bool               // in the channel
	running  map[string]context.CancelFunc // in a handler

	processed atomic.Int64
	failed    atomic.Int64
}

// NewRunner returns a runner over store. Handlers are registered before
// Start.
func NewRunner(store *Store, logger *slog.Logger, cfg RunnerConfig) *Runner {
	cfg = cfg.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		store:    store,
		logger:   logger,
		cfg:      cfg,
		ctx:      ctx,
		stop:     stop,
		queue:    make(chan *Job, cfg.QueueSize),
		handlers: make(map[JobType]JobHandler),
		pending:  make(map[string]bool),
		running:  make(map[string]context.CancelFunc),
	}
}

// RegisterHandler sets the handler for jobType, replacing any earlier one.
func (r *Runner) RegisterHandler(jobType JobType, handler JobHandler) {
	r.mu.Lock()
	r.handlers[jobType] = handler
	r.mu.Unlock()
	r.logger.Debug("Registered job handler", "type", string(jobType))
}

// Start launches the workers and re-enqueues jobs a previous process left
// queued.
func (r *Runner) Start() error {
	if !r.IsRunning() {
		return fmt.Errorf("runner is stopped")
	}
	r.logger.Info("Starting job runner",
		"workers", r.cfg.WorkerCount,
		"queue_size", r.cfg.QueueSize,
	)
	for i := range r.cfg.WorkerCount {
		r.spawn(func() { r.work(i) })
	}
	r.every(r.cfg.RecoveryInterval, r.recover)
	r.recover()
	return nil
}

// Every submits a job built by newJob once per interval until the runner
// stops. The first submission happens after one interval.
func (r *Runner) Every(interval time.Duration, newJob func() (*Job, error)) {
	r.every(interval, func() {
		job, err := newJob()
		if err == nil {
			err = r.Submit(job)
		}
		if err != nil {
			r.logger.Warn("Failed to submit scheduled job", "error", err)
		}
	})
}

func (r *Runner) spawn(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Runner) every(interval time.Duration, fn func()) {
	r.spawn(func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				fn()
			case <-r.ctx.Done():
				return
			}
		}
	})
}

// Stop cancels running jobs and waits up to timeout for the workers.
func (r *Runner) Stop(timeout time.Duration) error {
	r.logger.Info("Stopping job runner", "running", r.Stats().RunningJobs)
	r.stop()

	idle := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job runner shutdown timed out after %v", timeout)
	}
}

// IsRunning reports whether Stop has not been called.
func (r *Runner) IsRunning() bool {
	return r.ctx.Err() == nil
}

// Submit stores job and queues it. When the queue is full the job stays
// stored as queued until the next recovery pass.
func (r *Runner) Submit(job *Job) error {
	if !r.IsRunning() {
		return fmt.Errorf("runner is shutting down")
	}
	if err := r.store.CreateJob(job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	if !r.enqueue(job) {
		r.logger.Warn("Job queue full, deferring job", "job_id", job.ID)
		return nil
	}
	r.logger.Debug("Job queued", "job_id", job.ID, "type", string(job.Type))
	return nil
}

// enqueue puts job on the channel unless it is already queued or running
// or the channel is full.
func (r *Runner) enqueue(job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[job.ID] || r.running[job.ID] != nil {
		return false
	}
	select {
	case r.queue <- job:
		r.pending[job.ID] = true
		return true
	default:
		return false
	}
}

func (r *Runner) recover() {
	stored, err := r.store.GetPendingJobs()
	if err != nil {
		r.logger.Warn("Failed to load pending jobs", "error", err)
		return
	}
	n := 0
	for _, job := range stored {
		if r.enqueue(job) {
			n++
		}
	}
	if n > 0 {
		r.logger.Info("Re-enqueued stored jobs", "count", n, "pending", len(stored))
	}
}

// Cancel cancels a queued or running job.
func (r *Runner) Cancel(jobID string) error {
	job, err := r.GetJob(jobID)
	if err != nil {
		return err
	}
	if !job.CanCancel() {
		return cerrors.Newf(cerrors.InvalidArgument, "job cannot be cancelled in state: %s", job.Status)
	}

	r.mu.Lock()
	if cancel := r.running[jobID]; cancel != nil {
		cancel()
	}
	r.mu.Unlock()

	job.MarkCancelled()
	return r.store.UpdateJob(job)
}

// GetJob returns a stored job or a JOB_NOT_FOUND error.
func (r *Runner) GetJob(jobID string) (*Job, error) {
	job, err := r.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, cerrors.Newf(cerrors.JobNotFound, "job not found: %s", jobID)
	}
	return job, nil
}

// ListJobs returns one page of stored jobs.
func (r *Runner) ListJobs(opts ListJobsOptions) (*paging.List[JobSummary], error) {
	return r.store.ListJobs(opts)
}

// CleanupOldJobs removes finished jobs completed more than retention ago.
func (r *Runner) CleanupOldJobs(retention time.Duration) (int64, error) {
	return r.store.CleanupOldJobs(retention)
}

func (r *Runner) work(worker int) {
	log := r.logger.With("worker_id", worker)
	log.Debug("Job worker started")
	for {
		select {
		case job := <-r.queue:
			r.run(log.With("job_id", job.ID, "type", string(job.Type)), job)
		case <-r.ctx.Done():
			log.Debug("Job worker stopping")
			return
		}
	}
}

// claim moves job from pending to running and returns its handler and
// context. ok is false when the job was finished while it waited.
func (r *Runner) claim(job *Job) (handler JobHandler, ctx context.Context, ok bool) {
	if stored, err := r.store.GetJob(job.ID); err == nil && stored != nil && stored.IsTerminal() {
		r.mu.Lock()
		delete(r.pending, job.ID)
		r.mu.Unlock()
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(r.ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, job.ID)
	r.running[job.ID] = cancel
	return r.handlers[job.Type], ctx, true
}

func (r *Runner) release(job *Job) {
	r.mu.Lock()
	cancel := r.running[job.ID]
	delete(r.running, job.ID)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Runner) run(log *slog.Logger, job *Job) {
	handler, ctx, ok := r.claim(job)
	if !ok {
		return
	}
	defer r.release(job)

	save := func(what string) {
		if err := r.store.UpdateJob(job); err != nil {
			log.Warn("Failed to save job "+what, "error", err)
		}
	}

	if handler == nil {
		log.Error("No handler for job type")
		job.MarkFailed(fmt.Errorf("no handler for job type: %s", job.Type))
		r.failed.Add(1)
		save("state")
		return
	}

	job.MarkStarted()
	save("state")
	log.Info("Processing job")

	result, err := handler(ctx, job, func(pct int) {
		job.SetProgress(pct)
		save("progress")
	})
	if err == nil {
		err = job.MarkCompleted(result)
	}

	took := job.Duration().String()
	switch {
	case err == nil:
		r.processed.Add(1)
		log.Info("Job completed", "duration", took)
	case errors.Is(ctx.Err(), context.Canceled):
		job.MarkCancelled()
		log.Info("Job cancelled", "duration", took)
	default:
		job.MarkFailed(err)
		r.failed.Add(1)
		log.Error("Job failed", "error", err, "duration", took)
	}
	save("state")
}

// RunnerStats is a point-in-time view of the runner.
type RunnerStats struct {
	QueueLength    int   `json:"queueLength"`
	QueueCapacity  int   `json:"queueCapacity"`
	RunningJobs    int   `json:"runningJobs"`
	ProcessedTotal int64 `json:"processedTotal"`
	FailedTotal    int64 `json:"failedTotal"`
	WorkerCount    int   `json:"workerCount"`
}

// Stats returns runner statistics.
func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	running := len(r.running)
	r.mu.Unlock()
	return RunnerStats{
		QueueLength:    len(r.queue),
		QueueCapacity:  r.cfg.QueueSize,
		RunningJobs:    running,
		ProcessedTotal: r.processed.Load(),
		FailedTotal:    r.failed.Load(),
		WorkerCount:    r.cfg.WorkerCount,
	}
}
