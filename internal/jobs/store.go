package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	cerrors "covdiff/internal/errors"
	"covdiff/internal/paging"
)

// FileName is the job database inside the state directory.
const FileName = "jobs.db"

// timeLayout sorts lexically, which ORDER BY created_at relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, type, scope, status, progress, created_at, started_at, completed_at, error, result`

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	scope        TEXT,
	status       TEXT NOT NULL DEFAULT 'queued',
	progress     INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT,
	error        TEXT,
	result       TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_type ON jobs(type);
`

// pragmas go in the DSN so every pooled connection gets them.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// Store persists jobs in their own SQLite database.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	path   string
}

// OpenStore opens or creates <stateDir>/jobs.db.
func OpenStore(stateDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	path := filepath.Join(stateDir, FileName)

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	conn, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs database: %w", err)
	}
	if _, err := conn.Exec(jobsSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize jobs schema: %w", err)
	}

	logger.Debug("Opened job store", "path", path)
	return &Store{conn: conn, logger: logger, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(job *Job) error {
	_, err := s.conn.Exec(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, nullString(string(job.Scope)), job.Status, job.Progress,
		job.CreatedAt.UTC().Format(timeLayout),
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		nullString(job.Error), nullString(string(job.Result)),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	s.logger.Debug("Created job", "job_id", job.ID, "type", string(job.Type))
	return nil
}

// GetJob returns the job with id, or nil when there is none.
func (s *Store) GetJob(id string) (*Job, error) {
	job, err := scanJob(s.conn.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// UpdateJob writes the mutable fields of job.
func (s *Store) UpdateJob(job *Job) error {
	res, err := s.conn.Exec(`
		UPDATE jobs
		SET status = ?, progress = ?, started_at = ?, completed_at = ?, error = ?, result = ?
		WHERE id = ?`,
		job.Status, job.Progress,
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		nullString(job.Error), nullString(string(job.Result)),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cerrors.Newf(cerrors.JobNotFound, "job not found: %s", job.ID)
	}
	return nil
}

// ListJobs returns one page of jobs, newest first. The total is only
// counted when the page comes back full.
func (s *Store) ListJobs(opts ListJobsOptions) (*paging.List[JobSummary], error) {
	var where []string
	var args []any
	if len(opts.Status) > 0 {
		where = append(where, "status IN ("+placeholders(len(opts.Status))+")")
		for _, st := range opts.Status {
			args = append(args, st)
		}
	}
	if len(opts.Type) > 0 {
		where = append(where, "type IN ("+placeholders(len(opts.Type))+")")
		for _, t := range opts.Type {
			args = append(args, t)
		}
	}
	filter := ""
	if len(where) > 0 {
		filter = " WHERE " + strings.Join(where, " AND ")
	}

	page := opts.Page.Normalize()
	if page.Size > MaxListSize {
		page.Size = MaxListSize
	}
	jobs, err := s.queryJobs(`SELECT `+jobColumns+` FROM jobs`+filter+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(append([]any{}, args...), page.Limit(), page.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	summaries := make([]JobSummary, len(jobs))
	for i, j := range jobs {
		summaries[i] = j.ToSummary()
	}
	return paging.New(page, summaries, func() (int, error) {
		var n int
		if err := s.conn.QueryRow(`SELECT COUNT(*) FROM jobs`+filter, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count jobs: %w", err)
		}
		return n, nil
	})
}

// GetPendingJobs returns queued jobs, oldest first.
func (s *Store) GetPendingJobs() ([]*Job, error) {
	jobs, err := s.queryJobs(`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC`, JobQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	return jobs, nil
}

// CleanupOldJobs deletes terminal jobs that completed more than retention ago.
func (s *Store) CleanupOldJobs(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(timeLayout)
	res, err := s.conn.Exec(`DELETE FROM jobs WHERE status IN (?, ?, ?) AND completed_at < ?`,
		JobCompleted, JobFailed, JobCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if n > 0 {
		s.logger.Info("Removed old jobs", "count", n, "cutoff", cutoff)
	}
	return n, err
}

func (s *Store) queryJobs(query string, args ...any) ([]*Job, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scope, started, completed, errMsg, result sql.NullString
	var created string
	if err := row.Scan(&job.ID, &job.Type, &scope, &job.Status, &job.Progress,
		&created, &started, &completed, &errMsg, &result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	if scope.Valid {
		job.Scope = json.RawMessage(scope.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	job.Error = errMsg.String
	job.CreatedAt, _ = time.Parse(timeLayout, created)
	job.StartedAt = parseTime(started)
	job.CompletedAt = parseTime(completed)
	return &job, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}
