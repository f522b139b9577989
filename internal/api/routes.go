package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"covdiff/internal/errors"
	"covdiff/internal/jobs"
	"covdiff/internal/paging"
)

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/ready", s.handleReady)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.HandleFunc("/jobs", s.handleListJobs)   // GET
	s.router.HandleFunc("/jobs/", s.handleJobRoutes) // GET /:id, POST /:id/cancel
}

// handleListJobs handles GET /jobs?status=&type=&page=&pageSize=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runner == nil {
		WriteError(w, errors.Newf(errors.InvalidArgument, "no job runner in this process"))
		return
	}

	opts := jobs.ListJobsOptions{
		Page: paging.Page{
			Number: queryInt(r, "page", 1),
			Size:   queryInt(r, "pageSize", 20),
		},
	}
	if status := r.URL.Query().Get("status"); status != "" {
		opts.Status = []jobs.JobStatus{jobs.JobStatus(status)}
	}
	if typ := r.URL.Query().Get("type"); typ != "" {
		opts.Type = []jobs.JobType{jobs.JobType(typ)}
	}

	resp, err := s.runner.ListJobs(opts)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, resp, http.StatusOK)
}

// handleJobRoutes handles /jobs/:id routes
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.SplitN(path, "/", 2)
	jobID := parts[0]

	if jobID == "" {
		WriteError(w, errors.Newf(errors.InvalidArgument, "missing job id"))
		return
	}
	if s.runner == nil {
		WriteError(w, errors.Newf(errors.InvalidArgument, "no job runner in this process"))
		return
	}

	if len(parts) > 1 && parts[1] == "cancel" {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.runner.Cancel(jobID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, map[string]string{"jobId": jobID, "status": string(jobs.JobCancelled)}, http.StatusOK)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job, err := s.runner.GetJob(jobID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, job, http.StatusOK)
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
