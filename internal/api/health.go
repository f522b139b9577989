package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"covdiff/internal/jobs"
	"covdiff/internal/version"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]bool   `json:"checks"`
	Details   map[string]string `json:"details,omitempty"`
	Jobs      *jobs.RunnerStats `json:"jobs,omitempty"`
	Memory    *MemoryInfo       `json:"memory,omitempty"`
}

// MemoryInfo contains memory usage information
type MemoryInfo struct {
	AllocMB      float64 `json:"allocMb"`
	SysMB        float64 `json:"sysMb"`
	NumGC        uint32  `json:"numGc"`
	NumGoroutine int     `json:"numGoroutine"`
}

// handleHealth is a liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	WriteJSON(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}, http.StatusOK)
}

// handleReady checks storage and the job runner.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]bool{},
		Details:   map[string]string{},
		Memory:    memoryInfo(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		resp.Checks["storage"] = false
		resp.Details["storage"] = err.Error()
	} else {
		resp.Checks["storage"] = true
	}

	if s.runner != nil {
		stats := s.runner.Stats()
		resp.Jobs = &stats
		resp.Checks["jobs"] = s.runner.IsRunning()
	}

	status := http.StatusOK
	for _, ok := range resp.Checks {
		if !ok {
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}
	}
	WriteJSON(w, resp, status)
}

func memoryInfo() *MemoryInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryInfo{
		AllocMB:      float64(m.Alloc) / 1024 / 1024,
		SysMB:        float64(m.Sys) / 1024 / 1024,
		NumGC:        m.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
	}
}
