package slogutil

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// line logs one record through fn and returns the output after the
// timestamp.
func line(t *testing.T, level slog.Level, fn func(*slog.Logger)) string {
	t.Helper()
	var buf bytes.Buffer
	fn(NewLogger(&buf, level))
	out := strings.TrimSuffix(buf.String(), "\n")
	if out == "" {
		return ""
	}
	ts, rest, ok := strings.Cut(out, " ")
	if !ok {
		t.Fatalf("no timestamp in %q", out)
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("timestamp in %q: %v", out, err)
	}
	return rest
}

func TestHandler_Line(t *testing.T) {
	tests := []struct {
		name string
		log  func(*slog.Logger)
		want string
	}{
		{
			name: "no attrs",
			log:  func(l *slog.Logger) { l.Info("Opened database") },
			want: "[info] Opened database",
		},
		{
			name: "attrs",
			log:  func(l *slog.Logger) { l.Warn("Cache full", "size", 64, "evicted", true) },
			want: "[warn] Cache full | size=64 evicted=true",
		},
		{
			name: "quoted values",
			log: func(l *slog.Logger) {
				l.Error("Job failed", "error", errors.New("no such build"), "note", "", "key", "a=b")
			},
			want: `[error] Job failed | error="no such build" note="" key="a=b"`,
		},
		{
			name: "duration",
			log:  func(l *slog.Logger) { l.Debug("Job completed", "duration", 1500*time.Millisecond) },
			want: "[debug] Job completed | duration=1.5s",
		},
		{
			name: "with and groups",
			log: func(l *slog.Logger) {
				l.With("build", "g:a:1").WithGroup("bundle").
					Info("Aggregated", "classes", 3, slog.Group("count", "covered", 2, "total", 5))
			},
			want: "[info] Aggregated | build=g:a:1 bundle.classes=3 bundle.count.covered=2 bundle.count.total=5",
		},
		{
			name: "inline group",
			log:  func(l *slog.Logger) { l.Info("Stats", slog.Group("", "a", 1)) },
			want: "[info] Stats | a=1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := line(t, slog.LevelDebug, tt.log); got != tt.want {
				t.Errorf("line = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	for msg, want := range map[string]bool{
		"debug message": false,
		"info message":  false,
		"warn message":  true,
		"error message": true,
	} {
		if got := strings.Contains(out, msg); got != want {
			t.Errorf("output contains %q = %v, want %v", msg, got, want)
		}
	}
}

func TestHandler_SharedWriter(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, slog.LevelInfo)
	child := base.With("worker_id", 1)

	base.Info("one")
	child.Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[1], "two | worker_id=1") {
		t.Errorf("lines = %q", lines)
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.input); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		want      slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{3, false, slog.LevelDebug},
		{5, true, LevelSilent},
	}
	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity, tt.quiet); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v", tt.verbosity, tt.quiet, got, tt.want)
		}
	}
}

func TestNewDiscardLogger(t *testing.T) {
	if NewDiscardLogger().Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled at error")
	}
}

func TestTeeHandler(t *testing.T) {
	var info, warn bytes.Buffer
	logger := slog.New(NewTeeHandler(
		NewHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		NewHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)).With("build", "b1")

	logger.Info("info message")
	logger.Warn("warn message")

	if n := strings.Count(info.String(), "build=b1"); n != 2 {
		t.Errorf("info handler got %d records, want 2:\n%s", n, info.String())
	}
	if strings.Contains(warn.String(), "info message") || !strings.Contains(warn.String(), "warn message") {
		t.Errorf("warn handler output:\n%s", warn.String())
	}
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "covdiff.log")
	logger, f, err := NewFileLogger(path, slog.LevelDebug)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	logger.Debug("Opened database")
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "[debug] Opened database") {
		t.Errorf("log file = %q", data)
	}
}
