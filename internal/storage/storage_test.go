package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
	"covdiff/internal/impact"
	"covdiff/internal/probes"
)

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	tmpDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(tmpDir, logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})
	return db, tmpDir
}

func key(version string) diff.BuildKey {
	return diff.BuildKey{GroupID: "g", AppID: "app", Version: version}
}

func snapshot(version string, created time.Time) *diff.Snapshot {
	return &diff.Snapshot{
		Build:     key(version),
		Branch:    "main",
		CommitSHA: "abc",
		CreatedAt: created,
		Methods: []diff.Method{
			{Signature: diff.Signature{Owner: "a/A", Name: "run", ReturnType: "V"}, Checksum: "1", ProbeStart: 0, ProbeCount: 2},
			{
				Signature:    diff.Signature{Owner: "a/A", Name: "call", Params: "I", ReturnType: "I"},
				Checksum:     "2",
				LambdaHashes: map[string]string{"lambda$0": "x"},
				ProbeStart:   2,
				ProbeCount:   3,
			},
		},
	}
}

func mustBits(t *testing.T, s string) probes.Bits {
	t.Helper()
	b, err := probes.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", s, err)
	}
	return b
}

func TestDatabaseInitialization(t *testing.T) {
	db, tmpDir := setupTestDB(t)

	dbPath := filepath.Join(tmpDir, DirName, FileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatalf("Database file was not created at %s", dbPath)
	}

	version, err := db.getSchemaVersion()
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
}

func TestDatabaseReopen(t *testing.T) {
	tmpDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(tmpDir, logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.SaveSnapshot(context.Background(), snapshot("1.0.0", time.Now())); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	_ = db.Close()

	db, err = Open(tmpDir, logger)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	methods, err := db.LoadMethods(context.Background(), key("1.0.0"))
	if err != nil {
		t.Fatalf("LoadMethods failed: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("Expected 2 methods after reopen, got %d", len(methods))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := db.SaveSnapshot(ctx, snapshot("1.0.0", created)); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	snap, err := db.LoadSnapshot(ctx, key("1.0.0"))
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Expected snapshot, got nil")
	}
	if snap.Branch != "main" || !snap.CreatedAt.Equal(created) {
		t.Errorf("Unexpected build metadata: %+v", snap)
	}
	if len(snap.Methods) != 2 {
		t.Fatalf("Expected 2 methods, got %d", len(snap.Methods))
	}
	// signature order
	if snap.Methods[0].Name != "call" {
		t.Errorf("Expected call first, got %s", snap.Methods[0].Name)
	}
	if snap.Methods[0].LambdaHashes["lambda$0"] != "x" {
		t.Errorf("Expected lambda hash to survive, got %v", snap.Methods[0].LambdaHashes)
	}

	missing, err := db.LoadSnapshot(ctx, key("9.9.9"))
	if err != nil {
		t.Fatalf("LoadSnapshot of unknown build failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown build, got %+v", missing)
	}
}

func TestExecutions(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.SaveSnapshot(ctx, snapshot("1.0.0", time.Now())); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	execs := []*coverage.Execution{
		{Test: coverage.TestKey{ID: "t1", Type: "UNIT"}, TaskID: "task-a", Build: key("1.0.0"),
			Classes: coverage.ClassProbes{"a/A": mustBits(t, "11000")}},
		{Test: coverage.TestKey{ID: "t2", Type: "E2E"}, TaskID: "task-b", Build: key("1.0.0"),
			Classes: coverage.ClassProbes{"a/A": mustBits(t, "00111"), "a/B": mustBits(t, "1")}},
	}
	for _, e := range execs {
		if err := db.SaveExecution(ctx, e); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
		if e.ID == "" {
			t.Error("Expected an ID to be assigned")
		}
	}

	all, err := db.LoadTestExecutions(ctx, key("1.0.0"), nil)
	if err != nil {
		t.Fatalf("LoadTestExecutions failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 executions, got %d", len(all))
	}

	tests := []struct {
		name   string
		filter *coverage.Filter
		want   int
	}{
		{"by task", &coverage.Filter{TaskID: "task-b"}, 1},
		{"by type", &coverage.Filter{TestType: "UNIT"}, 1},
		{"by test ids", &coverage.Filter{TestIDs: []string{"t1", "t2"}}, 2},
		{"since future", &coverage.Filter{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.LoadTestExecutions(ctx, key("1.0.0"), tt.filter)
			if err != nil {
				t.Fatalf("LoadTestExecutions failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Expected %d executions, got %d", tt.want, len(got))
			}
		})
	}

	got, _ := db.LoadTestExecutions(ctx, key("1.0.0"), &coverage.Filter{TaskID: "task-b"})
	if got[0].Classes["a/A"].String() != "00111" || got[0].Classes["a/B"].String() != "1" {
		t.Errorf("Probes did not survive storage: %v", got[0].Classes)
	}
	if got[0].Source != coverage.SourceTest {
		t.Errorf("Expected default source TEST, got %s", got[0].Source)
	}

	err = db.SaveExecution(ctx, &coverage.Execution{Build: key("2.0.0")})
	if !cerrors.IsCode(err, cerrors.BuildNotFound) {
		t.Errorf("Expected BUILD_NOT_FOUND, got %v", err)
	}
}

func TestSaveIngestion(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	execs := []coverage.Execution{
		{Test: coverage.TestKey{ID: "t1", Type: "UNIT"}, Classes: coverage.ClassProbes{"a/A": mustBits(t, "1")}},
		{Source: coverage.SourceAgent, Classes: coverage.ClassProbes{"a/A": mustBits(t, "01")}},
	}
	if err := db.SaveIngestion(ctx, key("1.0.0"), snapshot("1.0.0", time.Now()), execs); err != nil {
		t.Fatalf("SaveIngestion failed: %v", err)
	}
	for _, e := range execs {
		if e.ID == "" || e.CreatedAt.IsZero() || e.Build != key("1.0.0") {
			t.Errorf("Expected defaults filled in place, got %+v", e)
		}
	}
	got, err := db.LoadTestExecutions(ctx, key("1.0.0"), nil)
	if err != nil || len(got) != 2 {
		t.Fatalf("Expected 2 executions, got %d, %v", len(got), err)
	}

	bundle := coverage.NewBundle(key("1.0.0"))
	if err := db.StoreAggregate(ctx, bundle); err != nil {
		t.Fatalf("StoreAggregate failed: %v", err)
	}
	more := []coverage.Execution{{Test: coverage.TestKey{ID: "t2", Type: "UNIT"}}}
	if err := db.SaveIngestion(ctx, key("1.0.0"), nil, more); err != nil {
		t.Fatalf("SaveIngestion failed: %v", err)
	}
	if agg, err := db.LoadAggregate(ctx, key("1.0.0")); err != nil || agg != nil {
		t.Errorf("Expected the stored aggregate to be dropped, got %v, %v", agg, err)
	}

	err = db.SaveIngestion(ctx, key("2.0.0"), nil, more)
	if !cerrors.IsCode(err, cerrors.BuildNotFound) {
		t.Errorf("Expected BUILD_NOT_FOUND, got %v", err)
	}
	err = db.SaveIngestion(ctx, key("2.0.0"), snapshot("1.0.0", time.Now()), nil)
	if !cerrors.IsCode(err, cerrors.InvalidArgument) {
		t.Errorf("Expected INVALID_ARGUMENT for a mismatched snapshot, got %v", err)
	}
	if builds, _ := db.ListBuilds(ctx, "g", "app"); len(builds) != 1 {
		t.Errorf("Expected only 1.0.0 stored, got %+v", builds)
	}
}

func TestAggregates(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	if err := db.SaveSnapshot(ctx, snapshot("1.0.0", time.Now())); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	miss, err := db.LoadAggregate(ctx, key("1.0.0"))
	if err != nil || miss != nil {
		t.Fatalf("Expected nil, nil on miss, got %v, %v", miss, err)
	}

	bundle := coverage.NewBundle(key("1.0.0"))
	for _, e := range []coverage.Execution{
		{Source: coverage.SourceTest, Test: coverage.TestKey{ID: "t1", Type: "UNIT"}, Classes: coverage.ClassProbes{"a/A": mustBits(t, "11000")}},
		{Source: coverage.SourceTest, Test: coverage.TestKey{ID: "t2", Type: "E2E"}, Classes: coverage.ClassProbes{"a/A": mustBits(t, "10111")}},
	} {
		if err := bundle.Add(e); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if err := db.StoreAggregate(ctx, bundle); err != nil {
		t.Fatalf("StoreAggregate failed: %v", err)
	}
	loaded, err := db.LoadAggregate(ctx, key("1.0.0"))
	if err != nil {
		t.Fatalf("LoadAggregate failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected stored aggregate")
	}
	if !loaded.Total["a/A"].Equal(bundle.Total["a/A"]) {
		t.Errorf("Expected total %s, got %s", bundle.Total["a/A"], loaded.Total["a/A"])
	}
	if got := loaded.PerTest[coverage.TestKey{ID: "t2", Type: "E2E"}]["a/A"].String(); got != "10111" {
		t.Errorf("Expected per-test 10111, got %s", got)
	}
	if got := loaded.Overlap["a/A"].String(); got != "10000" {
		t.Errorf("Expected overlap 10000, got %s", got)
	}
	if loaded.Executions != 2 {
		t.Errorf("Expected 2 executions, got %d", loaded.Executions)
	}

	stats, err := db.GetAggregateStats(ctx)
	if err != nil || stats.Entries != 1 || stats.SizeBytes == 0 {
		t.Errorf("Unexpected stats %+v, %v", stats, err)
	}

	// a new snapshot of the same build drops the aggregate
	if err := db.SaveSnapshot(ctx, snapshot("1.0.0", time.Now())); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if again, _ := db.LoadAggregate(ctx, key("1.0.0")); again != nil {
		t.Error("Expected aggregate to be dropped after re-ingesting the snapshot")
	}
}

func TestPriorBuildVersions(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	for _, v := range []string{"1.10.0", "1.2.0", "1.9.0"} {
		if err := db.SaveSnapshot(ctx, snapshot(v, time.Now())); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	prior, err := db.LoadPriorBuildVersions(ctx, "g", "app", "1.10.0")
	if err != nil {
		t.Fatalf("LoadPriorBuildVersions failed: %v", err)
	}
	want := []string{"1.2.0", "1.9.0"}
	if len(prior) != len(want) || prior[0] != want[0] || prior[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, prior)
	}

	// a non-semver version falls back to insertion order
	if err := db.SaveSnapshot(ctx, snapshot("nightly", time.Now())); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	all, _ := db.LoadPriorBuildVersions(ctx, "g", "app", "")
	wantAll := []string{"1.10.0", "1.2.0", "1.9.0", "nightly"}
	for i := range wantAll {
		if all[i] != wantAll[i] {
			t.Fatalf("Expected %v, got %v", wantAll, all)
		}
	}

	builds, err := db.ListBuilds(ctx, "g", "app")
	if err != nil {
		t.Fatalf("ListBuilds failed: %v", err)
	}
	if builds[0].Methods != 2 {
		t.Errorf("Expected 2 methods on first build, got %d", builds[0].Methods)
	}
}

func TestRiskLedger(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()

	ledger, err := db.LoadRiskLedger(ctx, "g", "app")
	if err != nil || ledger != nil {
		t.Fatalf("Expected nil, nil for a missing ledger, got %v, %v", ledger, err)
	}

	stored := impact.NewRiskLedger("1.0.0")
	stored.Builds = []string{"1.1.0"}
	stored.Entries["a/A.run():V"] = &impact.LedgerEntry{
		Method: diff.Method{Signature: diff.Signature{Owner: "a/A", Name: "run", ReturnType: "V"}, Checksum: "1", ProbeCount: 2},
		Type:   diff.ChangeModified,
		Builds: map[string]impact.BuildCoverage{"1.1.0": {Checksum: "1", Count: probes.Count{Covered: 1, Total: 2}}},
	}
	if err := db.StoreRiskLedger(ctx, "g", "app", stored); err != nil {
		t.Fatalf("StoreRiskLedger failed: %v", err)
	}

	loaded, err := db.LoadRiskLedger(ctx, "g", "app")
	if err != nil {
		t.Fatalf("LoadRiskLedger failed: %v", err)
	}
	if loaded.Baseline != "1.0.0" {
		t.Errorf("Expected baseline 1.0.0, got %s", loaded.Baseline)
	}
	entry := loaded.Entries["a/A.run():V"]
	if entry == nil || entry.Builds["1.1.0"].Count.Covered != 1 {
		t.Errorf("Ledger entry did not survive storage: %+v", entry)
	}
}

func TestDeleteBefore(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	for _, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		if err := db.SaveSnapshot(ctx, snapshot(v, old)); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}
	if err := db.SaveExecution(ctx, &coverage.Execution{Build: key("1.0.0"), Test: coverage.TestKey{ID: "t"},
		Classes: coverage.ClassProbes{"a/A": mustBits(t, "1")}}); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}

	removed, err := db.DeleteBefore(ctx, time.Now().Add(-24*time.Hour), 1)
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 builds removed, got %d", removed)
	}

	builds, _ := db.ListBuilds(ctx, "g", "app")
	if len(builds) != 1 || builds[0].Key.Version != "1.2.0" {
		t.Errorf("Expected only 1.2.0 to survive, got %+v", builds)
	}

	var orphans int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM test_executions").Scan(&orphans); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if orphans != 0 {
		t.Errorf("Expected executions to cascade, got %d", orphans)
	}
}

func TestClassProbesEncoding(t *testing.T) {
	cp := coverage.ClassProbes{"a/A": mustBits(t, "1010"), "b/B": mustBits(t, "")}
	raw, err := encodeClassProbes(cp)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	back, err := decodeClassProbes(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(back) != 2 || back["a/A"].String() != "1010" || back["b/B"].Width() != 0 {
		t.Errorf("Unexpected round trip: %v", back)
	}

	if _, err := decodeClassProbes(raw[:len(raw)-1]); err == nil {
		t.Error("Expected error for truncated blob")
	}
}
