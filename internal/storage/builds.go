package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"covdiff/internal/diff"
)

// BuildInfo summarises one stored build.
type BuildInfo struct {
	Key        diff.BuildKey `json:"build"`
	Ordinal    int64         `json:"ordinal"`
	Branch     string        `json:"branch,omitempty"`
	CommitSHA  string        `json:"commitSha,omitempty"`
	SnapshotID string        `json:"snapshotId,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	Methods    int           `json:"methods"`
	Executions int           `json:"executions"`
}

// SaveSnapshot stores a build's method inventory, replacing any earlier
// inventory of the same build. The build's cached aggregate is dropped
// because probe ranges may have moved.
func (db *DB) SaveSnapshot(ctx context.Context, snap *diff.Snapshot) error {
	return db.SaveIngestion(ctx, snap.Build, snap, nil)
}

// saveSnapshotTx upserts the build row, replaces its methods and drops its
// aggregate. It returns the build ordinal.
func (db *DB) saveSnapshotTx(ctx context.Context, tx *sql.Tx, snap *diff.Snapshot) (int64, error) {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	snapshotID := diff.NewHasher().SnapshotID(snap.Methods)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO builds (group_id, app_id, version, branch, commit_sha, snapshot_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id, app_id, version) DO UPDATE SET
			branch = excluded.branch,
			commit_sha = excluded.commit_sha,
			snapshot_id = excluded.snapshot_id
	`,
		snap.Build.GroupID, snap.Build.AppID, snap.Build.Version,
		snap.Branch, snap.CommitSHA, snapshotID, formatTime(snap.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert build: %w", err)
	}

	ordinal, err := buildOrdinalTx(ctx, tx, snap.Build)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM methods WHERE build_ordinal = ?", ordinal); err != nil {
		return 0, fmt.Errorf("failed to clear methods: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM aggregates WHERE build_ordinal = ?", ordinal); err != nil {
		return 0, fmt.Errorf("failed to clear aggregate: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO methods (build_ordinal, owner, name, params, return_type, checksum, lambda_json, probe_start, probe_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare method insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range snap.Methods {
		lambdas := ""
		if len(m.LambdaHashes) > 0 {
			raw, err := json.Marshal(m.LambdaHashes)
			if err != nil {
				return 0, fmt.Errorf("failed to encode lambda hashes: %w", err)
			}
			lambdas = string(raw)
		}
		if _, err := stmt.ExecContext(ctx, ordinal, m.Owner, m.Name, m.Params, m.ReturnType,
			m.Checksum, lambdas, m.ProbeStart, m.ProbeCount); err != nil {
			return 0, fmt.Errorf("failed to insert method %s: %w", m.Signature, err)
		}
	}

	db.logger.Debug("Saved build snapshot",
		"build", snap.Build.String(),
		"methods", len(snap.Methods),
		"snapshot_id", snapshotID,
	)
	return ordinal, nil
}

// buildOrdinalTx returns sql.ErrNoRows when the build is unknown.
func buildOrdinalTx(ctx context.Context, tx *sql.Tx, key diff.BuildKey) (int64, error) {
	var ordinal int64
	err := tx.QueryRowContext(ctx, `
		SELECT ordinal FROM builds WHERE group_id = ? AND app_id = ? AND version = ?
	`, key.GroupID, key.AppID, key.Version).Scan(&ordinal)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to read build ordinal: %w", err)
	}
	return ordinal, err
}

// LoadSnapshot returns the stored build, or nil when it is unknown.
func (db *DB) LoadSnapshot(ctx context.Context, key diff.BuildKey) (*diff.Snapshot, error) {
	info, err := db.buildInfo(ctx, key)
	if err != nil || info == nil {
		return nil, err
	}
	methods, err := db.loadMethods(ctx, info.Ordinal)
	if err != nil {
		return nil, err
	}
	return &diff.Snapshot{
		Build:     key,
		Branch:    info.Branch,
		CommitSHA: info.CommitSHA,
		CreatedAt: info.CreatedAt,
		Methods:   methods,
	}, nil
}

// LoadMethods returns the methods of a build in signature order. An unknown
// build has no methods.
func (db *DB) LoadMethods(ctx context.Context, key diff.BuildKey) ([]diff.Method, error) {
	info, err := db.buildInfo(ctx, key)
	if err != nil || info == nil {
		return nil, err
	}
	return db.loadMethods(ctx, info.Ordinal)
}

func (db *DB) loadMethods(ctx context.Context, ordinal int64) ([]diff.Method, error) {
	rows, err := db.Query(ctx, `
		SELECT owner, name, params, return_type, checksum, lambda_json, probe_start, probe_count
		FROM methods
		WHERE build_ordinal = ?
		ORDER BY owner, name, params
	`, ordinal)
	if err != nil {
		return nil, fmt.Errorf("failed to query methods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	methods := []diff.Method{}
	for rows.Next() {
		var m diff.Method
		var lambdas string
		if err := rows.Scan(&m.Owner, &m.Name, &m.Params, &m.ReturnType, &m.Checksum,
			&lambdas, &m.ProbeStart, &m.ProbeCount); err != nil {
			return nil, fmt.Errorf("failed to scan method: %w", err)
		}
		if lambdas != "" {
			if err := json.Unmarshal([]byte(lambdas), &m.LambdaHashes); err != nil {
				return nil, fmt.Errorf("failed to decode lambda hashes: %w", err)
			}
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// buildInfo returns nil when the build is unknown.
func (db *DB) buildInfo(ctx context.Context, key diff.BuildKey) (*BuildInfo, error) {
	info := &BuildInfo{Key: key}
	var createdAt string
	err := db.QueryRow(ctx, `
		SELECT ordinal, branch, commit_sha, snapshot_id, created_at
		FROM builds
		WHERE group_id = ? AND app_id = ? AND version = ?
	`, key.GroupID, key.AppID, key.Version).Scan(&info.Ordinal, &info.Branch, &info.CommitSHA, &info.SnapshotID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up build %s: %w", key, err)
	}
	if info.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return info, nil
}

// ListBuilds returns every build of an application in version order. Empty
// groupID and appID list the builds of every application, grouped by
// application.
func (db *DB) ListBuilds(ctx context.Context, groupID, appID string) ([]BuildInfo, error) {
	rows, err := db.Query(ctx, `
		SELECT b.group_id, b.app_id, b.ordinal, b.version, b.branch, b.commit_sha, b.snapshot_id, b.created_at,
		       (SELECT COUNT(*) FROM methods m WHERE m.build_ordinal = b.ordinal),
		       (SELECT COUNT(*) FROM test_executions e WHERE e.build_ordinal = b.ordinal)
		FROM builds b
		WHERE (? = '' OR b.group_id = ?) AND (? = '' OR b.app_id = ?)
	`, groupID, groupID, appID, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var builds []BuildInfo
	for rows.Next() {
		var info BuildInfo
		var createdAt string
		if err := rows.Scan(&info.Key.GroupID, &info.Key.AppID, &info.Ordinal, &info.Key.Version,
			&info.Branch, &info.CommitSHA, &info.SnapshotID, &createdAt, &info.Methods, &info.Executions); err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		if info.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		builds = append(builds, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortBuilds(builds)
	sort.SliceStable(builds, func(i, j int) bool {
		if builds[i].Key.GroupID != builds[j].Key.GroupID {
			return builds[i].Key.GroupID < builds[j].Key.GroupID
		}
		return builds[i].Key.AppID < builds[j].Key.AppID
	})
	return builds, nil
}

// LoadPriorBuildVersions returns the versions ordered before the given one,
// oldest first. An empty before returns every version.
func (db *DB) LoadPriorBuildVersions(ctx context.Context, groupID, appID, before string) ([]string, error) {
	builds, err := db.ListBuilds(ctx, groupID, appID)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(builds))
	for _, b := range builds {
		if before != "" && b.Key.Version == before {
			return versions, nil
		}
		versions = append(versions, b.Key.Version)
	}
	if before != "" {
		// unknown cut-off: nothing is known to precede it
		return []string{}, nil
	}
	return versions, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
