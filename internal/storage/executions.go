package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
)

// SaveExecution records one execution against its build. The build must
// already have a snapshot. An empty ID is filled with a new UUID; saving an
// existing ID replaces it.
func (db *DB) SaveExecution(ctx context.Context, e *coverage.Execution) error {
	batch := []coverage.Execution{*e}
	if err := db.SaveIngestion(ctx, e.Build, nil, batch); err != nil {
		return err
	}
	*e = batch[0]
	return nil
}

// SaveIngestion stores an optional snapshot and a batch of executions of
// build in one transaction, and drops the build's stored aggregate. Either
// everything is saved or nothing is. Without a snapshot the build must
// already exist. Defaults (ID, source, creation time) are filled in place.
func (db *DB) SaveIngestion(ctx context.Context, build diff.BuildKey, snap *diff.Snapshot, execs []coverage.Execution) error {
	if snap != nil && snap.Build != build {
		return cerrors.Newf(cerrors.InvalidArgument, "snapshot of %s saved as %s", snap.Build, build)
	}
	blobs := make([][]byte, len(execs))
	for i := range execs {
		e := &execs[i]
		e.Build = build
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Source == "" {
			e.Source = coverage.SourceTest
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		blob, err := db.codec.packProbes(e.Classes)
		if err != nil {
			return fmt.Errorf("failed to encode probes of execution %s: %w", e.ID, err)
		}
		blobs[i] = blob
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		var ordinal int64
		var err error
		if snap != nil {
			ordinal, err = db.saveSnapshotTx(ctx, tx, snap)
		} else {
			ordinal, err = buildOrdinalTx(ctx, tx, build)
			if errors.Is(err, sql.ErrNoRows) {
				return cerrors.Newf(cerrors.BuildNotFound, "build %s has no snapshot", build)
			}
		}
		if err != nil || len(execs) == 0 {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO test_executions
				(id, build_ordinal, source, test_id, test_type, task_id, session_id, created_at, probes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare execution insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, e := range execs {
			if _, err := stmt.ExecContext(ctx, e.ID, ordinal, string(e.Source), e.Test.ID, e.Test.Type,
				e.TaskID, e.SessionID, formatTime(e.CreatedAt), blobs[i]); err != nil {
				return fmt.Errorf("failed to save execution %s: %w", e.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM aggregates WHERE build_ordinal = ?", ordinal); err != nil {
			return fmt.Errorf("failed to clear aggregate: %w", err)
		}
		return nil
	})
}

// LoadTestExecutions returns the executions of a build that pass f, oldest
// first. f may be nil.
func (db *DB) LoadTestExecutions(ctx context.Context, key diff.BuildKey, f *coverage.Filter) ([]coverage.Execution, error) {
	info, err := db.buildInfo(ctx, key)
	if err != nil || info == nil {
		return nil, err
	}

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, source, test_id, test_type, task_id, session_id, created_at, probes
		FROM test_executions
		WHERE build_ordinal = ?`)
	args := []any{info.Ordinal}
	if f != nil {
		if f.TaskID != "" {
			query.WriteString(" AND task_id = ?")
			args = append(args, f.TaskID)
		}
		if f.TestType != "" {
			query.WriteString(" AND test_type = ?")
			args = append(args, f.TestType)
		}
		if !f.Since.IsZero() {
			query.WriteString(" AND created_at >= ?")
			args = append(args, formatTime(f.Since))
		}
	}
	query.WriteString(" ORDER BY created_at, id")

	rows, err := db.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []coverage.Execution
	for rows.Next() {
		e := coverage.Execution{Build: key}
		var source, createdAt string
		var blob []byte
		if err := rows.Scan(&e.ID, &source, &e.Test.ID, &e.Test.Type, &e.TaskID, &e.SessionID, &createdAt, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Source = coverage.SourceKind(source)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if e.Classes, err = db.codec.unpackProbes(blob); err != nil {
			return nil, fmt.Errorf("execution %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// test id lists are applied in memory
	return f.Apply(out), nil
}
