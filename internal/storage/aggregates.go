package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"covdiff/internal/coverage"
	"covdiff/internal/diff"
	cerrors "covdiff/internal/errors"
)

// AggregateStats describes the stored aggregates.
type AggregateStats struct {
	Entries   int `json:"entries"`
	SizeBytes int `json:"sizeBytes"`
}

// StoreAggregate replaces the stored aggregate of the bundle's build.
func (db *DB) StoreAggregate(ctx context.Context, b *coverage.Bundle) error {
	info, err := db.buildInfo(ctx, b.Build)
	if err != nil {
		return err
	}
	if info == nil {
		return cerrors.Newf(cerrors.BuildNotFound, "build %s has no snapshot", b.Build)
	}

	blob, err := db.codec.packBundle(b)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT OR REPLACE INTO aggregates (build_ordinal, executions, payload, updated_at)
		VALUES (?, ?, ?, ?)
	`, info.Ordinal, b.Executions, blob, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to store aggregate: %w", err)
	}

	db.logger.Debug("Stored aggregate",
		"build", b.Build.String(),
		"executions", b.Executions,
		"size_bytes", len(blob),
	)
	return nil
}

// LoadAggregate returns the stored aggregate of a build, or nil on a miss.
func (db *DB) LoadAggregate(ctx context.Context, key diff.BuildKey) (*coverage.Bundle, error) {
	var blob []byte
	err := db.QueryRow(ctx, `
		SELECT a.payload
		FROM aggregates a
		JOIN builds b ON b.ordinal = a.build_ordinal
		WHERE b.group_id = ? AND b.app_id = ? AND b.version = ?
	`, key.GroupID, key.AppID, key.Version).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("aggregate lookup failed: %w", err)
	}
	return db.codec.unpackBundle(key, blob)
}

// GetAggregateStats returns statistics about stored aggregates
func (db *DB) GetAggregateStats(ctx context.Context) (AggregateStats, error) {
	var stats AggregateStats
	err := db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0)
		FROM aggregates
	`).Scan(&stats.Entries, &stats.SizeBytes)
	if err != nil {
		return stats, fmt.Errorf("failed to get aggregate stats: %w", err)
	}
	return stats, nil
}
