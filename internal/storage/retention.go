package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeleteBefore removes builds created before cutoff together with their
// methods, executions and aggregates. The newest keepLatest builds of each
// application survive regardless of age. It returns the number of builds
// removed.
func (db *DB) DeleteBefore(ctx context.Context, cutoff time.Time, keepLatest int) (int64, error) {
	rows, err := db.Query(ctx, `
		SELECT ordinal, group_id, app_id, created_at
		FROM builds
		ORDER BY ordinal DESC
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list builds: %w", err)
	}

	seen := make(map[string]int)
	var doomed []int64
	for rows.Next() {
		var ordinal int64
		var groupID, appID, createdAt string
		if err := rows.Scan(&ordinal, &groupID, &appID, &createdAt); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan build: %w", err)
		}
		app := groupID + ":" + appID
		seen[app]++
		if seen[app] <= keepLatest {
			continue
		}
		created, err := parseTime(createdAt)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		if created.Before(cutoff) {
			doomed = append(doomed, ordinal)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	if len(doomed) == 0 {
		return 0, nil
	}

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, ordinal := range doomed {
			if _, err := tx.ExecContext(ctx, "DELETE FROM builds WHERE ordinal = ?", ordinal); err != nil {
				return fmt.Errorf("failed to delete build %d: %w", ordinal, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	db.logger.Info("Deleted expired builds",
		"builds", len(doomed),
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return int64(len(doomed)), nil
}
