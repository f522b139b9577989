package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 2

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		creators := []func(*sql.Tx) error{
			createSchemaVersionTable,
			createBuildsTable,
			createMethodsTable,
			createExecutionsTable,
			createAggregatesTable,
			createRiskLedgersTable,
		}
		for _, create := range creators {
			if err := create(tx); err != nil {
				return err
			}
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}

	db.logger.Info("Running database migrations",
		"from_version", version,
		"to_version", currentSchemaVersion,
	)

	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		// v2 added the risk ledger table
		if version < 2 {
			if err := createRiskLedgersTable(tx); err != nil {
				return err
			}
		}
		return setSchemaVersion(tx, currentSchemaVersion)
	})
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	ctx := context.Background()

	var tableName string
	err := db.QueryRow(ctx, `
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createBuildsTable creates the builds table. ordinal is the insertion
// sequence and breaks ties when versions are not semver.
func createBuildsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS builds (
			ordinal INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id TEXT NOT NULL,
			app_id TEXT NOT NULL,
			version TEXT NOT NULL,
			branch TEXT NOT NULL DEFAULT '',
			commit_sha TEXT NOT NULL DEFAULT '',
			snapshot_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(group_id, app_id, version)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create builds table: %w", err)
	}
	return createIndexes(tx,
		"CREATE INDEX IF NOT EXISTS idx_builds_app ON builds(group_id, app_id)",
		"CREATE INDEX IF NOT EXISTS idx_builds_created_at ON builds(created_at)",
	)
}

func createMethodsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS methods (
			build_ordinal INTEGER NOT NULL REFERENCES builds(ordinal) ON DELETE CASCADE,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			params TEXT NOT NULL,
			return_type TEXT NOT NULL,
			checksum TEXT NOT NULL,
			lambda_json TEXT NOT NULL DEFAULT '',
			probe_start INTEGER NOT NULL,
			probe_count INTEGER NOT NULL,
			PRIMARY KEY (build_ordinal, owner, name, params)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create methods table: %w", err)
	}
	return nil
}

// createExecutionsTable creates the test_executions table. probes holds the
// zstd-compressed class vectors of one execution.
func createExecutionsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS test_executions (
			id TEXT PRIMARY KEY,
			build_ordinal INTEGER NOT NULL REFERENCES builds(ordinal) ON DELETE CASCADE,
			source TEXT NOT NULL,
			test_id TEXT NOT NULL DEFAULT '',
			test_type TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			probes BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create test_executions table: %w", err)
	}
	return createIndexes(tx,
		"CREATE INDEX IF NOT EXISTS idx_executions_build ON test_executions(build_ordinal)",
		"CREATE INDEX IF NOT EXISTS idx_executions_task ON test_executions(task_id)",
	)
}

func createAggregatesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS aggregates (
			build_ordinal INTEGER PRIMARY KEY REFERENCES builds(ordinal) ON DELETE CASCADE,
			executions INTEGER NOT NULL,
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create aggregates table: %w", err)
	}
	return nil
}

func createRiskLedgersTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS risk_ledgers (
			group_id TEXT NOT NULL,
			app_id TEXT NOT NULL,
			baseline TEXT NOT NULL,
			payload BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (group_id, app_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create risk_ledgers table: %w", err)
	}
	return nil
}

func createIndexes(tx *sql.Tx, statements ...string) error {
	for _, indexSQL := range statements {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
