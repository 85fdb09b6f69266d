// Package report persists run summaries to sqlite so successive processing
// runs can be audited and compared.
package report

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle for run reporting.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the report database and ensures the baseline
// schema exists. Use MigrateUp for schema upgrades beyond the baseline.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id              TEXT PRIMARY KEY,
			started_at          BIGINT NOT NULL,
			finished_at         BIGINT NOT NULL,
			input_tiles         BIGINT,
			dates               BIGINT,
			periods             BIGINT,
			target_steps        BIGINT,
			series_fitted       BIGINT,
			series_insufficient BIGINT,
			outlier_samples     BIGINT,
			skipped_dates_json  TEXT,
			chunk_failures_json TEXT,
			config_json         TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}
