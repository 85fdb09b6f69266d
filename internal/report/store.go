package report

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verdant-data/cubeflow/internal/pipeline"
)

// RunRecord is one persisted processing run.
type RunRecord struct {
	RunID              string                  `json:"run_id"`
	StartedAt          int64                   `json:"started_at"` // unix nanos
	FinishedAt         int64                   `json:"finished_at"`
	InputTiles         int                     `json:"input_tiles"`
	Dates              int                     `json:"dates"`
	Periods            int                     `json:"periods"`
	TargetSteps        int                     `json:"target_steps"`
	SeriesFitted       int64                   `json:"series_fitted"`
	SeriesInsufficient int64                   `json:"series_insufficient"`
	OutlierSamples     int64                   `json:"outlier_samples"`
	SkippedDates       []pipeline.SkippedDate  `json:"skipped_dates,omitempty"`
	ChunkFailures      []pipeline.ChunkFailure `json:"chunk_failures,omitempty"`
	ConfigJSON         json.RawMessage         `json:"config_json,omitempty"`
}

// NewRunRecord builds a record from a run summary. ConfigJSON may be nil.
func NewRunRecord(summary *pipeline.RunSummary, configJSON []byte) *RunRecord {
	return &RunRecord{
		RunID:              uuid.New().String(),
		StartedAt:          summary.Started.UnixNano(),
		FinishedAt:         summary.Finished.UnixNano(),
		InputTiles:         summary.InputTiles,
		Dates:              summary.Dates,
		Periods:            summary.Periods,
		TargetSteps:        summary.TargetSteps,
		SeriesFitted:       summary.SeriesFitted,
		SeriesInsufficient: summary.SeriesInsufficient,
		OutlierSamples:     summary.OutlierSamples,
		SkippedDates:       summary.SkippedDates,
		ChunkFailures:      summary.ChunkFailures,
		ConfigJSON:         configJSON,
	}
}

// RunStore provides persistence for run records.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore over an open report database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// Insert persists a run record. If RunID is empty, a UUID is generated.
func (s *RunStore) Insert(rec *RunRecord) error {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.StartedAt == 0 {
		rec.StartedAt = time.Now().UnixNano()
	}

	skipped, err := json.Marshal(rec.SkippedDates)
	if err != nil {
		return fmt.Errorf("marshal skipped dates: %w", err)
	}
	failures, err := json.Marshal(rec.ChunkFailures)
	if err != nil {
		return fmt.Errorf("marshal chunk failures: %w", err)
	}

	var configStr interface{}
	if len(rec.ConfigJSON) > 0 {
		configStr = string(rec.ConfigJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO runs (
				run_id, started_at, finished_at, input_tiles, dates, periods,
				target_steps, series_fitted, series_insufficient, outlier_samples,
				skipped_dates_json, chunk_failures_json, config_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.StartedAt, rec.FinishedAt, rec.InputTiles, rec.Dates, rec.Periods,
			rec.TargetSteps, rec.SeriesFitted, rec.SeriesInsufficient, rec.OutlierSamples,
			string(skipped), string(failures), configStr,
		)
		return err
	})
}

// Get returns a single run record by ID.
func (s *RunStore) Get(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT run_id, started_at, finished_at, input_tiles, dates, periods,
		       target_steps, series_fitted, series_insufficient, outlier_samples,
		       skipped_dates_json, chunk_failures_json, config_json
		FROM runs
		WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return rec, err
}

// ListRecent returns the most recent runs, newest first.
func (s *RunStore) ListRecent(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, started_at, finished_at, input_tiles, dates, periods,
		       target_steps, series_fitted, series_insufficient, outlier_samples,
		       skipped_dates_json, chunk_failures_json, config_json
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	rec := &RunRecord{}
	var skipped, failures, configStr sql.NullString
	err := row.Scan(
		&rec.RunID, &rec.StartedAt, &rec.FinishedAt, &rec.InputTiles, &rec.Dates, &rec.Periods,
		&rec.TargetSteps, &rec.SeriesFitted, &rec.SeriesInsufficient, &rec.OutlierSamples,
		&skipped, &failures, &configStr,
	)
	if err != nil {
		return nil, err
	}
	if skipped.Valid && skipped.String != "" && skipped.String != "null" {
		if err := json.Unmarshal([]byte(skipped.String), &rec.SkippedDates); err != nil {
			return nil, fmt.Errorf("unmarshal skipped dates: %w", err)
		}
	}
	if failures.Valid && failures.String != "" && failures.String != "null" {
		if err := json.Unmarshal([]byte(failures.String), &rec.ChunkFailures); err != nil {
			return nil, fmt.Errorf("unmarshal chunk failures: %w", err)
		}
	}
	if configStr.Valid && configStr.String != "" {
		rec.ConfigJSON = json.RawMessage(configStr.String)
	}
	return rec, nil
}
