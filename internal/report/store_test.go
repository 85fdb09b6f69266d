package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-data/cubeflow/internal/pipeline"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleSummary() *pipeline.RunSummary {
	started := time.Date(2020, 4, 1, 12, 0, 0, 0, time.UTC)
	return &pipeline.RunSummary{
		Started:            started,
		Finished:           started.Add(90 * time.Second),
		InputTiles:         14,
		Dates:              6,
		Periods:            3,
		TargetSteps:        7,
		SeriesFitted:       4800,
		SeriesInsufficient: 12,
		OutlierSamples:     37,
		SkippedDates: []pipeline.SkippedDate{
			{Date: started.AddDate(0, 0, -10), Reason: "capture dates disagree"},
		},
	}
}

func TestRunStore_InsertAndGet(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	rec := NewRunRecord(sampleSummary(), []byte(`{"lambda": 25}`))
	require.NoError(t, store.Insert(rec))
	require.NotEmpty(t, rec.RunID)

	got, err := store.Get(rec.RunID)
	require.NoError(t, err)

	assert.Equal(t, rec.RunID, got.RunID)
	assert.Equal(t, rec.StartedAt, got.StartedAt)
	assert.Equal(t, 6, got.Dates)
	assert.Equal(t, int64(4800), got.SeriesFitted)
	assert.Equal(t, int64(12), got.SeriesInsufficient)
	require.Len(t, got.SkippedDates, 1)
	assert.Equal(t, "capture dates disagree", got.SkippedDates[0].Reason)
	assert.JSONEq(t, `{"lambda": 25}`, string(got.ConfigJSON))
}

func TestRunStore_GetMissing(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	_, err := store.Get("no-such-run")
	require.Error(t, err)
}

func TestRunStore_ListRecentNewestFirst(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	for i := 0; i < 3; i++ {
		s := sampleSummary()
		s.Started = s.Started.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Insert(NewRunRecord(s, nil)))
	}

	recs, err := store.ListRecent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Greater(t, recs[0].StartedAt, recs[1].StartedAt)
	assert.Nil(t, recs[0].ConfigJSON)
}

func TestRunStore_EmptyFailureListsRoundTrip(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	s := sampleSummary()
	s.SkippedDates = nil
	rec := NewRunRecord(s, nil)
	rec.ChunkFailures = []pipeline.ChunkFailure{
		{Chunk: pipeline.Chunk{Row0: 0, Col0: 256, Rows: 256, Cols: 256}, Err: "penalized system not positive definite"},
	}
	require.NoError(t, store.Insert(rec))

	got, err := store.Get(rec.RunID)
	require.NoError(t, err)
	assert.Empty(t, got.SkippedDates)
	require.Len(t, got.ChunkFailures, 1)
	assert.Equal(t, 256, got.ChunkFailures[0].Chunk.Col0)
}
