package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-data/cubeflow/internal/config"
	"github.com/verdant-data/cubeflow/internal/raster"
	"github.com/verdant-data/cubeflow/internal/smooth"
)

func testGrid(rows, cols int) raster.Grid {
	return raster.Grid{
		CRS:      "EPSG:32633",
		OriginX:  0,
		OriginY:  float64(rows) * 30,
		CellSize: 30,
		Rows:     rows,
		Cols:     cols,
	}
}

// rawTile builds an unaligned tile on the grid lattice at (row0, col0) with
// a constant evi band and an all-clear QA band.
func rawTile(g raster.Grid, id string, date time.Time, row0, col0, rows, cols int, evi float64) *raster.Tile {
	n := rows * cols
	vals := make([]float64, n)
	qa := make([]float64, n)
	for i := range vals {
		vals[i] = evi
	}
	return &raster.Tile{
		SensorID: id,
		Sensor:   "landsat-c2l2",
		Date:     date,
		CRS:      g.CRS,
		OriginX:  g.OriginX + float64(col0)*g.CellSize,
		OriginY:  g.OriginY - float64(row0)*g.CellSize,
		CellSize: g.CellSize,
		Rows:     rows,
		Cols:     cols,
		Bands:    map[string][]float64{"evi": vals},
		QA:       qa,
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSplitGrid_ExactPartition(t *testing.T) {
	chunks := SplitGrid(10, 7, 4, 3)
	covered := make([][]bool, 10)
	for i := range covered {
		covered[i] = make([]bool, 7)
	}
	for _, ch := range chunks {
		for r := ch.Row0; r < ch.Row0+ch.Rows; r++ {
			for c := ch.Col0; c < ch.Col0+ch.Cols; c++ {
				require.False(t, covered[r][c], "cell (%d,%d) covered twice", r, c)
				covered[r][c] = true
			}
		}
	}
	for r := range covered {
		for c := range covered[r] {
			assert.True(t, covered[r][c], "cell (%d,%d) uncovered", r, c)
		}
	}
}

func TestRun_SeasonEndToEnd(t *testing.T) {
	g := testGrid(4, 4)
	dates := []time.Time{
		date(2020, time.January, 5), date(2020, time.January, 20),
		date(2020, time.February, 4), date(2020, time.February, 19),
		date(2020, time.March, 5), date(2020, time.March, 20),
	}
	evis := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	var tiles []*raster.Tile
	for i, d := range dates {
		tiles = append(tiles, rawTile(g, "full", d, 0, 0, 4, 4, evis[i]))
	}

	rn, err := NewRunner(config.EmptyPipelineConfig())
	require.NoError(t, err)
	product, summary, err := rn.Run(context.Background(), g, tiles)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Dates)
	assert.Empty(t, summary.SkippedDates)
	assert.Equal(t, 3, summary.Periods) // Jan, Feb, Mar
	assert.Empty(t, summary.ChunkFailures)
	assert.Zero(t, summary.SeriesInsufficient)

	// monthly max_index composites: 0.2, 0.4, 0.6
	bi := product.Composite.BandIdx("evi")
	require.GreaterOrEqual(t, bi, 0)
	assert.InDelta(t, 0.2, product.Composite.At(0, 1, 1, bi), 1e-12)
	assert.InDelta(t, 0.6, product.Composite.At(2, 1, 1, bi), 1e-12)

	// the analytic cube is dense and finite on the 10-day axis
	require.Equal(t, 7, summary.TargetSteps)
	for ti := 0; ti < 7; ti++ {
		v := product.Analytic.At(ti, 2, 2, 0)
		require.False(t, raster.IsNoData(v), "target step %d is NoData", ti)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	// rising season: the smoothed end sits well above the smoothed start
	assert.Greater(t, product.Analytic.At(6, 2, 2, 0), product.Analytic.At(0, 2, 2, 0)+0.2)
}

func TestRun_PreferValidOverlapPicksCleanTile(t *testing.T) {
	g := testGrid(2, 8)
	d := date(2020, time.January, 5)

	// tile a covers cols 0..3 but is cloud-flagged over the overlap;
	// tile b covers cols 2..5 clear. cols 6..7 stay uncovered.
	a := rawTile(g, "a", d, 0, 0, 2, 4, 0.3)
	for r := 0; r < 2; r++ {
		for c := 2; c < 4; c++ {
			a.QA[r*4+c] = 8 // cloud bit
		}
	}
	b := rawTile(g, "b", d, 0, 2, 2, 4, 0.7)

	cfg := &config.PipelineConfig{
		MosaicPolicy:    strPtr("prefer_valid"),
		Reducer:         strPtr("first_valid"),
		SmoothMethod:    strPtr("local_interp"),
		MinValidSamples: intPtr(1),
	}
	require.NoError(t, cfg.Validate())
	rn, err := NewRunner(cfg)
	require.NoError(t, err)

	// b listed first: only validity, not listing order, can win the overlap
	product, summary, err := rn.Run(context.Background(), g, []*raster.Tile{b, a})
	require.NoError(t, err)

	bi := product.Analytic.BandIdx("evi")
	// overlap cells carry b despite a being listed last
	assert.InDelta(t, 0.7, product.Analytic.At(0, 0, 2, bi), 1e-12)
	assert.InDelta(t, 0.7, product.Analytic.At(0, 1, 3, bi), 1e-12)
	// sole-coverage cells keep their only contributor
	assert.InDelta(t, 0.3, product.Analytic.At(0, 0, 0, bi), 1e-12)
	assert.InDelta(t, 0.7, product.Analytic.At(0, 0, 5, bi), 1e-12)

	// never-observed cells come out flagged, not fabricated
	assert.True(t, raster.IsNoData(product.Analytic.At(0, 0, 7, bi)))
	assert.Equal(t, smooth.FlagInsufficient, product.Flags[product.Analytic.Idx(0, 0, 7, bi)])
	assert.Greater(t, summary.SeriesInsufficient, int64(0))

	// observed cells are flagged as observed on the single-date axis
	assert.Equal(t, smooth.FlagObserved, product.Flags[product.Analytic.Idx(0, 0, 0, bi)])
}

func TestRun_BadDateSkippedRunContinues(t *testing.T) {
	g := testGrid(2, 2)
	good := rawTile(g, "good", date(2020, time.January, 5), 0, 0, 2, 2, 0.4)
	bad := rawTile(g, "bad", date(2020, time.January, 20), 0, 0, 2, 2, 0.5)
	bad.CRS = "EPSG:4326" // misprojected capture

	cfg := &config.PipelineConfig{
		Reducer:         strPtr("first_valid"),
		SmoothMethod:    strPtr("local_interp"),
		MinValidSamples: intPtr(1),
	}
	rn, err := NewRunner(cfg)
	require.NoError(t, err)

	product, summary, err := rn.Run(context.Background(), g, []*raster.Tile{good, bad})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Dates)
	require.Len(t, summary.SkippedDates, 1)
	assert.Equal(t, date(2020, time.January, 20), summary.SkippedDates[0].Date)
	assert.NotEmpty(t, summary.SkippedDates[0].Reason)

	bi := product.Analytic.BandIdx("evi")
	assert.InDelta(t, 0.4, product.Analytic.At(0, 0, 0, bi), 1e-12)
}

func TestRun_AllDatesSkippedFails(t *testing.T) {
	g := testGrid(2, 2)
	bad := rawTile(g, "bad", date(2020, time.January, 5), 0, 0, 2, 2, 0.5)
	bad.CellSize = 17 // not on the grid lattice

	rn, err := NewRunner(config.EmptyPipelineConfig())
	require.NoError(t, err)
	_, _, err = rn.Run(context.Background(), g, []*raster.Tile{bad})
	require.Error(t, err)
}

func TestRun_CanceledContext(t *testing.T) {
	g := testGrid(4, 4)
	var tiles []*raster.Tile
	for i := 0; i < 4; i++ {
		tiles = append(tiles, rawTile(g, "full", date(2020, time.January, 5+10*i), 0, 0, 4, 4, 0.5))
	}
	rn, err := NewRunner(config.EmptyPipelineConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = rn.Run(ctx, g, tiles)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRunner_UnknownSensor(t *testing.T) {
	cfg := &config.PipelineConfig{Sensor: strPtr("sensorx")}
	_, err := NewRunner(cfg)
	require.Error(t, err)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
