// Package pipeline orchestrates the full processing chain: per-date
// mosaicking, quality masking, temporal compositing, and per-pixel gap
// filling into the final analytic cube.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verdant-data/cubeflow/internal/composite"
	"github.com/verdant-data/cubeflow/internal/config"
	"github.com/verdant-data/cubeflow/internal/monitoring"
	"github.com/verdant-data/cubeflow/internal/mosaic"
	"github.com/verdant-data/cubeflow/internal/qamask"
	"github.com/verdant-data/cubeflow/internal/raster"
	"github.com/verdant-data/cubeflow/internal/smooth"
)

// Runner drives one end-to-end processing run from raw tiles to the
// smoothed analytic cube.
type Runner struct {
	cfg   *config.PipelineConfig
	rules *qamask.Ruleset
}

// NewRunner resolves the quality ruleset for the configured sensor. An
// explicit ruleset_path overrides the built-in table.
func NewRunner(cfg *config.PipelineConfig) (*Runner, error) {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	var rs *qamask.Ruleset
	if path := cfg.GetRulesetPath(); path != "" {
		loaded, err := qamask.LoadRuleset(path)
		if err != nil {
			return nil, fmt.Errorf("load ruleset: %w", err)
		}
		rs = loaded
	} else {
		rs = qamask.DefaultRulesets()[cfg.GetSensor()]
		if rs == nil {
			return nil, fmt.Errorf("no built-in ruleset for sensor %q", cfg.GetSensor())
		}
	}
	return &Runner{cfg: cfg, rules: rs}, nil
}

// SkippedDate records a capture date dropped from the run with the reason.
type SkippedDate struct {
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// ChunkFailure records a spatial chunk whose fit was abandoned. The rest of
// the grid is unaffected.
type ChunkFailure struct {
	Chunk Chunk  `json:"chunk"`
	Err   string `json:"error"`
}

// RunSummary is the accounting record of one run.
type RunSummary struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	InputTiles   int           `json:"input_tiles"`
	Dates        int           `json:"dates"`
	SkippedDates []SkippedDate `json:"skipped_dates,omitempty"`
	Periods      int           `json:"periods"`
	TargetSteps  int           `json:"target_steps"`

	SeriesFitted       int64          `json:"series_fitted"`
	SeriesInsufficient int64          `json:"series_insufficient"`
	OutlierSamples     int64          `json:"outlier_samples"`
	ChunkFailures      []ChunkFailure `json:"chunk_failures,omitempty"`
}

// Product bundles the run outputs. Flags is indexed exactly like
// Analytic.Values.
type Product struct {
	Analytic      *raster.Cube
	Flags         []smooth.Flag
	Composite     *raster.Cube
	CompositeMask *raster.ValidityMask
}

// Run executes the full chain on the given tiles against the target grid.
// Dates that cannot be mosaicked are skipped and recorded, never fatal;
// per-pixel data shortfalls are flagged in the output rather than failing
// the run.
func (rn *Runner) Run(ctx context.Context, grid raster.Grid, tiles []*raster.Tile) (*Product, *RunSummary, error) {
	summary := &RunSummary{Started: time.Now().UTC(), InputTiles: len(tiles)}
	if err := grid.Validate(); err != nil {
		return nil, nil, err
	}
	if len(tiles) == 0 {
		return nil, nil, fmt.Errorf("no input tiles")
	}

	mosaics := rn.mosaicByDate(tiles, grid, summary)
	if len(mosaics) == 0 {
		return nil, nil, fmt.Errorf("no usable capture dates: all %d dates skipped", len(summary.SkippedDates))
	}
	summary.Dates = len(mosaics)

	obs, err := assembleCube(grid, mosaics)
	if err != nil {
		return nil, nil, err
	}
	mask, err := qamask.MaskCube(obs, mosaics, rn.rules)
	if err != nil {
		return nil, nil, err
	}

	periods, err := rn.buildPeriods(obs.Dates)
	if err != nil {
		return nil, nil, err
	}
	comp, compMask, err := composite.Composite(obs, mask, periods, composite.Options{
		Reducer:   composite.Reducer(rn.cfg.GetReducer()),
		IndexBand: rn.cfg.GetIndexBand(),
	})
	if err != nil {
		return nil, nil, err
	}
	summary.Periods = len(periods)
	monitoring.Logf("pipeline: %d dates composited into %d periods", summary.Dates, summary.Periods)

	product, err := rn.smoothCube(ctx, comp, compMask, summary)
	if err != nil {
		return nil, nil, err
	}
	product.Composite = comp
	product.CompositeMask = compMask

	summary.Finished = time.Now().UTC()
	return product, summary, nil
}

// mosaicByDate groups tiles by capture date and mosaics each group. A date
// whose tiles cannot be aligned or merged is skipped with a recorded reason.
func (rn *Runner) mosaicByDate(tiles []*raster.Tile, grid raster.Grid, summary *RunSummary) []*raster.Tile {
	byDate := make(map[time.Time][]*raster.Tile)
	var dates []time.Time
	for _, t := range tiles {
		d := t.Date.UTC().Truncate(24 * time.Hour)
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
		byDate[d] = append(byDate[d], t)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	opts := mosaic.Options{Policy: mosaic.Policy(rn.cfg.GetMosaicPolicy()), Rules: rn.rules}
	var out []*raster.Tile
	for _, d := range dates {
		group := byDate[d]
		aligned := make([]*raster.Tile, 0, len(group))
		var alignErr error
		for _, t := range group {
			a, err := raster.AlignToGrid(t, grid)
			if err != nil {
				alignErr = err
				break
			}
			a.Date = d
			aligned = append(aligned, a)
		}
		if alignErr != nil {
			summary.SkippedDates = append(summary.SkippedDates, SkippedDate{Date: d, Reason: alignErr.Error()})
			monitoring.Logf("pipeline: skipping %s: %v", d.Format("2006-01-02"), alignErr)
			continue
		}
		m, err := mosaic.Mosaic(aligned, grid, opts)
		if err != nil {
			summary.SkippedDates = append(summary.SkippedDates, SkippedDate{Date: d, Reason: err.Error()})
			monitoring.Logf("pipeline: skipping %s: %v", d.Format("2006-01-02"), err)
			continue
		}
		out = append(out, m)
	}
	return out
}

// assembleCube stacks per-date mosaics into one observation cube on the
// full grid. Cells outside a mosaic's extent stay NoData.
func assembleCube(grid raster.Grid, mosaics []*raster.Tile) (*raster.Cube, error) {
	dates := make([]time.Time, len(mosaics))
	bandSet := make(map[string]bool)
	for i, m := range mosaics {
		dates[i] = m.Date
		for name := range m.Bands {
			bandSet[name] = true
		}
	}
	bands := make([]string, 0, len(bandSet))
	for name := range bandSet {
		bands = append(bands, name)
	}
	sort.Strings(bands)

	cube, err := raster.NewCube(grid, dates, bands)
	if err != nil {
		return nil, err
	}
	for di, m := range mosaics {
		for bi, name := range bands {
			vals, ok := m.Bands[name]
			if !ok {
				continue
			}
			for r := 0; r < m.Rows; r++ {
				for c := 0; c < m.Cols; c++ {
					cube.Set(di, m.Row0+r, m.Col0+c, bi, vals[m.Idx(r, c)])
				}
			}
		}
	}
	return cube, nil
}

// buildPeriods derives the composite buckets from the configured interval.
func (rn *Runner) buildPeriods(dates []time.Time) ([]composite.Period, error) {
	if step := rn.cfg.GetPeriodInterval(); step > 0 {
		return composite.IntervalPeriods(dates[0], dates[len(dates)-1], step)
	}
	return composite.MonthlyPeriods(dates), nil
}

// smoothCube fits every pixel/band series of the composite onto a regular
// target axis, chunked spatially across a worker pool.
func (rn *Runner) smoothCube(ctx context.Context, comp *raster.Cube, compMask *raster.ValidityMask, summary *RunSummary) (*Product, error) {
	stepDays := rn.cfg.GetTargetStepDays()
	targetDates, err := raster.RegularAxis(comp.Dates[0], comp.Dates[len(comp.Dates)-1],
		time.Duration(stepDays)*24*time.Hour)
	if err != nil {
		return nil, err
	}
	summary.TargetSteps = len(targetDates)

	out, err := raster.NewCube(comp.Grid, targetDates, comp.Bands)
	if err != nil {
		return nil, err
	}
	flags := make([]smooth.Flag, len(out.Values))
	for i := range flags {
		flags[i] = smooth.FlagInsufficient
	}

	obsDays := raster.AxisDays(comp.Dates)
	targetDays := axisDaysFrom(comp.Dates[0], targetDates)

	opts := smooth.Options{
		Method:          smooth.Method(rn.cfg.GetSmoothMethod()),
		Spline:          rn.cfg.GetSpline(),
		MinValidSamples: rn.cfg.GetMinValidSamples(),
		ClipMin:         rn.cfg.GetClipMin(),
		ClipMax:         rn.cfg.GetClipMax(),
		Lambda:          rn.cfg.GetLambda(),
		OutlierK:        rn.cfg.GetOutlierK(),
		MaxIterations:   rn.cfg.GetMaxIterations(),
	}
	covBand := comp.BandIdx(rn.cfg.GetCovariateBand())

	chunks := SplitGrid(comp.Grid.Rows, comp.Grid.Cols, rn.cfg.GetChunkRows(), rn.cfg.GetChunkCols())
	jobs := make(chan Chunk)
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex // guards summary.ChunkFailures
		fitted       atomic.Int64
		insufficient atomic.Int64
		outliers     atomic.Int64
	)

	workers := rn.cfg.GetWorkers()
	if workers > len(chunks) {
		workers = len(chunks)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range jobs {
				if ctx.Err() != nil {
					return
				}
				err := rn.smoothChunk(ch, comp, compMask, out, flags, obsDays, targetDays, opts, covBand,
					&fitted, &insufficient, &outliers)
				if err != nil {
					mu.Lock()
					summary.ChunkFailures = append(summary.ChunkFailures, ChunkFailure{Chunk: ch, Err: err.Error()})
					mu.Unlock()
					monitoring.Logf("pipeline: chunk (%d,%d) failed: %v", ch.Row0, ch.Col0, err)
				}
			}
		}()
	}
	for _, ch := range chunks {
		if ctx.Err() != nil {
			break
		}
		jobs <- ch
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary.SeriesFitted = fitted.Load()
	summary.SeriesInsufficient = insufficient.Load()
	summary.OutlierSamples = outliers.Load()
	monitoring.Logf("pipeline: smoothed %d series (%d insufficient, %d outlier samples, %d chunk failures)",
		summary.SeriesFitted, summary.SeriesInsufficient, summary.OutlierSamples, len(summary.ChunkFailures))

	return &Product{Analytic: out, Flags: flags}, nil
}

// smoothChunk fits every pixel/band series in one chunk. A pixel with too
// few samples is flagged and counted; any other fit error abandons the
// chunk.
func (rn *Runner) smoothChunk(ch Chunk, comp *raster.Cube, compMask *raster.ValidityMask,
	out *raster.Cube, flags []smooth.Flag, obsDays, targetDays []float64,
	opts smooth.Options, covBand int,
	fitted, insufficient, outliers *atomic.Int64) error {

	nd := len(comp.Dates)
	weights := make([]float64, nd)
	values := make([]float64, nd)
	covVals := make([]float64, nd)
	covWeights := make([]float64, nd)

	for r := ch.Row0; r < ch.Row0+ch.Rows; r++ {
		for c := ch.Col0; c < ch.Col0+ch.Cols; c++ {
			pixOpts := opts
			if covBand >= 0 {
				for di := 0; di < nd; di++ {
					covVals[di] = comp.At(di, r, c, covBand)
					if compMask.Valid(di, r, c, covBand) {
						covWeights[di] = 1
					} else {
						covWeights[di] = 0
					}
				}
				pixOpts.Covariate = &smooth.Series{Times: obsDays, Values: covVals, Weights: covWeights}
			}
			for b := range comp.Bands {
				bandOpts := pixOpts
				if b == covBand {
					// the covariate drives the other bands' fits and is
					// not smoothed against itself
					bandOpts.Covariate = nil
				}
				for di := 0; di < nd; di++ {
					values[di] = comp.At(di, r, c, b)
					if compMask.Valid(di, r, c, b) {
						weights[di] = 1
					} else {
						weights[di] = 0
					}
				}
				res, err := smooth.Smooth(smooth.Series{Times: obsDays, Values: values, Weights: weights},
					targetDays, bandOpts)
				if err != nil {
					var ide *smooth.InsufficientDataError
					if errors.As(err, &ide) {
						insufficient.Add(1)
						continue // outputs stay NoData, flags stay Insufficient
					}
					return fmt.Errorf("pixel (%d,%d) band %s: %w", r, c, comp.Bands[b], err)
				}
				fitted.Add(1)
				outliers.Add(int64(res.OutlierCount))
				for ti := range targetDays {
					out.Set(ti, r, c, b, res.Values[ti])
					flags[out.Idx(ti, r, c, b)] = res.Flags[ti]
				}
			}
		}
	}
	return nil
}

// axisDaysFrom expresses dates as day offsets from the given origin.
func axisDaysFrom(origin time.Time, dates []time.Time) []float64 {
	out := make([]float64, len(dates))
	for i, d := range dates {
		out[i] = d.Sub(origin).Hours() / 24
	}
	return out
}
