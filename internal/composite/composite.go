package composite

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/verdant-data/cubeflow/internal/raster"
)

// Reducer selects how the valid observations of a period collapse into one
// value per cell.
type Reducer string

const (
	// ReducerMaxIndex selects the date whose named index band is greatest
	// and emits all bands from that date, preserving band correlation.
	ReducerMaxIndex Reducer = "max_index"
	// ReducerMedian takes the per-band median of valid observations.
	ReducerMedian Reducer = "median"
	// ReducerMean takes the per-band mean of valid observations.
	ReducerMean Reducer = "mean_valid"
	// ReducerFirstValid emits all bands from the earliest valid date.
	ReducerFirstValid Reducer = "first_valid"
	// ReducerLastValid emits all bands from the latest valid date.
	ReducerLastValid Reducer = "last_valid"
)

// Options configures one composite operation.
type Options struct {
	Reducer Reducer
	// IndexBand names the band driving ReducerMaxIndex.
	IndexBand string
}

// Composite reduces the cube across the date axis, grouped by periods, into
// one observation per period per cell per band. Output dates are the period
// start times. The output mask has the input mask's band layout; a band
// invalid at every contributing date comes out as NoData with a false mask
// entry, so the gap-filler treats it as a true gap, not an outlier.
func Composite(cube *raster.Cube, mask *raster.ValidityMask, periods []Period, opts Options) (*raster.Cube, *raster.ValidityMask, error) {
	if err := cube.Validate(); err != nil {
		return nil, nil, err
	}
	if mask == nil || !mask.MatchesCube(cube) {
		return nil, nil, fmt.Errorf("validity mask does not match cube shape")
	}
	if opts.Reducer == ReducerMaxIndex && cube.BandIdx(opts.IndexBand) < 0 {
		return nil, nil, fmt.Errorf("index band %q not in cube", opts.IndexBand)
	}
	buckets, err := PartitionDates(cube.Dates, periods)
	if err != nil {
		return nil, nil, err
	}

	out, err := raster.NewCube(cube.Grid, periodStarts(periods), cube.Bands)
	if err != nil {
		return nil, nil, err
	}
	outMask := raster.NewBandValidityMask(len(periods), cube.Grid.Rows, cube.Grid.Cols, mask.Bands)

	idxBand := cube.BandIdx(opts.IndexBand)

	for pi, bucket := range buckets {
		for r := 0; r < cube.Grid.Rows; r++ {
			for c := 0; c < cube.Grid.Cols; c++ {
				usable := usableDatesAt(cube, mask, bucket, r, c)
				if len(usable) == 0 {
					continue
				}
				switch opts.Reducer {
				case ReducerMedian, ReducerMean:
					reduceBandwise(cube, out, mask, outMask, bucket, pi, r, c, opts.Reducer)
				case ReducerFirstValid:
					copyDate(cube, out, mask, outMask, usable[0], pi, r, c)
				case ReducerLastValid:
					copyDate(cube, out, mask, outMask, usable[len(usable)-1], pi, r, c)
				case ReducerMaxIndex:
					copyDate(cube, out, mask, outMask, selectMaxIndexDate(cube, mask, usable, idxBand, r, c), pi, r, c)
				default:
					return nil, nil, fmt.Errorf("unknown reducer %q", opts.Reducer)
				}
			}
		}
	}
	return out, outMask, nil
}

func periodStarts(periods []Period) []time.Time {
	out := make([]time.Time, len(periods))
	for i, p := range periods {
		out[i] = p.Start
	}
	return out
}

// usableDatesAt returns the bucket's date indices where at least one band
// is both valid under the mask and carries a real sample, in date order.
func usableDatesAt(cube *raster.Cube, mask *raster.ValidityMask, bucket []int, r, c int) []int {
	var out []int
	for _, di := range bucket {
		for b := range cube.Bands {
			if mask.Valid(di, r, c, b) && !raster.IsNoData(cube.At(di, r, c, b)) {
				out = append(out, di)
				break
			}
		}
	}
	return out
}

// selectMaxIndexDate picks the usable date with the greatest index-band
// value at the cell; ties break to the earliest date. Dates where the index
// band itself is invalid or absent never drive the selection.
func selectMaxIndexDate(cube *raster.Cube, mask *raster.ValidityMask, usable []int, idxBand, r, c int) int {
	best := -1
	bestVal := 0.0
	for _, di := range usable {
		if !mask.Valid(di, r, c, idxBand) {
			continue
		}
		v := cube.At(di, r, c, idxBand)
		if raster.IsNoData(v) {
			continue
		}
		if best < 0 || v > bestVal {
			best = di
			bestVal = v
		}
	}
	if best < 0 {
		// index band unusable at every date; fall back to earliest
		return usable[0]
	}
	return best
}

// copyDate emits the selected date's bands, keeping bands synchronized to
// one observation. A band invalid or NoData at that date stays NoData and
// masked invalid in the output.
func copyDate(cube, out *raster.Cube, mask, outMask *raster.ValidityMask, di, pi, r, c int) {
	for b := range cube.Bands {
		v := cube.At(di, r, c, b)
		if raster.IsNoData(v) || !mask.Valid(di, r, c, b) {
			continue
		}
		out.Set(pi, r, c, b, v)
		outMask.SetValid(pi, r, c, b, true)
	}
}

// reduceBandwise computes the per-band median or mean over the samples that
// are valid for that band.
func reduceBandwise(cube, out *raster.Cube, mask, outMask *raster.ValidityMask, bucket []int, pi, r, c int, red Reducer) {
	for b := range cube.Bands {
		var samples []float64
		for _, di := range bucket {
			if !mask.Valid(di, r, c, b) {
				continue
			}
			if v := cube.At(di, r, c, b); !raster.IsNoData(v) {
				samples = append(samples, v)
			}
		}
		if len(samples) == 0 {
			continue // stays NoData and invalid for this band
		}
		switch red {
		case ReducerMean:
			out.Set(pi, r, c, b, stat.Mean(samples, nil))
		case ReducerMedian:
			sort.Float64s(samples)
			out.Set(pi, r, c, b, stat.Quantile(0.5, stat.Empirical, samples, nil))
		}
		outMask.SetValid(pi, r, c, b, true)
	}
}
