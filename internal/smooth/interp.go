package smooth

import (
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// akimaMinSamples is the sample count below which the spline request falls
// back to piecewise linear; Akima needs enough points to form stable local
// slopes.
const akimaMinSamples = 5

// fitInterp connects the valid samples directly: piecewise linear (or Akima
// spline) inside the observed span, boundary-slope extrapolation outside it.
// Observed values pass through exactly. Akima stands in for a periodic
// spline here: gonum/interp ships no periodic boundary condition, and the
// windows fitted per run are rarely whole seasons anyway.
func fitInterp(s Series, target []float64, opts Options) (*Result, error) {
	ts, ys, _ := s.validPoints()

	if len(ts) == 1 {
		// MinValidSamples can be configured down to 1; a single sample
		// extends as a constant.
		vals := make([]float64, len(target))
		for i := range vals {
			vals[i] = ys[0]
		}
		return &Result{Values: vals, Flags: flagAxis(target, ts)}, nil
	}

	var pred interp.Predictor
	if opts.Spline && len(ts) >= akimaMinSamples {
		var ak interp.AkimaSpline
		if err := ak.Fit(ts, ys); err != nil {
			return nil, fmt.Errorf("akima fit: %w", err)
		}
		pred = &ak
	} else {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(ts, ys); err != nil {
			return nil, fmt.Errorf("linear fit: %w", err)
		}
		pred = &pl
	}

	first, last := ts[0], ts[len(ts)-1]
	leftSlope := boundarySlope(ts, ys, true)
	rightSlope := boundarySlope(ts, ys, false)

	vals := make([]float64, len(target))
	for i, t := range target {
		switch {
		case t < first:
			vals[i] = ys[0] + leftSlope*(t-first)
		case t > last:
			vals[i] = ys[len(ys)-1] + rightSlope*(t-last)
		default:
			vals[i] = pred.Predict(t)
		}
	}
	return &Result{Values: vals, Flags: flagAxis(target, ts)}, nil
}

// boundarySlope is the slope of the outermost observed segment, used to
// extend the series beyond its span. Clipping keeps runaway extrapolation
// bounded.
func boundarySlope(ts, ys []float64, left bool) float64 {
	if len(ts) < 2 {
		return 0
	}
	if left {
		return (ys[1] - ys[0]) / (ts[1] - ts[0])
	}
	n := len(ts)
	return (ys[n-1] - ys[n-2]) / (ts[n-1] - ts[n-2])
}
