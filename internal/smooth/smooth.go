// Package smooth is the pipeline's numerical engine: it turns an irregular,
// partially invalid per-pixel series into a complete, smoothed series on a
// caller-supplied target axis, filling gaps and attenuating outliers.
//
// Each fit is independent per pixel and band; parallelism belongs to the
// caller (the chunked pipeline runner), never inside one fit.
package smooth

import (
	"fmt"
	"math"
)

// Method selects the fitting algorithm for a run. The method is a run-level
// choice, never a per-pixel one.
type Method string

const (
	// MethodInterp is piecewise local interpolation through valid samples
	// with bounded boundary-slope extrapolation.
	MethodInterp Method = "local_interp"
	// MethodPenalized is the regularized least-squares fit with a
	// second-difference roughness penalty, solved as a banded system.
	MethodPenalized Method = "penalized"
)

// Flag classifies each output sample.
type Flag uint8

const (
	// FlagObserved marks outputs backed by a valid observation at (or
	// numerically at) the target date.
	FlagObserved Flag = iota
	// FlagFilled marks outputs interpolated, extrapolated, or smoothed
	// from neighbouring observations.
	FlagFilled
	// FlagInsufficient marks outputs of a pixel that had too few valid
	// samples to fit at all.
	FlagInsufficient
)

// Series is one pixel/band time series on a numeric axis (days since the
// cube's first date). Weights are 0 for invalid or missing samples and
// otherwise express observation reliability; the fit never reads a
// zero-weight value.
type Series struct {
	Times   []float64
	Values  []float64
	Weights []float64
}

// ValidCount returns the number of usable samples: positive weight and a
// finite value.
func (s Series) ValidCount() int {
	n := 0
	for i := range s.Values {
		if s.Weights[i] > 0 && !math.IsNaN(s.Values[i]) && !math.IsInf(s.Values[i], 0) {
			n++
		}
	}
	return n
}

// validPoints extracts the usable (time, value, weight) triples in axis order.
func (s Series) validPoints() (ts, ys, ws []float64) {
	for i := range s.Values {
		if s.Weights[i] > 0 && !math.IsNaN(s.Values[i]) && !math.IsInf(s.Values[i], 0) {
			ts = append(ts, s.Times[i])
			ys = append(ys, s.Values[i])
			ws = append(ws, s.Weights[i])
		}
	}
	return ts, ys, ws
}

// Options configures a smoothing run. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	Method Method
	// Spline switches local interpolation from piecewise linear to an
	// Akima spline when enough samples exist.
	Spline bool
	// MinValidSamples is the fit threshold; pixels below it yield
	// InsufficientDataError rather than a fabricated series.
	MinValidSamples int
	// ClipMin/ClipMax bound every output value to the physical range of
	// the quantity (e.g. [-1, 1] for normalized indices). Clipping is
	// disabled when ClipMin >= ClipMax.
	ClipMin float64
	ClipMax float64
	// Lambda is the roughness penalty weight of the penalized method.
	Lambda float64
	// OutlierK is the residual threshold in robust-spread units for the
	// iteratively reweighted outlier pass; <= 0 disables the pass.
	OutlierK float64
	// MaxIterations bounds the outlier reweighting loop.
	MaxIterations int
	// Covariate is an optional auxiliary regressor series; it may live on
	// its own irregular axis and is resampled onto the target axis.
	Covariate *Series
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Method:          MethodPenalized,
		MinValidSamples: 2,
		ClipMin:         -1,
		ClipMax:         1,
		Lambda:          10,
		OutlierK:        2.5,
		MaxIterations:   5,
	}
}

// Result is one completed fit.
type Result struct {
	// Values is the dense output on the target axis; always finite.
	Values []float64
	// Flags classifies each output sample.
	Flags []Flag
	// Trend is the smooth component when a covariate was used (Values
	// minus the covariate contribution); nil otherwise.
	Trend []float64
	// Beta is the estimated covariate coefficient; 0 without a covariate.
	Beta float64
	// Iterations is the number of outlier reweighting passes performed.
	Iterations int
	// OutlierCount is the number of samples downweighted to zero by the
	// reweighting loop.
	OutlierCount int
}

// InsufficientDataError reports a pixel with too few valid samples to fit.
// It is per-pixel and non-fatal: the caller records a flagged output and
// continues with sibling pixels.
type InsufficientDataError struct {
	ValidCount  int
	MinRequired int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d valid samples, need %d", e.ValidCount, e.MinRequired)
}

// Smooth fits one series and evaluates it on the target axis.
func Smooth(s Series, target []float64, opts Options) (*Result, error) {
	if len(s.Times) != len(s.Values) || len(s.Times) != len(s.Weights) {
		return nil, fmt.Errorf("series axes disagree: %d times, %d values, %d weights",
			len(s.Times), len(s.Values), len(s.Weights))
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("empty target axis")
	}
	minValid := opts.MinValidSamples
	if minValid <= 0 {
		minValid = 2
	}
	if n := s.ValidCount(); n < minValid {
		return nil, &InsufficientDataError{ValidCount: n, MinRequired: minValid}
	}

	var (
		res *Result
		err error
	)
	switch opts.Method {
	case MethodInterp:
		res, err = fitInterp(s, target, opts)
	case MethodPenalized, "":
		res, err = fitPenalized(s, target, opts)
	default:
		return nil, fmt.Errorf("unknown smoothing method %q", opts.Method)
	}
	if err != nil {
		return nil, err
	}

	clip(res.Values, opts)
	if res.Trend != nil {
		clip(res.Trend, opts)
	}
	for i, v := range res.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite output at target index %d", i)
		}
	}
	return res, nil
}

// clip bounds values to the configured physical range.
func clip(vals []float64, opts Options) {
	if opts.ClipMin >= opts.ClipMax {
		return
	}
	for i, v := range vals {
		if v < opts.ClipMin {
			vals[i] = opts.ClipMin
		} else if v > opts.ClipMax {
			vals[i] = opts.ClipMax
		}
	}
}

// observedEpsilon is the axis distance under which a target date counts as
// coinciding with an observation.
const observedEpsilon = 1e-9

// flagAxis marks each target position Observed when a valid observation
// sits on it, Filled otherwise.
func flagAxis(target, obsTimes []float64) []Flag {
	flags := make([]Flag, len(target))
	for i := range flags {
		flags[i] = FlagFilled
	}
	j := 0
	for i, t := range target {
		for j < len(obsTimes) && obsTimes[j] < t-observedEpsilon {
			j++
		}
		if j < len(obsTimes) && math.Abs(obsTimes[j]-t) <= observedEpsilon {
			flags[i] = FlagObserved
		}
	}
	return flags
}
