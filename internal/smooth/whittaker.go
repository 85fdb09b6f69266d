package smooth

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// madToSigma converts the median absolute deviation to a normal-consistent
// spread estimate.
const madToSigma = 1.4826

// penObs is one observation snapped onto the target axis.
type penObs struct {
	idx     int     // nearest target index
	y       float64 // observed value
	w       float64 // observation weight
	outlier bool
}

// fitPenalized solves the regularized least-squares problem
//
//	min over z:  sum_i w_i (y_i - z_{j(i)} - beta*x_{j(i)})^2 + lambda * |D2 z|^2
//
// where D2 is the second-difference operator on the target axis. The normal
// equations form a pentadiagonal symmetric positive definite system, solved
// by banded Cholesky. An optional covariate x enters through its Schur
// complement, and an iterative reweighting pass zeroes observations whose
// residuals exceed OutlierK robust standard deviations.
func fitPenalized(s Series, target []float64, opts Options) (*Result, error) {
	n := len(target)
	if n < 3 {
		// too short for a second-difference penalty; direct interpolation
		// is exact on such axes anyway
		return fitInterp(s, target, opts)
	}
	lambda := opts.Lambda
	if lambda <= 0 {
		lambda = 10
	}

	ts, ys, ws := s.validPoints()
	obs := snapObservations(ts, ys, ws, target)
	if len(obs) < 2 {
		return nil, &InsufficientDataError{ValidCount: len(obs), MinRequired: 2}
	}

	var x []float64
	if opts.Covariate != nil {
		x = resampleCovariate(*opts.Covariate, target)
	}

	res := &Result{Flags: flagAxis(target, ts)}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	for iter := 0; iter < maxIter; iter++ {
		z, beta, err := solvePenalized(obs, n, lambda, x)
		if err != nil {
			return nil, err
		}
		res.Beta = beta
		res.Iterations = iter + 1
		if x == nil {
			res.Values = z
		} else {
			res.Trend = z
			res.Values = make([]float64, n)
			for i := range z {
				res.Values[i] = z[i] + beta*x[i]
			}
		}
		if opts.OutlierK <= 0 || !reclassify(obs, res.Values, opts.OutlierK) {
			break
		}
	}

	for _, o := range obs {
		if o.outlier {
			res.OutlierCount++
		}
	}
	return res, nil
}

// snapObservations maps each valid sample to its nearest target index,
// merging duplicates by weighted mean.
func snapObservations(ts, ys, ws, target []float64) []penObs {
	type acc struct{ wySum, wSum float64 }
	byIdx := make(map[int]*acc)
	order := make([]int, 0, len(ts))
	for i := range ts {
		j := nearestIndex(target, ts[i])
		a, ok := byIdx[j]
		if !ok {
			a = &acc{}
			byIdx[j] = a
			order = append(order, j)
		}
		a.wySum += ws[i] * ys[i]
		a.wSum += ws[i]
	}
	sort.Ints(order)
	obs := make([]penObs, 0, len(order))
	for _, j := range order {
		a := byIdx[j]
		obs = append(obs, penObs{idx: j, y: a.wySum / a.wSum, w: a.wSum})
	}
	return obs
}

// nearestIndex finds the target index closest to t; target is strictly
// increasing.
func nearestIndex(target []float64, t float64) int {
	j := sort.SearchFloat64s(target, t)
	if j == 0 {
		return 0
	}
	if j == len(target) {
		return len(target) - 1
	}
	if t-target[j-1] <= target[j]-t {
		return j - 1
	}
	return j
}

// solvePenalized assembles and solves the banded normal equations for the
// current inlier set. With a covariate it solves twice against the same
// factorization and recovers beta from the Schur complement.
func solvePenalized(obs []penObs, n int, lambda float64, x []float64) ([]float64, float64, error) {
	a := mat.NewSymBandDense(n, 2, nil)
	for i := 0; i <= n-3; i++ {
		a.SetSymBand(i, i, a.At(i, i)+lambda)
		a.SetSymBand(i+1, i+1, a.At(i+1, i+1)+4*lambda)
		a.SetSymBand(i+2, i+2, a.At(i+2, i+2)+lambda)
		a.SetSymBand(i, i+1, a.At(i, i+1)-2*lambda)
		a.SetSymBand(i+1, i+2, a.At(i+1, i+2)-2*lambda)
		a.SetSymBand(i, i+2, a.At(i, i+2)+lambda)
	}
	wy := mat.NewVecDense(n, nil)
	for _, o := range obs {
		if o.outlier {
			continue
		}
		a.SetSymBand(o.idx, o.idx, a.At(o.idx, o.idx)+o.w)
		wy.SetVec(o.idx, wy.AtVec(o.idx)+o.w*o.y)
	}

	var ch mat.BandCholesky
	if !ch.Factorize(a) {
		return nil, 0, fmt.Errorf("penalized system not positive definite (observations collapse onto too few dates)")
	}

	var u mat.VecDense
	if err := ch.SolveVecTo(&u, wy); err != nil {
		return nil, 0, fmt.Errorf("penalized solve: %w", err)
	}
	if x == nil {
		return vecSlice(&u, n), 0, nil
	}

	wx := mat.NewVecDense(n, nil)
	var xWx, xWy float64
	for _, o := range obs {
		if o.outlier {
			continue
		}
		xi := x[o.idx]
		wx.SetVec(o.idx, wx.AtVec(o.idx)+o.w*xi)
		xWx += o.w * xi * xi
		xWy += o.w * xi * o.y
	}
	var v mat.VecDense
	if err := ch.SolveVecTo(&v, wx); err != nil {
		return nil, 0, fmt.Errorf("covariate solve: %w", err)
	}

	// beta = (x'Wy - (Wx)'u) / (x'Wx - (Wx)'v)
	num := xWy - mat.Dot(wx, &u)
	den := xWx - mat.Dot(wx, &v)
	if math.Abs(den) < 1e-12 {
		// covariate carries no independent information at the inliers
		return vecSlice(&u, n), 0, nil
	}
	beta := num / den

	z := make([]float64, n)
	for i := 0; i < n; i++ {
		z[i] = u.AtVec(i) - beta*v.AtVec(i)
	}
	return z, beta, nil
}

func vecSlice(v *mat.VecDense, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = v.AtVec(i)
	}
	return out
}

// reclassify recomputes the outlier class of every observation from its
// residual against the current fit. It reports whether any class changed;
// previously excluded observations may re-enter if the refit moves toward
// them.
func reclassify(obs []penObs, fit []float64, k float64) bool {
	resids := make([]float64, len(obs))
	var inliers []float64
	for i, o := range obs {
		resids[i] = o.y - fit[o.idx]
		if !o.outlier {
			inliers = append(inliers, resids[i])
		}
	}
	scale := madToSigma * mad(inliers)
	if scale < 1e-12 {
		return false
	}
	changed := false
	for i := range obs {
		out := math.Abs(resids[i]) > k*scale
		if out != obs[i].outlier {
			obs[i].outlier = out
			changed = true
		}
	}
	return changed
}

// mad is the median absolute deviation from the median.
func mad(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	med := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	dev := make([]float64, len(sorted))
	for i, v := range sorted {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	return stat.Quantile(0.5, stat.Empirical, dev, nil)
}

// resampleCovariate evaluates the covariate on the target axis: piecewise
// linear inside its span, constant beyond it. A covariate with fewer than
// two valid samples contributes nothing and resamples to zeros.
func resampleCovariate(cov Series, target []float64) []float64 {
	ts, ys, _ := cov.validPoints()
	out := make([]float64, len(target))
	if len(ts) < 2 {
		return out
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(ts, ys); err != nil {
		return out
	}
	first, last := ts[0], ts[len(ts)-1]
	for i, t := range target {
		switch {
		case t < first:
			out[i] = ys[0]
		case t > last:
			out[i] = ys[len(ys)-1]
		default:
			out[i] = pl.Predict(t)
		}
	}
	return out
}
