package qamask

import (
	"fmt"

	"github.com/verdant-data/cubeflow/internal/raster"
)

// Classify derives a per-pixel validity slice (row-major Rows*Cols) from a
// tile's quality band. A tile with no quality band at all yields an
// all-invalid result: the masker fails safe toward exclusion, never toward
// fabricated validity. The tile's reflectance values are never altered.
func Classify(t *raster.Tile, rs *Ruleset) ([]bool, error) {
	if rs == nil {
		return nil, fmt.Errorf("nil ruleset")
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	n := t.Rows * t.Cols
	valid := make([]bool, n)
	if t.QA == nil {
		return valid, nil
	}
	if len(t.QA) != n {
		return nil, fmt.Errorf("tile %s: QA band has %d samples, want %d", t.SensorID, len(t.QA), n)
	}
	for i, q := range t.QA {
		// A NoData quality value means the pixel carries no quality
		// information at all; fail safe toward exclusion.
		valid[i] = !raster.IsNoData(q) && pixelValid(q, rs)
	}
	return valid, nil
}

// pixelValid applies the ruleset to one raw quality value. The pixel is
// invalid when any rule with Valid == false matches; rules with
// Valid == true are exemptions and never invalidate.
func pixelValid(q float64, rs *Ruleset) bool {
	for _, r := range rs.Rules {
		if r.Valid {
			continue
		}
		if r.Matches(q) {
			return false
		}
	}
	return true
}

// CloudFraction returns the fraction of pixels the ruleset classifies as
// invalid, in [0, 1]. Tiles without a quality band count as fully cloudy.
// The mosaicker's lowest-cloud overlap policy keys on this.
func CloudFraction(t *raster.Tile, rs *Ruleset) float64 {
	n := t.Rows * t.Cols
	if n == 0 {
		return 1
	}
	if t.QA == nil {
		return 1
	}
	invalid := 0
	for _, q := range t.QA {
		if raster.IsNoData(q) || !pixelValid(q, rs) {
			invalid++
		}
	}
	return float64(invalid) / float64(n)
}

// MaskCube classifies a sequence of per-date tiles (typically the mosaics
// that built the cube, in date order) into a band-shared cube mask. Cells
// outside a tile's extent, and cube dates with no tile, stay invalid.
func MaskCube(cube *raster.Cube, tiles []*raster.Tile, rs *Ruleset) (*raster.ValidityMask, error) {
	mask := raster.NewValidityMask(len(cube.Dates), cube.Grid.Rows, cube.Grid.Cols)
	for _, t := range tiles {
		dateIdx := -1
		for i, d := range cube.Dates {
			if d.Equal(t.Date) {
				dateIdx = i
				break
			}
		}
		if dateIdx < 0 {
			return nil, fmt.Errorf("tile %s dated %s not on cube date axis", t.SensorID, t.Date.Format("2006-01-02"))
		}
		valid, err := Classify(t, rs)
		if err != nil {
			return nil, err
		}
		for r := 0; r < t.Rows; r++ {
			for c := 0; c < t.Cols; c++ {
				mask.SetValid(dateIdx, t.Row0+r, t.Col0+c, 0, valid[t.Idx(r, c)])
			}
		}
	}
	return mask, nil
}
