// Package mosaic merges spatially adjacent or overlapping tiles captured on
// the same date into one tile covering their union extent on the target
// grid.
//
// Overlap resolution is explicit and deterministic; overlapping raw
// reflectance values are never averaged, because sensor view-angle
// differences bias the mean.
package mosaic

import (
	"fmt"
	"sort"
	"time"

	"github.com/verdant-data/cubeflow/internal/qamask"
	"github.com/verdant-data/cubeflow/internal/raster"
)

// Policy selects how a cell claimed by more than one tile is resolved.
type Policy string

const (
	// PolicyLastWins keeps the sample from the most recently listed tile.
	// This is the default tie-break.
	PolicyLastWins Policy = "last_wins"
	// PolicyPreferValid keeps the sample from the tile whose quality band
	// marks the cell valid; between two equally valid claims the most
	// recently listed tile wins.
	PolicyPreferValid Policy = "prefer_valid"
	// PolicyLowestCloud keeps the sample from the tile with the lowest
	// whole-tile cloud fraction; on equal fractions the earlier listed
	// winner is kept.
	PolicyLowestCloud Policy = "lowest_cloud"
)

// Options configures one mosaic operation.
type Options struct {
	Policy Policy
	// Rules is required by the QA-aware policies; ignored by last_wins.
	Rules *qamask.Ruleset
}

// HeterogeneousInputError reports tiles that cannot be combined in one
// mosaic operation. It is fatal for the offending operation only: the
// caller reports it, skips the date, and continues the run.
type HeterogeneousInputError struct {
	SensorID string
	Reason   string
}

func (e *HeterogeneousInputError) Error() string {
	return fmt.Sprintf("heterogeneous mosaic input from %s: %s", e.SensorID, e.Reason)
}

// Mosaic merges tiles sharing one capture date into a single tile covering
// the union of their extents. Every input must already be aligned to the
// grid (raster.AlignToGrid). Cells no tile contributes stay NoData, which is
// distinct from a masked-invalid observation.
func Mosaic(tiles []*raster.Tile, grid raster.Grid, opts Options) (*raster.Tile, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("mosaic needs at least one tile")
	}
	if opts.Policy == "" {
		opts.Policy = PolicyLastWins
	}
	if opts.Policy != PolicyLastWins && opts.Rules == nil {
		return nil, fmt.Errorf("policy %q needs a quality ruleset", opts.Policy)
	}

	date := tiles[0].Date
	for _, t := range tiles {
		if !t.Aligned() {
			return nil, &HeterogeneousInputError{SensorID: t.SensorID, Reason: "tile not aligned to grid"}
		}
		if !t.Date.Equal(date) {
			return nil, &HeterogeneousInputError{
				SensorID: t.SensorID,
				Reason: fmt.Sprintf("capture date %s differs from %s",
					t.Date.Format(time.RFC3339), date.Format(time.RFC3339)),
			}
		}
		if err := t.Validate(); err != nil {
			return nil, &HeterogeneousInputError{SensorID: t.SensorID, Reason: err.Error()}
		}
	}

	row0, col0, row1, col1 := unionExtent(tiles)
	out := newEmptyTile(tiles[0], grid, date, row0, col0, row1-row0, col1-col0, bandUnion(tiles))

	st, err := newPolicyState(tiles, opts)
	if err != nil {
		return nil, err
	}
	st.ensureWinners(out.Rows * out.Cols)

	for ti, t := range tiles {
		for r := 0; r < t.Rows; r++ {
			for c := 0; c < t.Cols; c++ {
				or := t.Row0 + r - row0
				oc := t.Col0 + c - col0
				outIdx := out.Idx(or, oc)
				inIdx := t.Idx(r, c)
				if !st.wins(ti, inIdx, outIdx) {
					continue
				}
				for name, vals := range t.Bands {
					if v := vals[inIdx]; !raster.IsNoData(v) {
						out.Bands[name][outIdx] = v
					}
				}
				if t.QA != nil {
					out.QA[outIdx] = t.QA[inIdx]
				} else {
					out.QA[outIdx] = raster.NoData
				}
				st.claim(ti, inIdx, outIdx)
			}
		}
	}
	return out, nil
}

// policyState tracks per-output-cell winner information for one mosaic.
type policyState struct {
	policy Policy
	// tileValid[i] is the per-pixel validity of tile i under the ruleset;
	// nil for last_wins.
	tileValid [][]bool
	// cloudFrac[i] is tile i's whole-tile cloud fraction; nil for policies
	// that do not use it.
	cloudFrac []float64
	// winner[outIdx] is the index of the tile currently owning the cell,
	// -1 when unclaimed.
	winner []int
	// winnerValid[outIdx] records whether the owning sample was QA-valid.
	winnerValid []bool
	tiles       []*raster.Tile
}

func newPolicyState(tiles []*raster.Tile, opts Options) (*policyState, error) {
	st := &policyState{policy: opts.Policy, tiles: tiles}
	if opts.Policy == PolicyLastWins {
		return st, nil
	}
	st.tileValid = make([][]bool, len(tiles))
	for i, t := range tiles {
		valid, err := qamask.Classify(t, opts.Rules)
		if err != nil {
			return nil, err
		}
		st.tileValid[i] = valid
	}
	if opts.Policy == PolicyLowestCloud {
		st.cloudFrac = make([]float64, len(tiles))
		for i, t := range tiles {
			st.cloudFrac[i] = qamask.CloudFraction(t, opts.Rules)
		}
	}
	return st, nil
}

func (st *policyState) ensureWinners(n int) {
	if st.winner != nil {
		return
	}
	st.winner = make([]int, n)
	for i := range st.winner {
		st.winner[i] = -1
	}
	st.winnerValid = make([]bool, n)
}

// wins decides whether tile ti's sample at inIdx should claim output cell
// outIdx given the current owner.
func (st *policyState) wins(ti, inIdx, outIdx int) bool {
	if !tileHasData(st.tiles[ti], inIdx) {
		return false
	}
	if st.policy == PolicyLastWins {
		// tiles iterate in listed order, so a later tile always overwrites
		return true
	}
	cur := st.winner[outIdx]
	if cur < 0 {
		return true
	}
	incomingValid := st.tileValid[ti][inIdx]
	switch st.policy {
	case PolicyPreferValid:
		// valid beats invalid; equal validity defers to listing order
		return incomingValid || !st.winnerValid[outIdx]
	case PolicyLowestCloud:
		if incomingValid != st.winnerValid[outIdx] {
			return incomingValid
		}
		// strictly lower fraction wins; ties keep the earlier winner
		return st.cloudFrac[ti] < st.cloudFrac[cur]
	}
	return false
}

func (st *policyState) claim(ti, inIdx, outIdx int) {
	if st.policy == PolicyLastWins {
		return
	}
	st.winner[outIdx] = ti
	st.winnerValid[outIdx] = st.tileValid[ti][inIdx]
}

// tileHasData reports whether any band of the tile has a real sample at the
// given pixel.
func tileHasData(t *raster.Tile, idx int) bool {
	for _, vals := range t.Bands {
		if !raster.IsNoData(vals[idx]) {
			return true
		}
	}
	return false
}

func unionExtent(tiles []*raster.Tile) (row0, col0, row1, col1 int) {
	row0, col0 = tiles[0].Row0, tiles[0].Col0
	row1, col1 = tiles[0].Row0+tiles[0].Rows, tiles[0].Col0+tiles[0].Cols
	for _, t := range tiles[1:] {
		if t.Row0 < row0 {
			row0 = t.Row0
		}
		if t.Col0 < col0 {
			col0 = t.Col0
		}
		if t.Row0+t.Rows > row1 {
			row1 = t.Row0 + t.Rows
		}
		if t.Col0+t.Cols > col1 {
			col1 = t.Col0 + t.Cols
		}
	}
	return row0, col0, row1, col1
}

func bandUnion(tiles []*raster.Tile) []string {
	seen := map[string]bool{}
	for _, t := range tiles {
		for name := range t.Bands {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newEmptyTile(ref *raster.Tile, grid raster.Grid, date time.Time, row0, col0, rows, cols int, bands []string) *raster.Tile {
	out := &raster.Tile{
		SensorID: ref.SensorID,
		Sensor:   ref.Sensor,
		Date:     date,
		CRS:      grid.CRS,
		OriginX:  grid.OriginX + float64(col0)*grid.CellSize,
		OriginY:  grid.OriginY - float64(row0)*grid.CellSize,
		CellSize: grid.CellSize,
		Rows:     rows,
		Cols:     cols,
		Row0:     row0,
		Col0:     col0,
		Bands:    make(map[string][]float64, len(bands)),
		QA:       make([]float64, rows*cols),
	}
	for _, name := range bands {
		vals := make([]float64, rows*cols)
		for i := range vals {
			vals[i] = raster.NoData
		}
		out.Bands[name] = vals
	}
	for i := range out.QA {
		out.QA[i] = raster.NoData
	}
	return out
}
