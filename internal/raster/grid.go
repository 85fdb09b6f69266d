package raster

import (
	"fmt"
	"math"
)

// alignEpsilon is the tolerance used when checking that a tile origin falls
// on a grid cell boundary. Provider georeferencing is float64 arithmetic, so
// exact equality is too strict.
const alignEpsilon = 1e-6

// Grid is an immutable specification of the target raster addressing scheme.
// All tiles entering the pipeline must land on this grid; the core never
// reprojects or resamples.
type Grid struct {
	CRS      string  // coordinate reference system identifier, e.g. "EPSG:32633"
	OriginX  float64 // X of the top-left corner of cell (0,0)
	OriginY  float64 // Y of the top-left corner of cell (0,0)
	CellSize float64 // cell edge length in CRS units; cells are square
	Rows     int
	Cols     int
}

// Idx maps a (row, col) address to a flat offset.
func (g Grid) Idx(row, col int) int { return row*g.Cols + col }

// Cells returns the total cell count.
func (g Grid) Cells() int { return g.Rows * g.Cols }

// Equal reports whether two grids describe the same addressing scheme.
func (g Grid) Equal(o Grid) bool {
	return g.CRS == o.CRS &&
		g.Rows == o.Rows && g.Cols == o.Cols &&
		math.Abs(g.OriginX-o.OriginX) < alignEpsilon &&
		math.Abs(g.OriginY-o.OriginY) < alignEpsilon &&
		math.Abs(g.CellSize-o.CellSize) < alignEpsilon
}

// Validate checks the grid invariants.
func (g Grid) Validate() error {
	if g.CRS == "" {
		return fmt.Errorf("grid CRS must not be empty")
	}
	if g.CellSize <= 0 {
		return fmt.Errorf("grid cell size must be positive, got %g", g.CellSize)
	}
	if g.Rows <= 0 || g.Cols <= 0 {
		return fmt.Errorf("grid shape must be positive, got %dx%d", g.Rows, g.Cols)
	}
	return nil
}

// GridMismatchError reports a tile that cannot be placed on the target grid.
// This is a fatal, configuration-level condition: it signals a defect in the
// upstream provider alignment, not a data-quality issue, and stops the run.
type GridMismatchError struct {
	SensorID string
	Reason   string
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("tile from %s does not fit target grid: %s", e.SensorID, e.Reason)
}

// AlignToGrid verifies that the tile's georeferencing is compatible with the
// target grid and returns a copy of the tile with its grid placement
// (Row0, Col0) resolved. It fails with *GridMismatchError when the CRS
// differs, the resolution is not an exact non-fractional multiple of the
// grid cell size, or the tile origin does not land on a cell boundary.
//
// Only resolution ratio 1 is accepted for ingestion: coarser tiles must be
// resampled by the provider before entering the pipeline.
func AlignToGrid(t *Tile, grid Grid) (*Tile, error) {
	if t.CRS != grid.CRS {
		return nil, &GridMismatchError{
			SensorID: t.SensorID,
			Reason:   fmt.Sprintf("CRS %q != grid CRS %q", t.CRS, grid.CRS),
		}
	}

	ratio := t.CellSize / grid.CellSize
	if math.Abs(ratio-math.Round(ratio)) > alignEpsilon || math.Round(ratio) < 1 {
		return nil, &GridMismatchError{
			SensorID: t.SensorID,
			Reason:   fmt.Sprintf("cell size %g is not a whole multiple of grid cell size %g", t.CellSize, grid.CellSize),
		}
	}
	if math.Round(ratio) != 1 {
		return nil, &GridMismatchError{
			SensorID: t.SensorID,
			Reason:   fmt.Sprintf("resolution ratio %g not supported; provider must resample to grid resolution", math.Round(ratio)),
		}
	}

	// Tile origin must land on a grid cell corner. Grid Y decreases downward.
	colOff := (t.OriginX - grid.OriginX) / grid.CellSize
	rowOff := (grid.OriginY - t.OriginY) / grid.CellSize
	if math.Abs(colOff-math.Round(colOff)) > alignEpsilon || math.Abs(rowOff-math.Round(rowOff)) > alignEpsilon {
		return nil, &GridMismatchError{
			SensorID: t.SensorID,
			Reason:   fmt.Sprintf("tile origin (%g, %g) is not on a grid cell boundary", t.OriginX, t.OriginY),
		}
	}

	row0 := int(math.Round(rowOff))
	col0 := int(math.Round(colOff))
	if row0 < 0 || col0 < 0 || row0+t.Rows > grid.Rows || col0+t.Cols > grid.Cols {
		return nil, &GridMismatchError{
			SensorID: t.SensorID,
			Reason: fmt.Sprintf("tile extent rows %d..%d cols %d..%d exceeds grid %dx%d",
				row0, row0+t.Rows, col0, col0+t.Cols, grid.Rows, grid.Cols),
		}
	}

	aligned := t.Clone()
	aligned.Row0 = row0
	aligned.Col0 = col0
	aligned.aligned = true
	return aligned, nil
}
