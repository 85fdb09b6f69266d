package raster

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// NoData is the sentinel for cells that never received a contributing
// sample. Stored as NaN so it can never be confused with a real reflectance
// or index value (including zero).
var NoData = math.NaN()

// IsNoData reports whether v is the no-data sentinel.
func IsNoData(v float64) bool { return math.IsNaN(v) }

// Tile is a single captured raster for one date and one sensor pass,
// covering a spatial extent within (or equal to) the target grid. Tiles are
// owned transiently by the mosaicker and discarded once merged.
type Tile struct {
	SensorID string // e.g. "landsat8/194-027"
	Sensor   string // sensor family for ruleset dispatch, e.g. "landsat-c2l2"
	Date     time.Time

	// Georeferencing of the tile's own top-left corner.
	CRS      string
	OriginX  float64
	OriginY  float64
	CellSize float64

	Rows int
	Cols int

	// Placement within the target grid, resolved by AlignToGrid.
	Row0 int
	Col0 int

	// Bands maps band name to a row-major Rows*Cols sample array.
	Bands map[string][]float64

	// QA is the optional quality/cloud band, row-major Rows*Cols.
	// A nil QA band means every pixel is treated as invalid (fail-safe).
	QA []float64

	aligned bool
}

// Idx maps a tile-local (row, col) to a flat offset.
func (t *Tile) Idx(row, col int) int { return row*t.Cols + col }

// Aligned reports whether AlignToGrid has resolved this tile's placement.
func (t *Tile) Aligned() bool { return t.aligned }

// BandNames returns the tile's band names in sorted order.
func (t *Tile) BandNames() []string {
	names := make([]string, 0, len(t.Bands))
	for name := range t.Bands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the tile.
func (t *Tile) Clone() *Tile {
	c := *t
	c.Bands = make(map[string][]float64, len(t.Bands))
	for name, vals := range t.Bands {
		cp := make([]float64, len(vals))
		copy(cp, vals)
		c.Bands[name] = cp
	}
	if t.QA != nil {
		c.QA = make([]float64, len(t.QA))
		copy(c.QA, t.QA)
	}
	return &c
}

// Validate checks the tile's structural invariants: positive shape and all
// band arrays (and QA, if present) sized Rows*Cols.
func (t *Tile) Validate() error {
	if t.Rows <= 0 || t.Cols <= 0 {
		return fmt.Errorf("tile %s: shape must be positive, got %dx%d", t.SensorID, t.Rows, t.Cols)
	}
	if len(t.Bands) == 0 {
		return fmt.Errorf("tile %s: no bands", t.SensorID)
	}
	want := t.Rows * t.Cols
	for name, vals := range t.Bands {
		if len(vals) != want {
			return fmt.Errorf("tile %s: band %q has %d samples, want %d", t.SensorID, name, len(vals), want)
		}
	}
	if t.QA != nil && len(t.QA) != want {
		return fmt.Errorf("tile %s: QA band has %d samples, want %d", t.SensorID, len(t.QA), want)
	}
	return nil
}
