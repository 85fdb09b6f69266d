package raster

import (
	"fmt"
	"time"
)

// Cube is the pipeline's primary working entity after mosaicking: a flat
// 4-D array addressed by (date, row, col, band). Dates are an ordered,
// possibly irregular sequence of timestamps. All bands share the grid's
// spatial shape.
type Cube struct {
	Grid  Grid
	Dates []time.Time
	Bands []string
	// Values is row-major over (date, row, col, band);
	// len = len(Dates) * Grid.Rows * Grid.Cols * len(Bands).
	Values []float64
}

// NewCube allocates a cube filled with NoData.
func NewCube(grid Grid, dates []time.Time, bands []string) (*Cube, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if err := CheckAxis(dates); err != nil {
		return nil, err
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("cube must have at least one band")
	}
	vals := make([]float64, len(dates)*grid.Rows*grid.Cols*len(bands))
	for i := range vals {
		vals[i] = NoData
	}
	return &Cube{
		Grid:   grid,
		Dates:  append([]time.Time(nil), dates...),
		Bands:  append([]string(nil), bands...),
		Values: vals,
	}, nil
}

// Idx maps (dateIdx, row, col, bandIdx) to a flat offset.
func (c *Cube) Idx(t, row, col, band int) int {
	return ((t*c.Grid.Rows+row)*c.Grid.Cols+col)*len(c.Bands) + band
}

// At returns the value at (dateIdx, row, col, bandIdx).
func (c *Cube) At(t, row, col, band int) float64 {
	return c.Values[c.Idx(t, row, col, band)]
}

// Set stores a value at (dateIdx, row, col, bandIdx).
func (c *Cube) Set(t, row, col, band int, v float64) {
	c.Values[c.Idx(t, row, col, band)] = v
}

// BandIdx returns the index of the named band, or -1 when absent.
func (c *Cube) BandIdx(name string) int {
	for i, b := range c.Bands {
		if b == name {
			return i
		}
	}
	return -1
}

// Validate checks the cube invariants: strictly increasing unique dates,
// a valid grid, and a value buffer of the expected length.
func (c *Cube) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if err := CheckAxis(c.Dates); err != nil {
		return err
	}
	if len(c.Bands) == 0 {
		return fmt.Errorf("cube has no bands")
	}
	want := len(c.Dates) * c.Grid.Rows * c.Grid.Cols * len(c.Bands)
	if len(c.Values) != want {
		return fmt.Errorf("cube value buffer has %d entries, want %d", len(c.Values), want)
	}
	return nil
}

// ValidityMask is a boolean array aligned with a cube's (date, row, col)
// axes. It is band-shared when Bands == 1 and band-specific otherwise.
// True marks a usable observation; a masked-invalid cell's cube value is
// never trusted downstream.
type ValidityMask struct {
	Dates int
	Rows  int
	Cols  int
	Bands int // 1 = shared across bands
	Bits  []bool
}

// NewValidityMask allocates a band-shared mask with every entry invalid.
func NewValidityMask(dates, rows, cols int) *ValidityMask {
	return NewBandValidityMask(dates, rows, cols, 1)
}

// NewBandValidityMask allocates a band-specific mask with every entry invalid.
func NewBandValidityMask(dates, rows, cols, bands int) *ValidityMask {
	return &ValidityMask{
		Dates: dates,
		Rows:  rows,
		Cols:  cols,
		Bands: bands,
		Bits:  make([]bool, dates*rows*cols*bands),
	}
}

func (m *ValidityMask) idx(t, row, col, band int) int {
	if m.Bands == 1 {
		band = 0
	}
	return ((t*m.Rows+row)*m.Cols+col)*m.Bands + band
}

// Valid reports whether (dateIdx, row, col, bandIdx) holds a usable
// observation. For band-shared masks the band index is ignored.
func (m *ValidityMask) Valid(t, row, col, band int) bool {
	return m.Bits[m.idx(t, row, col, band)]
}

// SetValid marks an observation usable or not.
func (m *ValidityMask) SetValid(t, row, col, band int, valid bool) {
	m.Bits[m.idx(t, row, col, band)] = valid
}

// CountValid returns the number of valid entries.
func (m *ValidityMask) CountValid() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// MatchesCube reports whether the mask shape is compatible with the cube.
func (m *ValidityMask) MatchesCube(c *Cube) bool {
	if m.Dates != len(c.Dates) || m.Rows != c.Grid.Rows || m.Cols != c.Grid.Cols {
		return false
	}
	return m.Bands == 1 || m.Bands == len(c.Bands)
}
