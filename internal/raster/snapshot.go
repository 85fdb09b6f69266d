package raster

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"time"
)

// TileSnapshot is the gob-serializable interchange form of a Tile. Provider
// clients hand tiles to the pipeline boundary as compressed snapshot blobs;
// the core never decodes a raster file format itself.
type TileSnapshot struct {
	SensorID string
	Sensor   string
	Date     time.Time
	CRS      string
	OriginX  float64
	OriginY  float64
	CellSize float64
	Rows     int
	Cols     int
	Bands    map[string][]float64
	QA       []float64
}

// EncodeTileSnapshot compresses a tile into a gob+gzip blob.
func EncodeTileSnapshot(t *Tile) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	snap := TileSnapshot{
		SensorID: t.SensorID,
		Sensor:   t.Sensor,
		Date:     t.Date,
		CRS:      t.CRS,
		OriginX:  t.OriginX,
		OriginY:  t.OriginY,
		CellSize: t.CellSize,
		Rows:     t.Rows,
		Cols:     t.Cols,
		Bands:    t.Bands,
		QA:       t.QA,
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(snap); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTileSnapshot decompresses and decodes a tile snapshot blob.
func DecodeTileSnapshot(blob []byte) (*Tile, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty tile snapshot blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var snap TileSnapshot
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode tile snapshot: %w", err)
	}
	t := &Tile{
		SensorID: snap.SensorID,
		Sensor:   snap.Sensor,
		Date:     snap.Date,
		CRS:      snap.CRS,
		OriginX:  snap.OriginX,
		OriginY:  snap.OriginY,
		CellSize: snap.CellSize,
		Rows:     snap.Rows,
		Cols:     snap.Cols,
		Bands:    snap.Bands,
		QA:       snap.QA,
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("decoded tile snapshot invalid: %w", err)
	}
	return t, nil
}

// CubeSnapshot is the gob-serializable interchange form of a Cube, plus the
// per-sample fill flags the smoother produces. Flags may be nil for cubes
// that never went through gap filling.
type CubeSnapshot struct {
	Grid   Grid
	Dates  []time.Time
	Bands  []string
	Values []float64
	Flags  []uint8
}

// EncodeCubeSnapshot compresses a cube (and optional flags, indexed like
// Values) into a gob+gzip blob.
func EncodeCubeSnapshot(c *Cube, flags []uint8) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if flags != nil && len(flags) != len(c.Values) {
		return nil, fmt.Errorf("flags length %d does not match cube values %d", len(flags), len(c.Values))
	}
	snap := CubeSnapshot{
		Grid:   c.Grid,
		Dates:  c.Dates,
		Bands:  c.Bands,
		Values: c.Values,
		Flags:  flags,
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(snap); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCubeSnapshot decompresses and decodes a cube snapshot blob.
func DecodeCubeSnapshot(blob []byte) (*Cube, []uint8, error) {
	if len(blob) == 0 {
		return nil, nil, fmt.Errorf("empty cube snapshot blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var snap CubeSnapshot
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&snap); err != nil {
		return nil, nil, fmt.Errorf("failed to decode cube snapshot: %w", err)
	}
	c := &Cube{
		Grid:   snap.Grid,
		Dates:  snap.Dates,
		Bands:  snap.Bands,
		Values: snap.Values,
	}
	if err := c.Validate(); err != nil {
		return nil, nil, fmt.Errorf("decoded cube snapshot invalid: %w", err)
	}
	return c, snap.Flags, nil
}

// WriteCubeSnapshot writes a cube snapshot blob to disk.
func WriteCubeSnapshot(path string, c *Cube, flags []uint8) error {
	blob, err := EncodeCubeSnapshot(c, flags)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0644)
}

// ReadCubeSnapshot loads a cube snapshot blob from disk.
func ReadCubeSnapshot(path string) (*Cube, []uint8, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read cube snapshot %s: %w", path, err)
	}
	return DecodeCubeSnapshot(blob)
}

// WriteTileSnapshot writes a tile snapshot blob to disk.
func WriteTileSnapshot(path string, t *Tile) error {
	blob, err := EncodeTileSnapshot(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0644)
}

// ReadTileSnapshot loads a tile snapshot blob from disk.
func ReadTileSnapshot(path string) (*Tile, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile snapshot %s: %w", path, err)
	}
	return DecodeTileSnapshot(blob)
}
