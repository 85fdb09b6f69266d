package raster

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestTileSnapshotRoundTrip(t *testing.T) {
	tile := makeTestTile(3, 4, time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC))
	tile.QA = make([]float64, 12)
	tile.QA[5] = 8 // cloud bit, arbitrary

	path := filepath.Join(t.TempDir(), "tile.snap")
	if err := WriteTileSnapshot(path, tile); err != nil {
		t.Fatalf("WriteTileSnapshot: %v", err)
	}
	got, err := ReadTileSnapshot(path)
	if err != nil {
		t.Fatalf("ReadTileSnapshot: %v", err)
	}
	if diff := cmp.Diff(tile.Bands, got.Bands); diff != "" {
		t.Errorf("bands mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tile.QA, got.QA); diff != "" {
		t.Errorf("QA mismatch (-want +got):\n%s", diff)
	}
	if !got.Date.Equal(tile.Date) || got.SensorID != tile.SensorID {
		t.Error("snapshot metadata not preserved")
	}
}

func TestDecodeTileSnapshot_Empty(t *testing.T) {
	if _, err := DecodeTileSnapshot(nil); err == nil {
		t.Fatal("expected error for empty blob")
	}
}

func TestCubeSnapshotRoundTrip(t *testing.T) {
	grid := Grid{CRS: "EPSG:32633", OriginY: 60, CellSize: 30, Rows: 2, Cols: 2}
	dates := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 11, 0, 0, 0, 0, time.UTC),
	}
	cube, err := NewCube(grid, dates, []string{"evi"})
	if err != nil {
		t.Fatalf("NewCube: %v", err)
	}
	cube.Set(0, 0, 0, 0, 0.25)
	cube.Set(1, 1, 1, 0, 0.75)
	flags := make([]uint8, len(cube.Values))
	flags[cube.Idx(1, 1, 1, 0)] = 1

	path := filepath.Join(t.TempDir(), "cube.snap")
	if err := WriteCubeSnapshot(path, cube, flags); err != nil {
		t.Fatalf("WriteCubeSnapshot: %v", err)
	}
	got, gotFlags, err := ReadCubeSnapshot(path)
	if err != nil {
		t.Fatalf("ReadCubeSnapshot: %v", err)
	}
	if diff := cmp.Diff(cube.Values, got.Values, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(flags, gotFlags); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
	if !got.Dates[1].Equal(dates[1]) || got.Grid.Rows != 2 {
		t.Error("snapshot metadata not preserved")
	}
}

func TestEncodeCubeSnapshot_FlagLengthMismatch(t *testing.T) {
	grid := Grid{CRS: "EPSG:32633", OriginY: 30, CellSize: 30, Rows: 1, Cols: 1}
	cube, err := NewCube(grid, []time.Time{time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}, []string{"evi"})
	if err != nil {
		t.Fatalf("NewCube: %v", err)
	}
	if _, err := EncodeCubeSnapshot(cube, make([]uint8, 99)); err == nil {
		t.Fatal("expected error for mismatched flags length")
	}
}
