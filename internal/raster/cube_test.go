package raster

import (
	"testing"
	"time"
)

func testDates(n int) []time.Time {
	out := make([]time.Time, n)
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = base.AddDate(0, 0, 5*i)
	}
	return out
}

func TestNewCube_FilledNoData(t *testing.T) {
	c, err := NewCube(testGrid(), testDates(3), []string{"red", "nir"})
	if err != nil {
		t.Fatalf("NewCube: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for i, v := range c.Values {
		if !IsNoData(v) {
			t.Fatalf("value %d = %v, want NoData", i, v)
		}
	}
}

func TestCubeIndexing(t *testing.T) {
	c, err := NewCube(testGrid(), testDates(3), []string{"red", "nir"})
	if err != nil {
		t.Fatalf("NewCube: %v", err)
	}
	c.Set(1, 4, 7, 1, 0.42)
	if got := c.At(1, 4, 7, 1); got != 0.42 {
		t.Errorf("At = %v, want 0.42", got)
	}
	// neighbours untouched
	if !IsNoData(c.At(1, 4, 7, 0)) {
		t.Error("other band should still be NoData")
	}
	if c.BandIdx("nir") != 1 || c.BandIdx("missing") != -1 {
		t.Error("BandIdx lookup wrong")
	}
}

func TestNewCube_RejectsBadAxis(t *testing.T) {
	dates := testDates(3)
	dates[2] = dates[1] // duplicate
	if _, err := NewCube(testGrid(), dates, []string{"red"}); err == nil {
		t.Fatal("expected error for non-increasing date axis")
	}
}

func TestValidityMask_SharedAndPerBand(t *testing.T) {
	shared := NewValidityMask(2, 3, 4)
	shared.SetValid(1, 2, 3, 0, true)
	if !shared.Valid(1, 2, 3, 0) || !shared.Valid(1, 2, 3, 1) {
		t.Error("band-shared mask must answer the same for every band index")
	}
	if shared.CountValid() != 1 {
		t.Errorf("CountValid = %d, want 1", shared.CountValid())
	}

	perBand := NewBandValidityMask(2, 3, 4, 2)
	perBand.SetValid(0, 0, 0, 1, true)
	if perBand.Valid(0, 0, 0, 0) {
		t.Error("band-specific mask must keep bands independent")
	}
	if !perBand.Valid(0, 0, 0, 1) {
		t.Error("band 1 should be valid")
	}
}

func TestRegularAxis(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 20)
	axis, err := RegularAxis(start, end, 5*24*time.Hour)
	if err != nil {
		t.Fatalf("RegularAxis: %v", err)
	}
	if len(axis) != 5 {
		t.Fatalf("len(axis) = %d, want 5", len(axis))
	}
	if err := CheckAxis(axis); err != nil {
		t.Errorf("CheckAxis: %v", err)
	}

	days := AxisDays(axis)
	if days[0] != 0 || days[4] != 20 {
		t.Errorf("AxisDays = %v, want 0..20 by 5", days)
	}
}
