package raster

import (
	"fmt"
	"time"
)

// CheckAxis verifies that dates form a valid cube date axis: non-empty,
// strictly increasing, unique.
func CheckAxis(dates []time.Time) error {
	if len(dates) == 0 {
		return fmt.Errorf("date axis must not be empty")
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return fmt.Errorf("date axis not strictly increasing at index %d (%s then %s)",
				i, dates[i-1].Format(time.RFC3339), dates[i].Format(time.RFC3339))
		}
	}
	return nil
}

// RegularAxis builds a regular date axis from start to end inclusive with
// the given step.
func RegularAxis(start, end time.Time, step time.Duration) ([]time.Time, error) {
	if step <= 0 {
		return nil, fmt.Errorf("axis step must be positive, got %s", step)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("axis end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	var axis []time.Time
	for t := start; !t.After(end); t = t.Add(step) {
		axis = append(axis, t)
	}
	return axis, nil
}

// AxisDays converts a date axis into float64 day offsets from the first
// date. The smoother operates on this numeric axis.
func AxisDays(dates []time.Time) []float64 {
	if len(dates) == 0 {
		return nil
	}
	out := make([]float64, len(dates))
	t0 := dates[0]
	for i, d := range dates {
		out[i] = d.Sub(t0).Hours() / 24
	}
	return out
}
