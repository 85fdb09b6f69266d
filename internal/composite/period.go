// Package composite collapses multiple observations within a period into
// one representative value per cell and band.
package composite

import (
	"fmt"
	"time"
)

// Period is one bucket of the date-axis partition: the half-open interval
// [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains reports whether d falls in the period.
func (p Period) Contains(d time.Time) bool {
	return !d.Before(p.Start) && d.Before(p.End)
}

// MonthlyPeriods builds calendar-month buckets covering every date in the
// axis.
func MonthlyPeriods(dates []time.Time) []Period {
	if len(dates) == 0 {
		return nil
	}
	var periods []Period
	first := dates[0]
	cur := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, first.Location())
	last := dates[len(dates)-1]
	for !cur.After(last) {
		next := cur.AddDate(0, 1, 0)
		periods = append(periods, Period{
			Start: cur,
			End:   next,
			Label: cur.Format("2006-01"),
		})
		cur = next
	}
	return periods
}

// IntervalPeriods builds fixed-length buckets of the given step from start
// until end is covered.
func IntervalPeriods(start, end time.Time, step time.Duration) ([]Period, error) {
	if step <= 0 {
		return nil, fmt.Errorf("period step must be positive, got %s", step)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("period end before start")
	}
	var periods []Period
	for cur := start; !cur.After(end); cur = cur.Add(step) {
		periods = append(periods, Period{
			Start: cur,
			End:   cur.Add(step),
			Label: cur.Format("2006-01-02"),
		})
	}
	return periods, nil
}

// PartitionDates assigns every date to exactly one period. It returns, per
// period, the indices of the dates that fall in it, and fails when a date
// belongs to no period or periods overlap on an observed date.
func PartitionDates(dates []time.Time, periods []Period) ([][]int, error) {
	if len(periods) == 0 {
		return nil, fmt.Errorf("no composite periods given")
	}
	buckets := make([][]int, len(periods))
	for di, d := range dates {
		owner := -1
		for pi, p := range periods {
			if !p.Contains(d) {
				continue
			}
			if owner >= 0 {
				return nil, fmt.Errorf("date %s falls in overlapping periods %q and %q",
					d.Format("2006-01-02"), periods[owner].Label, p.Label)
			}
			owner = pi
		}
		if owner < 0 {
			return nil, fmt.Errorf("date %s belongs to no composite period", d.Format("2006-01-02"))
		}
		buckets[owner] = append(buckets[owner], di)
	}
	return buckets, nil
}
