package census

import (
	"fmt"
	"slices"
	"time"

	"github.com/ehr/census/internal/domain/stay"
)

// IndexAtOrBefore returns the largest index whose timestamp is not after
// target, or 0 when target precedes the whole axis.
func IndexAtOrBefore(axis []time.Time, target time.Time) int {
	low, high, index := 0, len(axis)-1, 0
	for low <= high {
		mid := (low + high + 1) / 2
		if !axis[mid].After(target) {
			index = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return index
}

// Overlap returns the hours of [bucketStart, bucketStart+1h) covered by
// [stayStart, stayEnd), or 0 when they do not overlap.
func Overlap(bucketStart, stayStart, stayEnd time.Time) float64 {
	from := bucketStart
	if stayStart.After(from) {
		from = stayStart
	}
	to := bucketStart.Add(time.Hour)
	if stayEnd.Before(to) {
		to = stayEnd
	}
	if !to.After(from) {
		return 0
	}
	return to.Sub(from).Hours()
}

// Units returns the distinct units of stays in sorted order.
func Units(stays []stay.Stay) []string {
	var units []string
	for _, s := range stays {
		if !slices.Contains(units, s.Unit) {
			units = append(units, s.Unit)
		}
	}
	slices.Sort(units)
	return units
}

// Aggregate allocates every stay's occupied time into the hourly buckets of
// [start, end) and runs the staffing models at their hook points. A unit or
// model column named like another column fails with ErrColumnClash.
func Aggregate(start, end time.Time, stays []stay.Stay, models ...StaffingModel) (*Table, error) {
	t := NewTable(start, end, Units(stays))

	for _, m := range models {
		if err := m.Initialize(t); err != nil {
			return nil, fmt.Errorf("initialize %s: %w", modelName(m), err)
		}
	}
	if err := t.CheckColumns(); err != nil {
		return nil, err
	}

	axis := t.Timestamps()
	if len(axis) > 0 {
		for s := range stays {
			allocate(t, axis, stays, s, models)
		}
	}

	for i := range t.Rows {
		for _, m := range models {
			m.AddFixedStaff(t, i)
		}
	}
	for _, m := range models {
		if err := m.Finalize(t); err != nil {
			return nil, fmt.Errorf("finalize %s: %w", modelName(m), err)
		}
	}
	return t, nil
}

func allocate(t *Table, axis []time.Time, stays []stay.Stay, s int, models []StaffingModel) {
	st := stays[s]
	first := IndexAtOrBefore(axis, st.Start)
	last := IndexAtOrBefore(axis, st.End)
	for c := first; c <= last; c++ {
		hours := Overlap(axis[c], st.Start, st.End)
		if hours <= 0 {
			continue
		}
		row := &t.Rows[c]
		row.Units[st.Unit] += hours
		row.Total += hours
		for _, m := range models {
			m.AddVariableStaff(hours, t, c, stays, s)
		}
	}
}
