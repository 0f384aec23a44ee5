package census

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// TotalColumn names the all-unit census column.
const TotalColumn = "Total Census"

// ReservedColumns are the names the census output uses for its own columns.
// No unit or model column may take one of them.
var ReservedColumns = []string{"Timestamp", "Hour", "Weekday", TotalColumn}

var (
	// ErrColumnClash is returned when a unit or model column reuses a
	// reserved name or another column's name.
	ErrColumnClash = errors.New("census: column name clash")
	// ErrCensusInvariant is returned when an hour's total differs from the
	// sum of its units.
	ErrCensusInvariant = errors.New("census: total does not match unit sum")
)

// Row is one calendar hour of the census.
type Row struct {
	Timestamp time.Time          `json:"timestamp"`
	Hour      int                `json:"hour"`
	Weekday   string             `json:"weekday"`
	Total     float64            `json:"total_census"`
	Units     map[string]float64 `json:"units"`
	Extra     map[string]float64 `json:"extra,omitempty"`
}

// Table is the hourly census over [Start, End).
type Table struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Units   []string  `json:"units"`
	Columns []string  `json:"columns,omitempty"`
	Rows    []Row     `json:"rows"`
}

// NewTable builds an empty census with one row per hour in [start, end).
func NewTable(start, end time.Time, units []string) *Table {
	t := &Table{
		Start: start,
		End:   end,
		Units: slices.Clone(units),
	}
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		row := Row{
			Timestamp: ts,
			Hour:      ts.Hour(),
			Weekday:   ts.Weekday().String(),
			Units:     make(map[string]float64, len(units)),
		}
		for _, u := range units {
			row.Units[u] = 0
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// AddColumn registers an extra column and zeroes it on every row. Adding an
// existing column is a no-op.
func (t *Table) AddColumn(name string) {
	if slices.Contains(t.Columns, name) {
		return
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		if t.Rows[i].Extra == nil {
			t.Rows[i].Extra = make(map[string]float64)
		}
		t.Rows[i].Extra[name] = 0
	}
}

// Timestamps returns the hourly axis.
func (t *Table) Timestamps() []time.Time {
	out := make([]time.Time, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Timestamp
	}
	return out
}

// Check verifies that every row's total equals the sum of its units.
func (t *Table) Check(eps float64) error {
	for _, r := range t.Rows {
		sum := 0.0
		for _, v := range r.Units {
			sum += v
		}
		if math.Abs(sum-r.Total) > eps {
			return fmt.Errorf("%w: %s total %.6f, unit sum %.6f", ErrCensusInvariant, r.Timestamp.Format(time.RFC3339), r.Total, sum)
		}
	}
	return nil
}

// CheckColumns verifies that every unit and model column has a distinct name
// outside ReservedColumns.
func (t *Table) CheckColumns() error {
	seen := make(map[string]string, len(ReservedColumns)+len(t.Units)+len(t.Columns))
	for _, c := range ReservedColumns {
		seen[c] = "reserved column"
	}
	for _, u := range t.Units {
		if what, ok := seen[u]; ok {
			return fmt.Errorf("%w: unit %q collides with %s", ErrColumnClash, u, what)
		}
		seen[u] = "unit"
	}
	for _, c := range t.Columns {
		if what, ok := seen[c]; ok {
			return fmt.Errorf("%w: model column %q collides with %s", ErrColumnClash, c, what)
		}
		seen[c] = "model column"
	}
	return nil
}
