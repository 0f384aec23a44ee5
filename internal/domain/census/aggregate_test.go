package census

import (
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/ehr/census/internal/domain/stay"
)

var (
	day   = time.Date(2021, 4, 6, 0, 0, 0, 0, time.UTC)
	later = day.AddDate(0, 0, 1)
)

func clock(hour, min int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute)
}

func newStay(unit string, start, end time.Time) stay.Stay {
	return stay.Stay{HAR: 1, Unit: unit, Start: start, End: end, Hours: end.Sub(start).Hours()}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestIndexAtOrBefore(t *testing.T) {
	axis := []time.Time{clock(0, 0), clock(1, 0), clock(2, 0), clock(3, 0)}

	cases := []struct {
		target time.Time
		want   int
	}{
		{clock(0, 0), 0},
		{clock(1, 30), 1},
		{clock(2, 0), 2},
		{clock(9, 0), 3},
		{day.Add(-time.Hour), 0},
	}
	for _, tc := range cases {
		if got := IndexAtOrBefore(axis, tc.target); got != tc.want {
			t.Errorf("IndexAtOrBefore(%s) = %d, want %d", tc.target.Format("15:04"), got, tc.want)
		}
	}
}

func TestOverlap(t *testing.T) {
	if got := Overlap(clock(9, 0), clock(9, 30), clock(11, 15)); !near(got, 0.5) {
		t.Errorf("expected 0.5, got %v", got)
	}
	if got := Overlap(clock(12, 0), clock(9, 30), clock(11, 15)); got != 0 {
		t.Errorf("expected 0 for disjoint bucket, got %v", got)
	}
	if got := Overlap(clock(9, 0), clock(9, 30), clock(9, 30)); got != 0 {
		t.Errorf("expected 0 for zero-length stay, got %v", got)
	}
}

func TestAggregate_PartialHours(t *testing.T) {
	stays := []stay.Stay{newStay("ICU", clock(9, 30), clock(11, 15))}

	table, err := Aggregate(day, later, stays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Rows) != 24 {
		t.Fatalf("expected 24 hourly rows, got %d", len(table.Rows))
	}

	want := map[int]float64{9: 0.5, 10: 1.0, 11: 0.25}
	for i, r := range table.Rows {
		if !near(r.Units["ICU"], want[i]) {
			t.Errorf("hour %d: expected %v, got %v", i, want[i], r.Units["ICU"])
		}
		if !near(r.Total, want[i]) {
			t.Errorf("hour %d: expected total %v, got %v", i, want[i], r.Total)
		}
	}
	if table.Rows[9].Weekday != "Tuesday" || table.Rows[9].Hour != 9 {
		t.Errorf("unexpected row labels: %+v", table.Rows[9])
	}
}

func TestAggregate_TotalsMatchUnitSums(t *testing.T) {
	stays := []stay.Stay{
		newStay("ICU", day.Add(-5*time.Hour), clock(3, 20)),
		newStay("MedSurg", clock(3, 20), clock(17, 45)),
		newStay("ED", clock(2, 10), clock(2, 50)),
		newStay("ICU", clock(22, 0), later.Add(4*time.Hour)),
		newStay("ED", clock(6, 0), clock(6, 0)),
	}
	table, err := Aggregate(day, later, stays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := table.Check(1e-9); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(table.Units, []string{"ED", "ICU", "MedSurg"}) {
		t.Errorf("unexpected units: %v", table.Units)
	}

	total := 0.0
	for _, r := range table.Rows {
		total += r.Total
	}
	// Hours inside the window: 3h20m + 14h25m + 40m + 2h.
	if want := 3.0 + 20.0/60 + 14 + 25.0/60 + 40.0/60 + 2; !near(total, want) {
		t.Errorf("expected %v census hours, got %v", want, total)
	}
}

func TestAggregate_StayOutsideWindow(t *testing.T) {
	stays := []stay.Stay{newStay("ICU", later.Add(2*time.Hour), later.Add(5*time.Hour))}
	table, err := Aggregate(day, later, stays)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range table.Rows {
		if r.Total != 0 {
			t.Fatalf("expected empty census, got %v at %s", r.Total, r.Timestamp)
		}
	}
}

type recordingModel struct {
	calls    []string
	variable int
	fixed    int
}

func (m *recordingModel) Initialize(t *Table) error {
	m.calls = append(m.calls, "initialize")
	t.AddColumn("seen")
	return nil
}

func (m *recordingModel) AddVariableStaff(hours float64, t *Table, bucket int, stays []stay.Stay, s int) {
	if m.variable == 0 {
		m.calls = append(m.calls, "variable")
	}
	m.variable++
	t.Rows[bucket].Extra["seen"] += hours
}

func (m *recordingModel) AddFixedStaff(t *Table, bucket int) {
	if m.fixed == 0 {
		m.calls = append(m.calls, "fixed")
	}
	m.fixed++
}

func (m *recordingModel) Finalize(t *Table) error {
	m.calls = append(m.calls, "finalize")
	return nil
}

func TestAggregate_HookOrder(t *testing.T) {
	m := &recordingModel{}
	stays := []stay.Stay{newStay("ICU", clock(9, 30), clock(11, 15))}

	table, err := Aggregate(day, later, stays, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(m.calls, []string{"initialize", "variable", "fixed", "finalize"}) {
		t.Errorf("unexpected hook order: %v", m.calls)
	}
	if m.variable != 3 {
		t.Errorf("expected 3 variable calls, got %d", m.variable)
	}
	if m.fixed != 24 {
		t.Errorf("expected 24 fixed calls, got %d", m.fixed)
	}
	if !near(table.Rows[11].Extra["seen"], 0.25) {
		t.Errorf("expected model to see 0.25h, got %v", table.Rows[11].Extra["seen"])
	}
}

func TestRatioModel(t *testing.T) {
	m, err := NewRatioModel(RatioSpec{
		Name: "RN",
		Units: map[string]UnitRatio{
			"ICU":     {PatientsPerStaff: 2, FixedStaff: 1},
			"MedSurg": {PatientsPerStaff: 5},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stays := []stay.Stay{
		newStay("ICU", clock(8, 0), clock(10, 0)),
		newStay("ICU", clock(8, 0), clock(9, 0)),
		newStay("ICU", clock(8, 30), clock(9, 0)),
		newStay("MedSurg", clock(8, 0), clock(9, 0)),
	}
	table, err := Aggregate(day, later, stays, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row := table.Rows[8]
	// 2.5 ICU patients / 2 + 1 MedSurg patient / 5
	if !near(row.Extra[m.VariableColumn()], 1.25+0.2) {
		t.Errorf("unexpected variable staff: %v", row.Extra[m.VariableColumn()])
	}
	if !near(row.Extra[m.FixedColumn()], 1) {
		t.Errorf("unexpected fixed staff: %v", row.Extra[m.FixedColumn()])
	}
	if row.Extra[m.TotalColumn()] != 3 {
		t.Errorf("expected total rounded up to 3, got %v", row.Extra[m.TotalColumn()])
	}
	if table.Rows[0].Extra[m.TotalColumn()] != 1 {
		t.Errorf("expected fixed staff only at midnight, got %v", table.Rows[0].Extra[m.TotalColumn()])
	}
}

func TestNewRatioModel_Validation(t *testing.T) {
	if _, err := NewRatioModel(RatioSpec{}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := NewRatioModel(RatioSpec{Name: "RN", Units: map[string]UnitRatio{"ICU": {PatientsPerStaff: -1}}}); err == nil {
		t.Error("expected error for negative ratio")
	}
}

func TestAggregate_ColumnClash(t *testing.T) {
	if _, err := Aggregate(day, later, []stay.Stay{newStay(TotalColumn, clock(1, 0), clock(2, 0))}); !errors.Is(err, ErrColumnClash) {
		t.Errorf("expected ErrColumnClash for a unit named %q, got %v", TotalColumn, err)
	}
	if _, err := Aggregate(day, later, []stay.Stay{newStay("Hour", clock(1, 0), clock(2, 0))}); !errors.Is(err, ErrColumnClash) {
		t.Errorf("expected ErrColumnClash for a unit named Hour, got %v", err)
	}

	m, err := NewRatioModel(RatioSpec{Name: "RN"})
	if err != nil {
		t.Fatal(err)
	}
	stays := []stay.Stay{newStay("RN Total", clock(1, 0), clock(2, 0))}
	if _, err := Aggregate(day, later, stays, m); !errors.Is(err, ErrColumnClash) {
		t.Errorf("expected ErrColumnClash for a unit named like a model column, got %v", err)
	}
	if _, err := Aggregate(day, later, stays); err != nil {
		t.Errorf("expected the same unit to pass without the model, got %v", err)
	}
}

func TestTable_CheckReportsMismatch(t *testing.T) {
	table, err := Aggregate(day, later, []stay.Stay{newStay("ICU", clock(1, 0), clock(2, 0))})
	if err != nil {
		t.Fatal(err)
	}
	if err := table.Check(1e-9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	table.Rows[1].Units["ICU"] = 0.25
	if err := table.Check(1e-9); !errors.Is(err, ErrCensusInvariant) {
		t.Errorf("expected ErrCensusInvariant, got %v", err)
	}
}
