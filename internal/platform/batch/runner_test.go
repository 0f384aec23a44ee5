package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/adt"
	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/domain/stay"
)

func ts(day, hour int) time.Time {
	return time.Date(2021, 5, day, hour, 0, 0, 0, time.UTC)
}

func addEvent(t *testing.T, b *adt.DatasetBuilder, enc adt.Encounter, id int64, typ string, eff time.Time, from, to string) {
	t.Helper()
	ev, err := adt.NewEvent(id, adt.EventFields{
		EffDatetime: eff, Type: typ, FromUnit: from, ToUnit: to,
		FromClass: "Inpatient", ToClass: "Inpatient",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Add(enc, ev)
}

// testDataset has one clean encounter, one with a missing transfer and one
// that only carries updates.
func testDataset(t *testing.T) *adt.Dataset {
	t.Helper()
	b := adt.NewDatasetBuilder()

	good := adt.NewEncounter(100, ts(1, 8))
	good.DischargeDisposition = "Home or Self Care"
	addEvent(t, b, good, 1, "Admission", ts(1, 8), "", "ED")
	addEvent(t, b, good, 2, "Transfer", ts(1, 12), "ED", "ICU")
	addEvent(t, b, good, 3, "Discharge", ts(2, 10), "ICU", "")

	bad := adt.NewEncounter(200, ts(1, 9))
	addEvent(t, b, bad, 4, "Admission", ts(1, 9), "", "ED")
	addEvent(t, b, bad, 5, "Transfer", ts(1, 15), "MedSurg", "ICU")

	quiet := adt.NewEncounter(300, ts(1, 10))
	addEvent(t, b, quiet, 6, "Update", ts(1, 11), "ICU", "ICU")

	ds, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ds
}

func TestRunner_SkipAndContinue(t *testing.T) {
	r := NewRunner(Options{Workers: 3}, zerolog.Nop())
	res, err := r.Run(context.Background(), testDataset(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Encounters != 3 {
		t.Errorf("expected 3 encounters, got %d", res.Encounters)
	}
	if len(res.Stays) != 2 {
		t.Fatalf("expected 2 stays, got %d", len(res.Stays))
	}
	if res.Stays[0].Unit != "ED" || res.Stays[1].Unit != "ICU" {
		t.Errorf("expected stays ordered by start, got %s then %s", res.Stays[0].Unit, res.Stays[1].Unit)
	}
	if len(res.Rejections) != 1 || res.Rejections[0].HAR != 200 {
		t.Fatalf("expected HAR 200 rejected, got %+v", res.Rejections)
	}
	if res.Rejections[0].Table == "" {
		t.Error("expected rejection to carry the event table")
	}
	if err := res.Census.Check(1e-9); err != nil {
		t.Fatal(err)
	}

	total := 0.0
	for _, row := range res.Census.Rows {
		total += row.Total
	}
	if total != 26 {
		t.Errorf("expected 26 patient hours, got %v", total)
	}
}

func TestRunner_FailFast(t *testing.T) {
	r := NewRunner(Options{Workers: 2, Policy: FailFast}, zerolog.Nop())
	_, err := r.Run(context.Background(), testDataset(t))
	if !errors.Is(err, adt.ErrInconsistentChain) {
		t.Fatalf("expected ErrInconsistentChain, got %v", err)
	}
}

func TestRunner_WorkerCountDoesNotChangeResult(t *testing.T) {
	ds := testDataset(t)
	one, err := NewRunner(Options{Workers: 1}, zerolog.Nop()).Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	many, err := NewRunner(Options{Workers: 8}, zerolog.Nop()).Run(context.Background(), ds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(one.Stays) != len(many.Stays) {
		t.Fatalf("stay counts differ: %d vs %d", len(one.Stays), len(many.Stays))
	}
	for i := range one.Stays {
		if one.Stays[i] != many.Stays[i] {
			t.Errorf("stay %d differs: %+v vs %+v", i, one.Stays[i], many.Stays[i])
		}
	}
}

func TestRunner_RunsStaffingModels(t *testing.T) {
	m, err := census.NewRatioModel(census.RatioSpec{
		Name:  "RN",
		Units: map[string]census.UnitRatio{"ICU": {PatientsPerStaff: 2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := NewRunner(Options{Models: []census.StaffingModel{m}}, zerolog.Nop())
	res, err := r.Run(context.Background(), testDataset(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row := res.Census.Rows[13] // 13:00 on day one, patient in ICU
	if row.Extra[m.VariableColumn()] != 0.5 {
		t.Errorf("expected 0.5 variable staff, got %v", row.Extra[m.VariableColumn()])
	}
}

type stubSource struct {
	ds  *adt.Dataset
	err error
}

func (s stubSource) Load(ctx context.Context) (*adt.Dataset, error) { return s.ds, s.err }

type stubSink struct {
	written []*Result
	closed  bool
}

func (s *stubSink) Name() string { return "stub" }

func (s *stubSink) Write(ctx context.Context, res *Result) error {
	s.written = append(s.written, res)
	return nil
}

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func TestPipeline_Execute(t *testing.T) {
	sink := &stubSink{}
	p := NewPipeline(stubSource{ds: testDataset(t)}, NewRunner(Options{}, zerolog.Nop()), []Sink{sink}, nil, zerolog.Nop())

	if _, err := p.Store().Latest(); !errors.Is(err, ErrNoRun) {
		t.Fatalf("expected ErrNoRun before first run, got %v", err)
	}

	res, err := p.Execute(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.written) != 1 || sink.written[0] != res {
		t.Error("expected result to be written to sink")
	}
	latest, err := p.Store().Latest()
	if err != nil || latest != res {
		t.Errorf("expected store to hold the result, got %v, %v", latest, err)
	}
	if err := p.Close(); err != nil || !sink.closed {
		t.Errorf("expected sink closed, got %v", err)
	}
}

func TestPipeline_SourceError(t *testing.T) {
	p := NewPipeline(stubSource{err: errors.New("boom")}, NewRunner(Options{}, zerolog.Nop()), nil, nil, zerolog.Nop())
	if _, err := p.Execute(context.Background()); err == nil {
		t.Fatal("expected source error")
	}
}

// skewModel breaks the total-equals-unit-sum rule in Finalize.
type skewModel struct{}

func (skewModel) Initialize(t *census.Table) error { return nil }
func (skewModel) AddVariableStaff(float64, *census.Table, int, []stay.Stay, int) {}
func (skewModel) AddFixedStaff(*census.Table, int) {}
func (skewModel) Finalize(t *census.Table) error {
	t.Rows[len(t.Rows)-1].Total += 1
	return nil
}

func TestRunner_CensusInvariantAborts(t *testing.T) {
	r := NewRunner(Options{Models: []census.StaffingModel{skewModel{}}}, zerolog.Nop())
	res, err := r.Run(context.Background(), testDataset(t))
	if !errors.Is(err, census.ErrCensusInvariant) {
		t.Fatalf("expected ErrCensusInvariant, got %v", err)
	}
	if res != nil {
		t.Error("expected no result from a run that broke the census invariant")
	}
}

func TestRunner_UnitNamedLikeTotalColumn(t *testing.T) {
	b := adt.NewDatasetBuilder()
	enc := adt.NewEncounter(100, ts(1, 8))
	addEvent(t, b, enc, 1, "Admission", ts(1, 8), "", census.TotalColumn)
	ds, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewRunner(Options{}, zerolog.Nop()).Run(context.Background(), ds)
	if !errors.Is(err, census.ErrColumnClash) {
		t.Fatalf("expected ErrColumnClash, got %v", err)
	}
}
