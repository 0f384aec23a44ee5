package adtcsv

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/adt"
)

const header = "HAR,Admit Date,Admit Time,Arr Date,Arr Time,Disch Date,Disch Time,Disch Disp,Pt Class,Admit Dx,Primary Dx,Diagnosis,Event ID,Event Type,Eff Date,Eff Time,From Unit,To Unit,User,From Class,To Class,Location\n"

const sample = header +
	"1001,04/06/2021,09:15 AM,04/06/2021,08:40:00 AM,04/08/2021,11:00 AM,Home or Self Care,Inpatient,Sepsis,Sepsis,Fever,1,Admission,04/06/2021,09:15 AM,,5 WEST,jdoe,,Inpatient,IAH\n" +
	"1001,04/06/2021,09:15 AM,04/06/2021,08:40:00 AM,04/08/2021,11:00 AM,Home or Self Care,Inpatient,Sepsis,Sepsis,Fever,2,Transfer,04/07/2021,01:30:15 PM,5 WEST,ICU,jdoe,Inpatient,Inpatient,IAH\n" +
	"1001,04/06/2021,09:15 AM,04/06/2021,08:40:00 AM,04/08/2021,11:00 AM,Home or Self Care,Inpatient,Sepsis,Sepsis,Fever,2,Transfer,04/07/2021,01:30:15 PM,5 WEST,ICU,jdoe,Inpatient,Inpatient,IAH\n" +
	"2002,04/07/2021,10:00 PM,<NA>,<NA>,<NA>,<NA>,,Observation,,,,3,Admission,04/07/2021,10:00 PM,,ICU,asmith,,Observation,IAH\n"

func newTestSource(paths ...string) *Source {
	return NewSource(paths, adt.Synonyms{"5 WEST": "5W"}, nil, zerolog.Nop())
}

func TestRead(t *testing.T) {
	b := adt.NewDatasetBuilder()
	n, err := newTestSource().Read(strings.NewReader(sample), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 rows, got %d", n)
	}
	ds, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ds.Len() != 2 {
		t.Fatalf("expected 2 encounters, got %d", ds.Len())
	}
	if ds.EventCount() != 3 {
		t.Errorf("expected repeated event id merged, got %d events", ds.EventCount())
	}
	if !ds.Start.Equal(time.Date(2021, 4, 6, 0, 0, 0, 0, time.UTC)) || !ds.End.Equal(time.Date(2021, 4, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected window %s - %s", ds.Start, ds.End)
	}

	key := ds.Encounters()[0]
	enc, _ := ds.Encounter(key)
	if enc.HAR() != 1001 || !enc.AdmitDatetime().Equal(time.Date(2021, 4, 6, 9, 15, 0, 0, time.UTC)) {
		t.Errorf("unexpected encounter identity %s", enc.Key())
	}
	if enc.ArrivalDatetime == nil || enc.ArrivalDatetime.Hour() != 8 {
		t.Errorf("expected arrival at 08:40, got %v", enc.ArrivalDatetime)
	}
	if enc.DischargeDisposition != "Home or Self Care" || enc.EDDx != "Fever" {
		t.Errorf("unexpected encounter attributes: %+v", enc)
	}

	events := ds.Events(key)
	if events[0].ToUnit != "5W" || events[1].FromUnit != "5W" {
		t.Errorf("expected synonyms applied, got %q and %q", events[0].ToUnit, events[1].FromUnit)
	}
	if events[1].Type != adt.Transfer {
		t.Errorf("expected Transfer, got %s", events[1].Type)
	}
	if events[1].EffDatetime.Second() != 15 {
		t.Errorf("expected seconds kept, got %s", events[1].EffDatetime)
	}

	other, _ := ds.Encounter(ds.Encounters()[1])
	if other.ArrivalDatetime != nil || other.DischargeDatetime != nil {
		t.Error("expected <NA> to leave arrival and discharge unset")
	}
}

func TestRead_MissingColumn(t *testing.T) {
	_, err := newTestSource().Read(strings.NewReader("HAR,Admit Date\n1,04/06/2021\n"), adt.NewDatasetBuilder())
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestRead_BadRows(t *testing.T) {
	tests := []struct {
		name string
		row  string
	}{
		{"bad har", "x,04/06/2021,09:15 AM,<NA>,<NA>,<NA>,<NA>,,,,,,1,Admission,04/06/2021,09:15 AM,,ICU,,,,\n"},
		{"bad admit", "1,2021-04-06,09:15,<NA>,<NA>,<NA>,<NA>,,,,,,1,Admission,04/06/2021,09:15 AM,,ICU,,,,\n"},
		{"unknown type", "1,04/06/2021,09:15 AM,<NA>,<NA>,<NA>,<NA>,,,,,,1,Readmit,04/06/2021,09:15 AM,,ICU,,,,\n"},
		{"bad event id", "1,04/06/2021,09:15 AM,<NA>,<NA>,<NA>,<NA>,,,,,,one,Admission,04/06/2021,09:15 AM,,ICU,,,,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestSource().Read(strings.NewReader(header+tt.row), adt.NewDatasetBuilder())
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "row 2") {
				t.Errorf("expected error to name the row, got %v", err)
			}
		})
	}
}

func TestSource_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	rows := strings.Split(strings.TrimSuffix(sample, "\n"), "\n")
	if err := os.WriteFile(filepath.Join(dir, "a.csv"), []byte(header+rows[1]+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.csv"), []byte("\ufeff"+header+rows[2]+"\n"+rows[4]+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := newTestSource(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds.Len() != 2 || ds.EventCount() != 3 {
		t.Errorf("expected 2 encounters and 3 events, got %d and %d", ds.Len(), ds.EventCount())
	}
}

func TestSource_LoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := newTestSource(path).Load(context.Background())
	if !errors.Is(err, adt.ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	b := adt.NewDatasetBuilder()
	if _, err := newTestSource().Read(strings.NewReader(sample), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ds, _ := b.Build()

	var buf bytes.Buffer
	if err := Write(&buf, ds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b2 := adt.NewDatasetBuilder()
	if _, err := NewSource(nil, nil, nil, zerolog.Nop()).Read(&buf, b2); err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	back, _ := b2.Build()

	if back.Len() != ds.Len() || back.EventCount() != ds.EventCount() {
		t.Fatalf("round trip changed sizes: %d/%d vs %d/%d", back.Len(), back.EventCount(), ds.Len(), ds.EventCount())
	}
	for _, key := range ds.Encounters() {
		want := ds.Events(key)
		got := back.Events(key)
		if len(got) != len(want) {
			t.Fatalf("encounter %s: expected %d events, got %d", key, len(want), len(got))
		}
		for i := range want {
			if !sameEvent(got[i], want[i]) {
				t.Errorf("encounter %s event %d: expected %+v, got %+v", key, i, want[i], got[i])
			}
		}
		wantEnc, _ := ds.Encounter(key)
		gotEnc, _ := back.Encounter(key)
		if (wantEnc.ArrivalDatetime == nil) != (gotEnc.ArrivalDatetime == nil) {
			t.Errorf("encounter %s: arrival lost in round trip", key)
		}
	}
}

func sameEvent(a, b adt.Event) bool {
	return a.ID() == b.ID() &&
		a.EffDatetime.Equal(b.EffDatetime) &&
		a.Type == b.Type &&
		a.FromUnit == b.FromUnit &&
		a.ToUnit == b.ToUnit &&
		a.FromClass == b.FromClass &&
		a.ToClass == b.ToClass &&
		a.User == b.User &&
		a.Location == b.Location
}
