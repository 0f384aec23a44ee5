package adt

import (
	"context"
	"slices"
	"time"
)

// Source produces a fully typed dataset for one batch.
type Source interface {
	Load(ctx context.Context) (*Dataset, error)
}

// Dataset is the batch of encounters and their events together with the
// observation window [Start, End).
type Dataset struct {
	Start time.Time
	End   time.Time

	keys       []EncounterKey
	encounters map[EncounterKey]*entry
}

type entry struct {
	enc    Encounter
	events []Event
}

// Encounters returns the encounter keys in key order.
func (d *Dataset) Encounters() []EncounterKey {
	return slices.Clone(d.keys)
}

// Encounter returns the encounter for key.
func (d *Dataset) Encounter(key EncounterKey) (Encounter, bool) {
	e, ok := d.encounters[normalizeKey(key)]
	if !ok {
		return Encounter{}, false
	}
	return e.enc, true
}

// Events returns a copy of the events recorded for key, in insertion order.
func (d *Dataset) Events(key EncounterKey) []Event {
	e, ok := d.encounters[normalizeKey(key)]
	if !ok {
		return nil
	}
	return slices.Clone(e.events)
}

// Len returns the number of encounters.
func (d *Dataset) Len() int { return len(d.keys) }

// EventCount returns the number of distinct events across all encounters.
func (d *Dataset) EventCount() int {
	n := 0
	for _, e := range d.encounters {
		n += len(e.events)
	}
	return n
}

// DatasetBuilder accumulates (encounter, event) pairs from one or more
// record sources.
type DatasetBuilder struct {
	order      []EncounterKey
	encounters map[EncounterKey]*entry
	seen       map[int64]EncounterKey
	min, max   time.Time
}

func NewDatasetBuilder() *DatasetBuilder {
	return &DatasetBuilder{
		encounters: make(map[EncounterKey]*entry),
		seen:       make(map[int64]EncounterKey),
	}
}

// Add records ev under enc. An event ID seen before is the same event and is
// ignored; encounter attributes missing on the first record are filled from
// later ones.
func (b *DatasetBuilder) Add(enc Encounter, ev Event) {
	key := normalizeKey(enc.Key())
	e, ok := b.encounters[key]
	if !ok {
		e = &entry{enc: enc}
		b.encounters[key] = e
		b.order = append(b.order, key)
	} else {
		e.enc.merge(enc)
	}

	if _, dup := b.seen[ev.id]; dup {
		return
	}
	b.seen[ev.id] = key
	e.events = append(e.events, ev)

	if b.min.IsZero() || ev.EffDatetime.Before(b.min) {
		b.min = ev.EffDatetime
	}
	if b.max.IsZero() || ev.EffDatetime.After(b.max) {
		b.max = ev.EffDatetime
	}
}

// Build freezes the builder into a dataset. The window runs from midnight of
// the earliest effective date to midnight after the latest one.
func (b *DatasetBuilder) Build() (*Dataset, error) {
	ds := &Dataset{
		keys:       slices.Clone(b.order),
		encounters: b.encounters,
	}
	slices.SortFunc(ds.keys, EncounterKey.Compare)
	if len(b.seen) == 0 {
		return ds, ErrEmptyDataset
	}
	ds.Start = floorDay(b.min)
	ds.End = floorDay(b.max).AddDate(0, 0, 1)
	return ds, nil
}

func floorDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// normalizeKey maps equal instants onto one map key whatever their zone or
// monotonic reading.
func normalizeKey(k EncounterKey) EncounterKey {
	k.Admit = k.Admit.Round(0).UTC()
	return k
}
