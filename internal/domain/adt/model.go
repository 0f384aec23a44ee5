package adt

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType is the closed set of ADT transaction kinds.
type EventType string

const (
	Admission EventType = "Admission"
	Discharge EventType = "Discharge"
	Transfer  EventType = "Transfer"
	Update    EventType = "Update"
)

var eventTypes = []EventType{Admission, Discharge, Transfer, Update}

var (
	ErrUnknownEventType = errors.New("adt: unknown event type")
	ErrEmptyDataset     = errors.New("adt: dataset has no events")
)

// ParseEventType classifies a raw event type. The match is exact and
// case-insensitive so that one type name prefixing another cannot be
// misclassified.
func ParseEventType(raw string) (EventType, error) {
	s := strings.TrimSpace(raw)
	for _, t := range eventTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
}

// EncounterKey identifies an encounter. Two records with the same HAR and
// admit time are the same encounter even if other attributes differ.
type EncounterKey struct {
	HAR   int64
	Admit time.Time
}

// Compare orders keys by HAR, then admit time.
func (k EncounterKey) Compare(o EncounterKey) int {
	if c := cmp.Compare(k.HAR, o.HAR); c != 0 {
		return c
	}
	return k.Admit.Compare(o.Admit)
}

// Equal reports whether both keys name the same encounter.
func (k EncounterKey) Equal(o EncounterKey) bool {
	return k.HAR == o.HAR && k.Admit.Equal(o.Admit)
}

func (k EncounterKey) String() string {
	return fmt.Sprintf("%d@%s", k.HAR, k.Admit.Format(time.RFC3339))
}

// Encounter is one hospital visit.
type Encounter struct {
	har   int64
	admit time.Time

	ArrivalDatetime      *time.Time // nil unless the patient came through the ED
	DischargeDatetime    *time.Time // nil while still in-house
	DischargeDisposition string
	DischargeClass       string
	AdmitDx              string
	PrimaryDx            string
	EDDx                 string
}

// NewEncounter creates an encounter with its write-once identity.
func NewEncounter(har int64, admit time.Time) Encounter {
	return Encounter{har: har, admit: admit}
}

func (e Encounter) HAR() int64 { return e.har }

func (e Encounter) AdmitDatetime() time.Time { return e.admit }

// Key returns the identity of the encounter.
func (e Encounter) Key() EncounterKey { return EncounterKey{HAR: e.har, Admit: e.admit} }

// merge fills optional attributes that are still empty on e from o.
func (e *Encounter) merge(o Encounter) {
	if e.ArrivalDatetime == nil {
		e.ArrivalDatetime = o.ArrivalDatetime
	}
	if e.DischargeDatetime == nil {
		e.DischargeDatetime = o.DischargeDatetime
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&e.DischargeDisposition, o.DischargeDisposition)
	fill(&e.DischargeClass, o.DischargeClass)
	fill(&e.AdmitDx, o.AdmitDx)
	fill(&e.PrimaryDx, o.PrimaryDx)
	fill(&e.EDDx, o.EDDx)
}

// Event is one ADT transaction. Events are equal when their IDs are equal.
type Event struct {
	id int64

	EffDatetime time.Time
	Type        EventType
	FromUnit    string
	ToUnit      string
	FromClass   string
	ToClass     string
	User        string
	Location    string
}

// EventFields carries the mutable attributes of an event at construction.
type EventFields struct {
	EffDatetime time.Time
	Type        string
	FromUnit    string
	ToUnit      string
	FromClass   string
	ToClass     string
	User        string
	Location    string
}

// NewEvent builds an event, classifying its raw type. An unrecognized type
// is a construction error.
func NewEvent(id int64, f EventFields) (Event, error) {
	t, err := ParseEventType(f.Type)
	if err != nil {
		return Event{}, fmt.Errorf("event %d: %w", id, err)
	}
	return Event{
		id:          id,
		EffDatetime: f.EffDatetime,
		Type:        t,
		FromUnit:    f.FromUnit,
		ToUnit:      f.ToUnit,
		FromClass:   f.FromClass,
		ToClass:     f.ToClass,
		User:        f.User,
		Location:    f.Location,
	}, nil
}

func (e Event) ID() int64 { return e.id }

// Compare orders events by ID.
func (e Event) Compare(o Event) int { return cmp.Compare(e.id, o.id) }
