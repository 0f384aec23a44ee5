package stay

import (
	"time"

	"github.com/ehr/census/internal/domain/adt"
)

// EffectiveDate is when an event took effect. An admission of a patient who
// arrived through the ED counts from the earlier of arrival and admission.
func EffectiveDate(enc adt.Encounter, ev adt.Event) time.Time {
	if ev.Type == adt.Admission && enc.ArrivalDatetime != nil && enc.ArrivalDatetime.Before(ev.EffDatetime) {
		return *enc.ArrivalDatetime
	}
	return ev.EffDatetime
}

// Process sanitizes the events of one encounter and derives its stays.
func Process(enc adt.Encounter, events []adt.Event, windowStart, windowEnd time.Time) ([]Stay, error) {
	stays, _, err := ProcessCounted(enc, events, windowStart, windowEnd)
	return stays, err
}

// ProcessCounted is Process that also reports what each sanitizer stage did.
func ProcessCounted(enc adt.Encounter, events []adt.Event, windowStart, windowEnd time.Time) ([]Stay, adt.SanitizeCounts, error) {
	chain, counts, err := adt.SanitizeCounted(enc, events)
	if err != nil {
		return nil, counts, err
	}
	return Derive(enc, chain, windowStart, windowEnd), counts, nil
}

// Derive emits the stays of a sanitized event chain within the observation
// window [windowStart, windowEnd).
func Derive(enc adt.Encounter, events []adt.Event, windowStart, windowEnd time.Time) []Stay {
	if len(events) == 0 {
		return nil
	}
	stays := make([]Stay, 0, len(events)+1)

	newStay := func(unit string, start, end time.Time, status Status) Stay {
		return Stay{
			HAR:            enc.HAR(),
			DischargeClass: enc.DischargeClass,
			Unit:           unit,
			Start:          start,
			End:            end,
			Hours:          hoursBetween(start, end),
			Status:         status,
		}
	}

	first := events[0]
	if eff := EffectiveDate(enc, first); first.Type != adt.Admission && windowStart.Before(eff) {
		s := newStay(first.FromUnit, windowStart, eff, StatusInHouseAtStart)
		s.CameFrom = Unknown
		s.ArrivedAs = Unknown
		s.WentTo = destination(enc, first)
		s.LeftAs = first.FromClass
		stays = append(stays, s)
	}

	for i := 0; i+1 < len(events); i++ {
		cur, next := events[i], events[i+1]
		start := EffectiveDate(enc, cur)
		if start.Before(windowStart) {
			start = windowStart
		}
		s := newStay(cur.ToUnit, start, next.EffDatetime, StatusComplete)
		s.CameFrom = origin(cur)
		s.WentTo = destination(enc, next)
		s.ArrivedAs = cur.ToClass
		s.LeftAs = next.FromClass
		stays = append(stays, s)
	}

	last := events[len(events)-1]
	if eff := EffectiveDate(enc, last); last.Type != adt.Discharge && eff.Before(windowEnd) {
		s := newStay(last.ToUnit, eff, windowEnd, StatusInHouseAtEnd)
		s.CameFrom = last.FromUnit
		prev := last
		if len(events) > 1 {
			prev = events[len(events)-2]
		}
		if prev.Type == adt.Admission {
			s.CameFrom = HomeOrSelfCare
		}
		s.WentTo = Unknown
		s.ArrivedAs = last.ToClass
		s.LeftAs = Unknown
		stays = append(stays, s)
	}

	return stays
}

func origin(ev adt.Event) string {
	if ev.Type == adt.Admission {
		return HomeOrSelfCare
	}
	return ev.FromUnit
}

func destination(enc adt.Encounter, ev adt.Event) string {
	if ev.Type == adt.Discharge {
		return enc.DischargeDisposition
	}
	return ev.ToUnit
}

func hoursBetween(start, end time.Time) float64 {
	if end.Before(start) {
		return 0
	}
	return end.Sub(start).Hours()
}
