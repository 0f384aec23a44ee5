package adt

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInconsistentChain marks event chains that cannot be repaired.
	ErrInconsistentChain = errors.New("adt: inconsistent event chain")
	// ErrSanitizerInvariant marks a chain state the cleaning stages should
	// have made impossible.
	ErrSanitizerInvariant = errors.New("adt: sanitizer invariant violated")
)

// ChainError reports why an encounter's events failed validation.
type ChainError struct {
	Key    EncounterKey
	Reason string
	Table  string
	Err    error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("encounter %s: %s\n%s", e.Key, e.Reason, e.Table)
}

func (e *ChainError) Unwrap() error { return e.Err }

// SanitizeCounts records how many events each stage removed.
type SanitizeCounts struct {
	Filtered   int
	Duplicates int
	Cancelled  int
	Reordered  int
}

// Sanitize turns the raw events of one encounter into an ordered, validated
// chain. A nil chain with a nil error means the encounter has nothing left to
// derive stays from.
func Sanitize(enc Encounter, events []Event) ([]Event, error) {
	out, _, err := SanitizeCounted(enc, events)
	return out, err
}

// SanitizeCounted is Sanitize that also reports per-stage removals.
func SanitizeCounted(enc Encounter, events []Event) ([]Event, SanitizeCounts, error) {
	var counts SanitizeCounts

	chain := FilterAndSort(events)
	counts.Filtered = len(events) - len(chain)
	if len(chain) == 0 {
		return nil, counts, nil
	}

	n := len(chain)
	chain = RemoveDuplicates(chain)
	counts.Duplicates = n - len(chain)

	n = len(chain)
	chain = RemoveCancellations(chain)
	counts.Cancelled = n - len(chain)
	if len(chain) == 0 {
		return nil, counts, nil
	}

	chain, counts.Reordered = Reorder(chain)

	if err := Validate(enc, chain); err != nil {
		return nil, counts, err
	}
	return chain, counts, nil
}

// FilterAndSort drops updates and self-loop movements, then stable sorts by
// effective time so ties keep their input order.
func FilterAndSort(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Type == Update || ev.FromUnit == ev.ToUnit {
			continue
		}
		out = append(out, ev)
	}
	slices.SortStableFunc(out, func(a, b Event) int {
		return a.EffDatetime.Compare(b.EffDatetime)
	})
	return out
}

func duplicates(a, b Event) bool {
	return a.EffDatetime.Equal(b.EffDatetime) &&
		a.Type == b.Type &&
		a.FromUnit == b.FromUnit &&
		a.ToUnit == b.ToUnit
}

// RemoveDuplicates keeps the first of every set of events that share
// effective time, type and units.
func RemoveDuplicates(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if slices.ContainsFunc(out, func(kept Event) bool { return duplicates(kept, ev) }) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func cancels(a, b Event) bool {
	return a.EffDatetime.Equal(b.EffDatetime) &&
		a.Type == b.Type &&
		a.FromUnit == b.ToUnit &&
		a.ToUnit == b.FromUnit
}

// RemoveCancellations deletes mirrored pairs of same-time movements. Both
// events of a pair go together and the search starts over, since a removal
// can bring a new cancelling pair together.
func RemoveCancellations(events []Event) []Event {
	out := slices.Clone(events)
	for {
		i, j, ok := findCancellingPair(out)
		if !ok {
			return out
		}
		out = slices.Delete(out, j, j+1)
		out = slices.Delete(out, i, i+1)
	}
}

func findCancellingPair(events []Event) (int, int, bool) {
	for i := range events {
		for j := i + 1; j < len(events); j++ {
			if cancels(events[i], events[j]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// outOfOrder reports whether b, recorded after a at the same instant, must
// have happened first: b moves the patient into a's origin while a does not
// lead into b's origin.
func outOfOrder(a, b Event) bool {
	return a.EffDatetime.Equal(b.EffDatetime) &&
		a.FromUnit == b.ToUnit &&
		a.ToUnit != b.FromUnit
}

// Reorder moves same-time events that were recorded in swapped order so that
// each one leads into the next. It returns the number of moves made. Rotation
// cycles among same-time events are cut off after len(events)^2 moves and
// left for Validate to report.
func Reorder(events []Event) ([]Event, int) {
	out := slices.Clone(events)
	budget := len(out) * len(out)
	moves := 0
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if !outOfOrder(out[i], out[j]) {
				continue
			}
			if moves == budget {
				return out, moves
			}
			ev := out[j]
			out = slices.Delete(out, j, j+1)
			out = slices.Insert(out, i, ev)
			moves++
			j = i
		}
	}
	return out, moves
}

// Validate checks a cleaned chain against the consistency rules.
func Validate(enc Encounter, events []Event) error {
	fail := func(sentinel error, reason string) error {
		return &ChainError{
			Key:    enc.Key(),
			Reason: reason,
			Table:  FormatEventTable(enc, events),
			Err:    sentinel,
		}
	}

	last := len(events) - 1
	for i, ev := range events {
		if ev.Type == Update {
			return fail(ErrSanitizerInvariant, fmt.Sprintf("event %d: update event survived filtering", ev.id))
		}
		if ev.FromUnit == ev.ToUnit && ev.FromClass == ev.ToClass {
			return fail(ErrInconsistentChain, fmt.Sprintf("event %d: from unit equals to unit and from class equals to class", ev.id))
		}
		if ev.Type == Admission && i != 0 {
			return fail(ErrInconsistentChain, fmt.Sprintf("event %d: admission is not the first event", ev.id))
		}
		if ev.Type == Discharge && i != last {
			return fail(ErrInconsistentChain, fmt.Sprintf("event %d: discharge is not the last event", ev.id))
		}
		if i == last {
			break
		}
		next := events[i+1]
		if ev.EffDatetime.After(next.EffDatetime) {
			return fail(ErrInconsistentChain, fmt.Sprintf("events %d and %d: effective dates are not in chronological order", ev.id, next.id))
		}
		if ev.ToUnit != next.FromUnit {
			return fail(ErrInconsistentChain, fmt.Sprintf("events %d and %d: missing transfer from %q to %q", ev.id, next.id, ev.ToUnit, next.FromUnit))
		}
	}
	return nil
}
