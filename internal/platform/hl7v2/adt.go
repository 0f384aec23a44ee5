package hl7v2

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/adt"
)

// ErrUnsupportedTrigger is returned for ADT trigger events that do not move a
// patient, such as merges and cancelled admissions.
var ErrUnsupportedTrigger = errors.New("hl7v2: unsupported trigger event")

// triggerTypes maps ADT trigger events onto event types. A12 (cancel
// transfer) carries the reverted location in PV1-3 and the cancelled one in
// PV1-6, so it reads as the mirror of the transfer it cancels.
var triggerTypes = map[string]adt.EventType{
	"A01": adt.Admission,
	"A04": adt.Admission,
	"A02": adt.Transfer,
	"A12": adt.Transfer,
	"A03": adt.Discharge,
	"A08": adt.Update,
	"A31": adt.Update,
}

// ToADT maps an ADT message onto its encounter and event. Timestamps without
// an offset are read in loc.
//
//	PV1-19  HAR              PV1-44  admit datetime
//	PV1-45  discharge        PV1-36  discharge disposition
//	PV1-2   patient class    PV1-3   current unit
//	PV1-6   prior unit       EVN-6   effective time (EVN-2, MSH-7)
//	EVN-5   user             MSH-10  event id
func ToADT(msg *Message, loc *time.Location) (adt.Encounter, adt.Event, error) {
	trigger := msg.Trigger()
	typ, ok := triggerTypes[trigger]
	if !ok {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("%w: %q", ErrUnsupportedTrigger, trigger)
	}

	pv1 := msg.GetSegment("PV1")
	if pv1 == nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("hl7v2: message %s has no PV1 segment", msg.ControlID)
	}
	evn := msg.GetSegment("EVN")
	if evn == nil {
		evn = &Segment{Name: "EVN"}
	}

	har, err := strconv.ParseInt(strings.TrimSpace(pv1.GetComponent(19, 1)), 10, 64)
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("hl7v2: message %s: PV1-19 visit number: %w", msg.ControlID, err)
	}
	admit, err := ParseTimestamp(pv1.GetField(44), loc)
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("hl7v2: message %s: PV1-44 admit datetime: %w", msg.ControlID, err)
	}
	enc := adt.NewEncounter(har, admit)
	if v := pv1.GetField(45); v != "" {
		t, err := ParseTimestamp(v, loc)
		if err != nil {
			return adt.Encounter{}, adt.Event{}, fmt.Errorf("hl7v2: message %s: PV1-45 discharge datetime: %w", msg.ControlID, err)
		}
		enc.DischargeDatetime = &t
	}
	class := pv1.GetComponent(2, 1)
	enc.DischargeDisposition = displayOf(pv1, 36)
	enc.DischargeClass = class
	setDiagnoses(msg, &enc)

	id, err := strconv.ParseInt(strings.TrimSpace(msg.ControlID), 10, 64)
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("hl7v2: MSH-10 control id %q is not a numeric event id", msg.ControlID)
	}
	eff, err := effectiveTime(msg, evn, loc)
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("hl7v2: message %s: %w", msg.ControlID, err)
	}

	current := pv1.GetComponent(3, 1)
	f := adt.EventFields{
		EffDatetime: eff,
		Type:        string(typ),
		User:        evn.GetComponent(5, 1),
		Location:    pv1.GetComponent(3, 4),
	}
	if f.Location == "" {
		f.Location = msg.SendingFac
	}
	switch typ {
	case adt.Admission:
		f.ToUnit, f.ToClass = current, class
	case adt.Discharge:
		f.FromUnit, f.FromClass = current, class
	case adt.Transfer:
		f.FromUnit, f.FromClass = pv1.GetComponent(6, 1), class
		f.ToUnit, f.ToClass = current, class
	case adt.Update:
		f.FromUnit, f.FromClass = current, class
		f.ToUnit, f.ToClass = current, class
	}
	ev, err := adt.NewEvent(id, f)
	if err != nil {
		return adt.Encounter{}, adt.Event{}, err
	}
	return enc, ev, nil
}

func effectiveTime(msg *Message, evn *Segment, loc *time.Location) (time.Time, error) {
	for _, v := range []string{evn.GetField(6), evn.GetField(2)} {
		if v != "" {
			return ParseTimestamp(v, loc)
		}
	}
	if msh := msg.GetSegment("MSH"); msh != nil && msh.GetField(7) != "" {
		return ParseTimestamp(msh.GetField(7), loc)
	}
	return time.Time{}, fmt.Errorf("no effective time in EVN-6, EVN-2 or MSH-7")
}

// displayOf prefers the text component of a coded field over its code.
func displayOf(s *Segment, field int) string {
	if text := s.GetComponent(field, 2); text != "" {
		return text
	}
	return s.GetComponent(field, 1)
}

// setDiagnoses takes the admitting and final diagnoses from DG1 (by DG1-6
// type A and F) and the ED reason for visit from PV2-3.
func setDiagnoses(msg *Message, enc *adt.Encounter) {
	for _, dg1 := range msg.GetSegments("DG1") {
		text := displayOf(&dg1, 3)
		switch dg1.GetField(6) {
		case "A":
			if enc.AdmitDx == "" {
				enc.AdmitDx = text
			}
		case "F":
			if enc.PrimaryDx == "" {
				enc.PrimaryDx = text
			}
		}
	}
	if pv2 := msg.GetSegment("PV2"); pv2 != nil {
		enc.EDDx = displayOf(pv2, 3)
	}
}

// Source loads ADT message files into a dataset. A directory path contributes
// each *.hl7 file inside it. Messages with triggers that do not move a
// patient are skipped; any other malformed message fails the load.
type Source struct {
	paths    []string
	synonyms adt.Synonyms
	loc      *time.Location
	logger   zerolog.Logger
}

// NewSource creates an HL7v2 file source. Times without an offset are read
// in loc, UTC when nil.
func NewSource(paths []string, synonyms adt.Synonyms, loc *time.Location, logger zerolog.Logger) *Source {
	if loc == nil {
		loc = time.UTC
	}
	return &Source{
		paths:    paths,
		synonyms: synonyms,
		loc:      loc,
		logger:   logger.With().Str("component", "hl7v2-source").Logger(),
	}
}

// Load implements adt.Source.
func (s *Source) Load(ctx context.Context) (*adt.Dataset, error) {
	files, err := expand(s.paths)
	if err != nil {
		return nil, err
	}
	b := adt.NewDatasetBuilder()
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		added, skipped, err := s.Add(b, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		s.logger.Info().Str("file", path).Int("messages", added).Int("skipped", skipped).Msg("hl7 file loaded")
	}
	return b.Build()
}

// Add maps every message in data onto b. It returns how many messages were
// added and how many were skipped for an unsupported trigger.
func (s *Source) Add(b *adt.DatasetBuilder, data []byte) (added, skipped int, err error) {
	for i, raw := range SplitMessages(data) {
		msg, err := Parse(raw)
		if err != nil {
			return added, skipped, fmt.Errorf("message %d: %w", i+1, err)
		}
		enc, ev, err := ToADT(msg, s.loc)
		if errors.Is(err, ErrUnsupportedTrigger) {
			s.logger.Debug().Str("control_id", msg.ControlID).Str("trigger", msg.Trigger()).Msg("message skipped")
			skipped++
			continue
		}
		if err != nil {
			return added, skipped, fmt.Errorf("message %d: %w", i+1, err)
		}
		ev.FromUnit = s.synonyms.Resolve(ev.FromUnit)
		ev.ToUnit = s.synonyms.Resolve(ev.ToUnit)
		b.Add(enc, ev)
		added++
	}
	return added, skipped, nil
}

func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.hl7"))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", p, err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}
