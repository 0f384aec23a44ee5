package hl7v2

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/census/internal/domain/adt"
)

// triggerOf picks the trigger event written for an event type.
var triggerOf = map[adt.EventType]string{
	adt.Admission: "A01",
	adt.Transfer:  "A02",
	adt.Discharge: "A03",
	adt.Update:    "A08",
}

// GenerateADT builds the ADT message that ToADT maps back onto enc and ev.
// The event id becomes MSH-10 and the effective time EVN-6.
func GenerateADT(enc adt.Encounter, ev adt.Event, facility string) []byte {
	trigger := triggerOf[ev.Type]
	eff := FormatTimestamp(ev.EffDatetime)

	segments := []string{
		buildMSH(facility, trigger, eff, ev.ID()),
		buildEVN(trigger, eff, ev.User),
		buildPV1(enc, ev),
	}
	if enc.EDDx != "" {
		segments = append(segments, "PV2|||^"+escapeHL7(enc.EDDx))
	}
	setID := 0
	for _, dx := range []struct{ text, kind string }{{enc.AdmitDx, "A"}, {enc.PrimaryDx, "F"}} {
		if dx.text == "" {
			continue
		}
		setID++
		segments = append(segments, fmt.Sprintf("DG1|%d||^%s|||%s", setID, escapeHL7(dx.text), dx.kind))
	}
	return []byte(strings.Join(segments, "\r"))
}

// buildMSH constructs an MSH segment header for an ADT trigger event.
func buildMSH(facility, trigger, timestamp string, id int64) string {
	return fmt.Sprintf("MSH|^~\\&|CENSUS|%s|||%s||ADT^%s|%d|P|2.5.1",
		escapeHL7(facility), timestamp, trigger, id)
}

// buildEVN constructs an EVN (event type) segment.
func buildEVN(trigger, timestamp, user string) string {
	return fmt.Sprintf("EVN|%s|%s|||%s|%s", trigger, timestamp, escapeHL7(user), timestamp)
}

// buildPV1 constructs a PV1 (patient visit) segment. The event decides which
// side of the movement lands in PV1-3 and PV1-6.
func buildPV1(enc adt.Encounter, ev adt.Event) string {
	fields := make([]string, 45)
	set := func(n int, v string) { fields[n-1] = v }

	current, prior, class := ev.ToUnit, ev.FromUnit, ev.ToClass
	switch ev.Type {
	case adt.Admission:
		prior = ""
	case adt.Discharge:
		current, prior, class = ev.FromUnit, "", ev.FromClass
	}

	set(1, "1")
	set(2, escapeHL7(class))
	set(3, escapeHL7(current)+"^^^"+escapeHL7(ev.Location))
	set(6, escapeHL7(prior))
	set(19, strconv.FormatInt(enc.HAR(), 10))
	set(36, "^"+escapeHL7(enc.DischargeDisposition))
	set(44, FormatTimestamp(enc.AdmitDatetime()))
	if enc.DischargeDatetime != nil {
		set(45, FormatTimestamp(*enc.DischargeDatetime))
	}
	if enc.DischargeDisposition == "" {
		set(36, "")
	}
	return "PV1|" + strings.Join(fields, "|")
}

// escapeHL7 escapes HL7v2 special characters in a string value.
// The HL7 escape sequences are:
//
//	\F\ = |  (field separator)
//	\S\ = ^  (component separator)
//	\R\ = ~  (repetition separator)
//	\E\ = \  (escape character)
//	\T\ = &  (subcomponent separator)
func escapeHL7(s string) string {
	// Escape backslash first to avoid double-escaping
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}

var unescaper = strings.NewReplacer(
	"\\F\\", "|",
	"\\S\\", "^",
	"\\R\\", "~",
	"\\T\\", "&",
	"\\E\\", "\\",
)

// unescapeHL7 reverses escapeHL7.
func unescapeHL7(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	return unescaper.Replace(s)
}

// GenerateFile renders a whole dataset as one message file in the format
// Source reads, with messages in encounter order.
func GenerateFile(ds *adt.Dataset, facility string) []byte {
	var msgs []string
	for _, key := range ds.Encounters() {
		enc, _ := ds.Encounter(key)
		for _, ev := range ds.Events(key) {
			msgs = append(msgs, string(GenerateADT(enc, ev, facility)))
		}
	}
	return []byte(strings.Join(msgs, "\n"))
}
