// Package hl7v2 reads HL7 version 2 ADT messages and maps them onto ADT
// encounters and events.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message represents a parsed HL7v2 message.
type Message struct {
	Type       string    // MSH-9 message type (e.g. "ADT^A02")
	ControlID  string    // MSH-10
	Version    string    // MSH-12
	Timestamp  time.Time // MSH-7, zero when absent or unreadable
	SendingApp string    // MSH-3
	SendingFac string    // MSH-4
	Segments   []Segment
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string // e.g. "MSH", "EVN", "PV1"
	Fields []Field
}

// Field represents a field which can have components and repetitions.
type Field struct {
	Value      string
	Components []string   // Component-separated (^)
	Repeats    [][]string // Repetition-separated (~), each with components
}

// Parse parses raw HL7v2 message bytes into a structured Message.
// It supports \r, \n, and \r\n line endings for segment separation.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := string(raw)
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var segmentLines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			segmentLines = append(segmentLines, line)
		}
	}

	if len(segmentLines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(segmentLines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", segmentLines[0][:min(3, len(segmentLines[0]))])
	}

	msg := &Message{}
	for _, line := range segmentLines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: failed to parse segment: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msh := &msg.Segments[0]
	msg.SendingApp = msh.GetField(3)
	msg.SendingFac = msh.GetComponent(4, 1)
	if t, err := ParseTimestamp(msh.GetField(7), time.UTC); err == nil {
		msg.Timestamp = t
	}
	msg.Type = msh.GetField(9)
	msg.ControlID = msh.GetField(10)
	msg.Version = msh.GetField(12)

	return msg, nil
}

// parseSegment parses a single segment line into a Segment struct.
func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	seg := Segment{}

	// MSH is special: the field separator (|) is MSH-1 itself, so
	// Fields[0] holds it and Fields[n] is MSH-(n+1).
	if strings.HasPrefix(line, "MSH") {
		seg.Name = "MSH"
		if len(line) < 4 {
			return seg, nil
		}
		fieldSep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: fieldSep, Components: []string{fieldSep}})
		for _, part := range strings.Split(line[4:], fieldSep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, "|", 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f))
		}
	}
	return seg, nil
}

// parseField parses a single field, handling components (^) and repetitions (~).
func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// ParseTimestamp parses an HL7v2 DTM value (YYYYMMDD[HH[MM[SS[.S+]]]][+/-ZZZZ]).
// Values without an offset are read in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		off := s[i:]
		s = s[:i]
		if len(off) != 5 {
			return time.Time{}, fmt.Errorf("hl7v2: bad timezone offset %q", off)
		}
		t, err := time.Parse("-0700", off)
		if err != nil {
			return time.Time{}, fmt.Errorf("hl7v2: bad timezone offset %q", off)
		}
		loc = t.Location()
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	switch len(s) {
	case 14:
		return time.ParseInLocation("20060102150405", s, loc)
	case 12:
		return time.ParseInLocation("200601021504", s, loc)
	case 10:
		return time.ParseInLocation("2006010215", s, loc)
	case 8:
		return time.ParseInLocation("20060102", s, loc)
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// FormatTimestamp renders t as an HL7v2 DTM with second precision.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102150405")
}

// Trigger returns the trigger event of the message, MSH-9.2, falling back to
// EVN-1.
func (m *Message) Trigger() string {
	if msh := m.GetSegment("MSH"); msh != nil {
		if t := msh.GetComponent(9, 2); t != "" {
			return t
		}
	}
	if evn := m.GetSegment("EVN"); evn != nil {
		return evn.GetField(1)
	}
	return ""
}

// GetSegment returns the first segment with the given name, or nil if not found.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// field returns the field at a 1-based HL7 index. MSH-1 is Fields[0] like
// every other segment's first field, so the mapping is uniform.
func (s *Segment) field(index int) *Field {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	return &s.Fields[idx]
}

// GetField returns the value of a field by 1-based index.
func (s *Segment) GetField(index int) string {
	if f := s.field(index); f != nil {
		return f.Value
	}
	return ""
}

// GetComponent returns a component value by 1-based field and component indices.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	f := s.field(fieldIdx)
	if f == nil {
		return ""
	}
	ci := compIdx - 1
	if ci < 0 || ci >= len(f.Components) {
		return ""
	}
	return unescapeHL7(f.Components[ci])
}
