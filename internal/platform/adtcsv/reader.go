// Package adtcsv reads and writes the ADT event download format: one CSV
// row per event, with the owning encounter's attributes repeated on every
// row.
package adtcsv

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/adt"
)

// Column names of the download format.
const (
	ColHAR        = "HAR"
	ColAdmitDate  = "Admit Date"
	ColAdmitTime  = "Admit Time"
	ColArrDate    = "Arr Date"
	ColArrTime    = "Arr Time"
	ColDischDate  = "Disch Date"
	ColDischTime  = "Disch Time"
	ColDischDisp  = "Disch Disp"
	ColPtClass    = "Pt Class"
	ColAdmitDx    = "Admit Dx"
	ColPrimaryDx  = "Primary Dx"
	ColDiagnosis  = "Diagnosis"
	ColEventID    = "Event ID"
	ColEventType  = "Event Type"
	ColEffDate    = "Eff Date"
	ColEffTime    = "Eff Time"
	ColFromUnit   = "From Unit"
	ColToUnit     = "To Unit"
	ColUser       = "User"
	ColFromClass  = "From Class"
	ColToClass    = "To Class"
	ColLocation   = "Location"
	NullValue     = "<NA>"
	dateLayout    = "01/02/2006"
	timeLayout    = "03:04:05 PM"
	secondsLayout = "01/02/2006 03:04:05 PM"
	minutesLayout = "01/02/2006 03:04 PM"
)

// Columns is the header written by Write, in order.
var Columns = []string{
	ColHAR, ColAdmitDate, ColAdmitTime, ColArrDate, ColArrTime,
	ColDischDate, ColDischTime, ColDischDisp, ColPtClass, ColAdmitDx,
	ColPrimaryDx, ColDiagnosis, ColEventID, ColEventType, ColEffDate,
	ColEffTime, ColFromUnit, ColToUnit, ColUser, ColFromClass,
	ColToClass, ColLocation,
}

// ErrMissingColumn is returned when a file lacks a required column.
var ErrMissingColumn = errors.New("adtcsv: missing column")

// Source loads every CSV file under its paths into one dataset. A directory
// path contributes each *.csv file inside it.
type Source struct {
	paths    []string
	synonyms adt.Synonyms
	loc      *time.Location
	logger   zerolog.Logger
}

// NewSource creates a CSV source. Times are read in loc, UTC when nil.
func NewSource(paths []string, synonyms adt.Synonyms, loc *time.Location, logger zerolog.Logger) *Source {
	if loc == nil {
		loc = time.UTC
	}
	return &Source{
		paths:    paths,
		synonyms: synonyms,
		loc:      loc,
		logger:   logger.With().Str("component", "adtcsv").Logger(),
	}
}

// Load implements adt.Source.
func (s *Source) Load(ctx context.Context) (*adt.Dataset, error) {
	files, err := expand(s.paths)
	if err != nil {
		return nil, err
	}
	b := adt.NewDatasetBuilder()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.readFile(f, b)
		if err != nil {
			return nil, err
		}
		s.logger.Info().Str("file", f).Int("rows", n).Msg("adt file loaded")
	}
	return b.Build()
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
		matches, err := filepath.Glob(filepath.Join(p, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", p, err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

func (s *Source) readFile(path string, b *adt.DatasetBuilder) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	n, err := s.Read(file, b)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// Read adds every row of r to b and returns the number of rows read.
func (s *Source) Read(r io.Reader, b *adt.DatasetBuilder) (int, error) {
	bufReader := bufio.NewReader(r)

	// Skip UTF-8 BOM if present
	if bom, err := bufReader.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	reader := csv.NewReader(bufReader)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.TrimSpace(h)] = i
	}
	for _, c := range Columns {
		if _, ok := colIdx[c]; !ok {
			return 0, fmt.Errorf("%w: %q", ErrMissingColumn, c)
		}
	}

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, fmt.Errorf("row %d: %w", rows+2, err)
		}
		rows++
		get := func(col string) string {
			i := colIdx[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		enc, ev, err := s.parseRow(get)
		if err != nil {
			return rows, fmt.Errorf("row %d: %w", rows+1, err)
		}
		b.Add(enc, ev)
	}
}

func (s *Source) parseRow(get func(string) string) (adt.Encounter, adt.Event, error) {
	har, err := strconv.ParseInt(get(ColHAR), 10, 64)
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("HAR: %w", err)
	}
	admit, err := s.parseDatetime(get(ColAdmitDate), get(ColAdmitTime))
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("admit datetime: %w", err)
	}
	enc := adt.NewEncounter(har, admit)
	if enc.ArrivalDatetime, err = s.parseOptional(get(ColArrDate), get(ColArrTime)); err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("arrival datetime: %w", err)
	}
	if enc.DischargeDatetime, err = s.parseOptional(get(ColDischDate), get(ColDischTime)); err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("discharge datetime: %w", err)
	}
	enc.DischargeDisposition = get(ColDischDisp)
	enc.DischargeClass = get(ColPtClass)
	enc.AdmitDx = get(ColAdmitDx)
	enc.PrimaryDx = get(ColPrimaryDx)
	enc.EDDx = get(ColDiagnosis)

	id, err := strconv.ParseInt(get(ColEventID), 10, 64)
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("event id: %w", err)
	}
	eff, err := s.parseDatetime(get(ColEffDate), get(ColEffTime))
	if err != nil {
		return adt.Encounter{}, adt.Event{}, fmt.Errorf("event %d effective datetime: %w", id, err)
	}
	ev, err := adt.NewEvent(id, adt.EventFields{
		EffDatetime: eff,
		Type:        get(ColEventType),
		FromUnit:    s.synonyms.Resolve(get(ColFromUnit)),
		ToUnit:      s.synonyms.Resolve(get(ColToUnit)),
		FromClass:   get(ColFromClass),
		ToClass:     get(ColToClass),
		User:        get(ColUser),
		Location:    get(ColLocation),
	})
	if err != nil {
		return adt.Encounter{}, adt.Event{}, err
	}
	return enc, ev, nil
}

// parseDatetime accepts times with or without seconds.
func (s *Source) parseDatetime(date, clock string) (time.Time, error) {
	v := date + " " + clock
	t, err := time.ParseInLocation(secondsLayout, v, s.loc)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(minutesLayout, v, s.loc)
}

func (s *Source) parseOptional(date, clock string) (*time.Time, error) {
	if date == NullValue || clock == NullValue || date == "" {
		return nil, nil
	}
	t, err := s.parseDatetime(date, clock)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
