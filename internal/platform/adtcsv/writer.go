package adtcsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ehr/census/internal/domain/adt"
)

// Write emits ds in the download format, encounters in key order and each
// encounter's events in the order they were loaded. Reading the output back
// yields an equivalent dataset.
func Write(w io.Writer, ds *adt.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, key := range ds.Encounters() {
		enc, _ := ds.Encounter(key)
		encCols := encounterColumns(enc)
		for _, ev := range ds.Events(key) {
			record := append(encCols[:len(encCols):len(encCols)], eventColumns(ev)...)
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("write event %d: %w", ev.ID(), err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func encounterColumns(enc adt.Encounter) []string {
	admit := enc.AdmitDatetime()
	arrDate, arrTime := optionalColumns(enc.ArrivalDatetime)
	dischDate, dischTime := optionalColumns(enc.DischargeDatetime)
	return []string{
		strconv.FormatInt(enc.HAR(), 10),
		admit.Format(dateLayout), admit.Format(timeLayout),
		arrDate, arrTime,
		dischDate, dischTime,
		enc.DischargeDisposition,
		enc.DischargeClass,
		enc.AdmitDx,
		enc.PrimaryDx,
		enc.EDDx,
	}
}

func eventColumns(ev adt.Event) []string {
	return []string{
		strconv.FormatInt(ev.ID(), 10),
		string(ev.Type),
		ev.EffDatetime.Format(dateLayout), ev.EffDatetime.Format(timeLayout),
		ev.FromUnit,
		ev.ToUnit,
		ev.User,
		ev.FromClass,
		ev.ToClass,
		ev.Location,
	}
}

func optionalColumns(t *time.Time) (string, string) {
	if t == nil {
		return NullValue, NullValue
	}
	return t.Format(dateLayout), t.Format(timeLayout)
}
