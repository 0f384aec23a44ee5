// Package export writes completed census runs to files, Postgres and Kafka.
// Every writer is a batch.Sink.
package export

import (
	"strconv"

	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/domain/stay"
	"github.com/ehr/census/internal/platform/batch"
)

// TimeLayout is how timestamps are rendered in text outputs.
const TimeLayout = "2006-01-02 15:04:05"

// TotalColumn names the all-unit census column.
const TotalColumn = census.TotalColumn

// StayRecord is the flat form of a stay shared by the file writers.
type StayRecord struct {
	RunID          string  `parquet:"run_id" json:"run_id"`
	HAR            int64   `parquet:"har" json:"har"`
	DischargeClass string  `parquet:"disch_class" json:"disch_class"`
	Unit           string  `parquet:"unit" json:"unit"`
	Start          string  `parquet:"start" json:"start"`
	End            string  `parquet:"end" json:"end"`
	Hours          float64 `parquet:"hours" json:"hours"`
	Status         string  `parquet:"status" json:"status"`
	CameFrom       string  `parquet:"came_from" json:"came_from"`
	WentTo         string  `parquet:"went_to" json:"went_to"`
	ArrivedAs      string  `parquet:"arrived_as" json:"arrived_as"`
	LeftAs         string  `parquet:"left_as" json:"left_as"`
}

var stayHeader = []string{
	"HAR", "disch_class", "unit", "start", "end", "hours",
	"status", "came_from", "went_to", "arrived_as", "left_as",
}

// NewStayRecord flattens s.
func NewStayRecord(runID string, s stay.Stay) StayRecord {
	return StayRecord{
		RunID:          runID,
		HAR:            s.HAR,
		DischargeClass: s.DischargeClass,
		Unit:           s.Unit,
		Start:          s.Start.Format(TimeLayout),
		End:            s.End.Format(TimeLayout),
		Hours:          s.Hours,
		Status:         string(s.Status),
		CameFrom:       s.CameFrom,
		WentTo:         s.WentTo,
		ArrivedAs:      s.ArrivedAs,
		LeftAs:         s.LeftAs,
	}
}

func (r StayRecord) strings() []string {
	return []string{
		strconv.FormatInt(r.HAR, 10), r.DischargeClass, r.Unit, r.Start, r.End,
		formatFloat(r.Hours), r.Status, r.CameFrom, r.WentTo, r.ArrivedAs, r.LeftAs,
	}
}

// CensusCell is one (hour, column) value of the census in long format.
type CensusCell struct {
	RunID     string  `parquet:"run_id"`
	Timestamp string  `parquet:"timestamp"`
	Hour      int32   `parquet:"hour"`
	Weekday   string  `parquet:"weekday"`
	Column    string  `parquet:"column"`
	Value     float64 `parquet:"value"`
}

// CensusColumns lists the value columns of t in output order: the total,
// each unit, then model columns.
func CensusColumns(t *census.Table) []string {
	cols := make([]string, 0, 1+len(t.Units)+len(t.Columns))
	cols = append(cols, TotalColumn)
	cols = append(cols, t.Units...)
	return append(cols, t.Columns...)
}

func cellValue(row census.Row, col string) float64 {
	if col == TotalColumn {
		return row.Total
	}
	if v, ok := row.Units[col]; ok {
		return v
	}
	return row.Extra[col]
}

// Cells unpivots t, hour by hour, in CensusColumns order.
func Cells(runID string, t *census.Table) []CensusCell {
	cols := CensusColumns(t)
	out := make([]CensusCell, 0, len(t.Rows)*len(cols))
	for _, row := range t.Rows {
		ts := row.Timestamp.Format(TimeLayout)
		for _, col := range cols {
			out = append(out, CensusCell{
				RunID:     runID,
				Timestamp: ts,
				Hour:      int32(row.Hour),
				Weekday:   row.Weekday,
				Column:    col,
				Value:     cellValue(row, col),
			})
		}
	}
	return out
}

var rejectionHeader = []string{"HAR", "admit", "table", "reason"}

func rejectionStrings(r batch.Rejection) []string {
	return []string{strconv.FormatInt(r.HAR, 10), r.Admit.Format(TimeLayout), r.Table, r.Reason}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
