package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/platform/batch"
)

// CSVSink writes stays.csv, census.csv (one column per unit) and
// rejections.csv into a directory, replacing earlier runs.
type CSVSink struct {
	dir    string
	logger zerolog.Logger
}

func NewCSVSink(dir string, logger zerolog.Logger) *CSVSink {
	return &CSVSink{dir: dir, logger: logger.With().Str("component", "csv-export").Logger()}
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Write(ctx context.Context, res *batch.Result) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	runID := res.RunID.String()

	stays := make([][]string, 0, len(res.Stays)+1)
	stays = append(stays, stayHeader)
	for _, st := range res.Stays {
		stays = append(stays, NewStayRecord(runID, st).strings())
	}
	if err := writeCSV(filepath.Join(s.dir, "stays.csv"), stays); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cols := CensusColumns(res.Census)
	header := append([]string{"Timestamp", "Hour", "Weekday"}, cols...)
	wide := make([][]string, 0, len(res.Census.Rows)+1)
	wide = append(wide, header)
	for _, row := range res.Census.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.Timestamp.Format(TimeLayout), fmt.Sprint(row.Hour), row.Weekday)
		for _, col := range cols {
			rec = append(rec, formatFloat(cellValue(row, col)))
		}
		wide = append(wide, rec)
	}
	if err := writeCSV(filepath.Join(s.dir, "census.csv"), wide); err != nil {
		return err
	}

	rejections := [][]string{rejectionHeader}
	for _, r := range res.Rejections {
		rejections = append(rejections, rejectionStrings(r))
	}
	if err := writeCSV(filepath.Join(s.dir, "rejections.csv"), rejections); err != nil {
		return err
	}

	s.logger.Debug().Str("dir", s.dir).Int("stays", len(res.Stays)).Int("hours", len(res.Census.Rows)).Msg("csv written")
	return nil
}

func (s *CSVSink) Close() error { return nil }

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
