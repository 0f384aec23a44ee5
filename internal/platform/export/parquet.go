package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/platform/batch"
)

// ParquetSink writes stays.parquet and census.parquet into a directory. The
// census is stored long, one row per hour and column, so model columns do
// not change the schema.
type ParquetSink struct {
	dir    string
	logger zerolog.Logger
}

func NewParquetSink(dir string, logger zerolog.Logger) *ParquetSink {
	return &ParquetSink{dir: dir, logger: logger.With().Str("component", "parquet-export").Logger()}
}

func (s *ParquetSink) Name() string { return "parquet" }

func (s *ParquetSink) Write(ctx context.Context, res *batch.Result) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	runID := res.RunID.String()

	stays := make([]StayRecord, len(res.Stays))
	for i, st := range res.Stays {
		stays[i] = NewStayRecord(runID, st)
	}
	if err := writeParquet(filepath.Join(s.dir, "stays.parquet"), stays); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cells := Cells(runID, res.Census)
	if err := writeParquet(filepath.Join(s.dir, "census.parquet"), cells); err != nil {
		return err
	}
	s.logger.Debug().Str("dir", s.dir).Int("stays", len(stays)).Int("cells", len(cells)).Msg("parquet written")
	return nil
}

func (s *ParquetSink) Close() error { return nil }

func writeParquet[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	w := parquet.NewGenericWriter[T](f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
		parquet.DataPageStatistics(true),
		parquet.CreatedBy("census-engine", "1.0", ""),
	)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}
