package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/platform/batch"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresSink stores each run in census_run, census_stay, census_hour and
// census_rejection, all in one transaction.
type PostgresSink struct {
	db     TxBeginner
	logger zerolog.Logger
}

func NewPostgresSink(db TxBeginner, logger zerolog.Logger) *PostgresSink {
	return &PostgresSink{db: db, logger: logger.With().Str("component", "postgres-export").Logger()}
}

func (s *PostgresSink) Name() string { return "postgres" }

var hourCopyCols = []string{"run_id", "hour_at", "col", "value"}

func (s *PostgresSink) Write(ctx context.Context, res *batch.Result) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO census_run (id, started_at, finished_at, window_start, window_end,
			encounters, events, stays, rejected)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		res.RunID, res.StartedAt, res.FinishedAt, res.WindowStart, res.WindowEnd,
		res.Encounters, res.Events, len(res.Stays), len(res.Rejections),
	); err != nil {
		return fmt.Errorf("insert census_run: %w", err)
	}

	b := &pgx.Batch{}
	for i, st := range res.Stays {
		b.Queue(`
			INSERT INTO census_stay (run_id, seq, har, discharge_class, unit, start_at, end_at,
				hours, status, came_from, went_to, arrived_as, left_as)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			res.RunID, i, st.HAR, st.DischargeClass, st.Unit, st.Start, st.End,
			st.Hours, string(st.Status), st.CameFrom, st.WentTo, st.ArrivedAs, st.LeftAs,
		)
	}
	for _, r := range res.Rejections {
		b.Queue(`
			INSERT INTO census_rejection (run_id, har, admit_at, reason, tbl)
			VALUES ($1,$2,$3,$4,$5)`,
			res.RunID, r.HAR, r.Admit, r.Reason, r.Table,
		)
	}
	if b.Len() > 0 {
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("insert stays: %w", err)
		}
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"census_hour"},
		hourCopyCols,
		pgx.CopyFromRows(HourRows(res.RunID, res.Census)),
	)
	if err != nil {
		return fmt.Errorf("copy census_hour: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug().Str("run_id", res.RunID.String()).Int("stays", len(res.Stays)).Int64("cells", copied).Msg("run stored")
	return nil
}

func (s *PostgresSink) Close() error { return nil }

// HourRows renders t as census_hour copy rows.
func HourRows(runID uuid.UUID, t *census.Table) [][]any {
	cols := CensusColumns(t)
	rows := make([][]any, 0, len(t.Rows)*len(cols))
	for _, row := range t.Rows {
		at := row.Timestamp.UTC().Truncate(time.Second)
		for _, col := range cols {
			rows = append(rows, []any{runID, at, col, cellValue(row, col)})
		}
	}
	return rows
}
