package adt

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool     *pgxpool.Pool
	synonyms Synonyms
}

// NewRepo returns a Postgres-backed repository. Unit names read back are
// passed through synonyms.
func NewRepo(pool *pgxpool.Pool, synonyms Synonyms) Repository {
	return &repoPG{pool: pool, synonyms: synonyms}
}

const loadSQL = `
	SELECT e.har, e.admit_at, e.arrival_at, e.discharge_at,
		e.disch_disp, e.disch_class, e.admit_dx, e.primary_dx, e.ed_dx,
		v.id, v.eff_at, v.event_type, v.from_unit, v.to_unit,
		v.from_class, v.to_class, v.username, v.location
	FROM adt_encounter e
	JOIN adt_event v ON v.har = e.har AND v.admit_at = e.admit_at
	ORDER BY e.har, e.admit_at, v.id`

func (r *repoPG) Load(ctx context.Context) (*Dataset, error) {
	rows, err := r.pool.Query(ctx, loadSQL)
	if err != nil {
		return nil, fmt.Errorf("query adt events: %w", err)
	}
	defer rows.Close()

	b := NewDatasetBuilder()
	for rows.Next() {
		var (
			har                int64
			admit              time.Time
			arrival, discharge *time.Time
			disp, class        string
			admitDx, primaryDx string
			edDx               string
			id                 int64
			f                  EventFields
		)
		if err := rows.Scan(&har, &admit, &arrival, &discharge,
			&disp, &class, &admitDx, &primaryDx, &edDx,
			&id, &f.EffDatetime, &f.Type, &f.FromUnit, &f.ToUnit,
			&f.FromClass, &f.ToClass, &f.User, &f.Location); err != nil {
			return nil, fmt.Errorf("scan adt event: %w", err)
		}

		enc := NewEncounter(har, admit)
		enc.ArrivalDatetime = arrival
		enc.DischargeDatetime = discharge
		enc.DischargeDisposition = disp
		enc.DischargeClass = class
		enc.AdmitDx = admitDx
		enc.PrimaryDx = primaryDx
		enc.EDDx = edDx

		f.FromUnit = r.synonyms.Resolve(f.FromUnit)
		f.ToUnit = r.synonyms.Resolve(f.ToUnit)
		ev, err := NewEvent(id, f)
		if err != nil {
			return nil, err
		}
		b.Add(enc, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read adt events: %w", err)
	}
	return b.Build()
}

// Import upserts every encounter and event of ds and returns the number of
// events written.
func (r *repoPG) Import(ctx context.Context, ds *Dataset) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	n := 0
	for _, key := range ds.Encounters() {
		enc, _ := ds.Encounter(key)
		batch.Queue(`
			INSERT INTO adt_encounter (har, admit_at, arrival_at, discharge_at,
				disch_disp, disch_class, admit_dx, primary_dx, ed_dx)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (har, admit_at) DO UPDATE SET
				arrival_at = COALESCE(adt_encounter.arrival_at, EXCLUDED.arrival_at),
				discharge_at = COALESCE(adt_encounter.discharge_at, EXCLUDED.discharge_at)`,
			enc.HAR(), enc.AdmitDatetime(), enc.ArrivalDatetime, enc.DischargeDatetime,
			enc.DischargeDisposition, enc.DischargeClass, enc.AdmitDx, enc.PrimaryDx, enc.EDDx,
		)
		for _, ev := range ds.Events(key) {
			batch.Queue(`
				INSERT INTO adt_event (id, har, admit_at, eff_at, event_type,
					from_unit, to_unit, from_class, to_class, username, location)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
				ON CONFLICT (id) DO NOTHING`,
				ev.ID(), enc.HAR(), enc.AdmitDatetime(), ev.EffDatetime, string(ev.Type),
				ev.FromUnit, ev.ToUnit, ev.FromClass, ev.ToClass, ev.User, ev.Location,
			)
			n++
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("import adt events: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return n, nil
}
