// Package batch runs the census pipeline over one closed batch of ADT
// records: every encounter is sanitized and turned into stays, then all stays
// are aggregated into one hourly census.
//
// Whether a bad encounter aborts the run is the caller's choice, expressed as
// a Policy. Sanitizer invariant violations always abort.
package batch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/census/internal/domain/adt"
	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/domain/stay"
	"github.com/ehr/census/internal/platform/metrics"
)

// Policy decides what an encounter failure does to the run.
type Policy int

const (
	// SkipAndContinue records the rejection and keeps going.
	SkipAndContinue Policy = iota
	// FailFast aborts the run on the first rejected encounter.
	FailFast
)

func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "skip-and-continue"
}

// censusTolerance absorbs float rounding when a row's total is compared with
// the sum of its units.
const censusTolerance = 1e-6

// Encounter outcomes reported to metrics.
const (
	OutcomeDerived  = "derived"
	OutcomeEmpty    = "empty"
	OutcomeRejected = "rejected"
)

// Rejection is an encounter whose events could not be reconciled.
type Rejection struct {
	HAR    int64     `json:"har"`
	Admit  time.Time `json:"admit"`
	Reason string    `json:"reason"`
	Table  string    `json:"table"`
}

// Result is everything one run produced.
type Result struct {
	RunID       uuid.UUID     `json:"run_id"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Encounters  int           `json:"encounters"`
	Events      int           `json:"events"`
	Stays       []stay.Stay   `json:"-"`
	Census      *census.Table `json:"-"`
	Rejections  []Rejection   `json:"-"`
}

// Options configures a Runner.
type Options struct {
	Workers int
	Policy  Policy
	Models  []census.StaffingModel
}

// Runner executes the per-encounter stages in parallel and the census
// reduction once.
type Runner struct {
	opts   Options
	logger zerolog.Logger
}

// NewRunner creates a Runner. Workers below 1 means a single worker.
func NewRunner(opts Options, logger zerolog.Logger) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{
		opts:   opts,
		logger: logger.With().Str("component", "batch-runner").Logger(),
	}
}

// partition is the share of the work one worker produced.
type partition struct {
	stays      []stay.Stay
	rejections []Rejection
}

// Run processes ds and returns its stays and census.
func (r *Runner) Run(ctx context.Context, ds *adt.Dataset) (*Result, error) {
	res := &Result{
		RunID:       uuid.New(),
		StartedAt:   time.Now().UTC(),
		WindowStart: ds.Start,
		WindowEnd:   ds.End,
		Encounters:  ds.Len(),
		Events:      ds.EventCount(),
	}
	log := r.logger.With().Str("run_id", res.RunID.String()).Logger()
	log.Info().
		Int("encounters", res.Encounters).
		Int("events", res.Events).
		Time("window_start", ds.Start).
		Time("window_end", ds.End).
		Int("workers", r.opts.Workers).
		Str("policy", r.opts.Policy.String()).
		Msg("run started")

	keys := make(chan adt.EncounterKey)
	parts := make([]partition, r.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(keys)
		for _, k := range ds.Encounters() {
			select {
			case keys <- k:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := range parts {
		part := &parts[w]
		g.Go(func() error {
			for k := range keys {
				if err := r.processEncounter(ds, k, part, log); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range parts {
		res.Stays = append(res.Stays, p.stays...)
		res.Rejections = append(res.Rejections, p.rejections...)
	}
	slices.SortFunc(res.Stays, compareStays)
	slices.SortFunc(res.Rejections, func(a, b Rejection) int {
		return cmp.Or(cmp.Compare(a.HAR, b.HAR), a.Admit.Compare(b.Admit))
	})

	table, err := census.Aggregate(ds.Start, ds.End, res.Stays, r.opts.Models...)
	if err != nil {
		return nil, fmt.Errorf("aggregate census: %w", err)
	}
	if err := table.Check(censusTolerance); err != nil {
		log.Error().Err(err).Msg("census invariant violated")
		return nil, err
	}
	res.Census = table
	res.FinishedAt = time.Now().UTC()

	hours := 0.0
	for _, row := range table.Rows {
		hours += row.Total
	}
	metrics.RecordRun(res.FinishedAt.Sub(res.StartedAt), hours)

	log.Info().
		Int("stays", len(res.Stays)).
		Int("rejected", len(res.Rejections)).
		Int("census_hours", len(table.Rows)).
		Float64("patient_hours", hours).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("run finished")
	return res, nil
}

func (r *Runner) processEncounter(ds *adt.Dataset, key adt.EncounterKey, part *partition, log zerolog.Logger) error {
	enc, _ := ds.Encounter(key)
	stays, counts, err := stay.ProcessCounted(enc, ds.Events(key), ds.Start, ds.End)
	metrics.RecordEventsDropped("filter", counts.Filtered)
	metrics.RecordEventsDropped("duplicate", counts.Duplicates)
	metrics.RecordEventsDropped("cancellation", counts.Cancelled)
	metrics.RecordEventsReordered(counts.Reordered)

	if err != nil {
		if errors.Is(err, adt.ErrSanitizerInvariant) {
			log.Error().Err(err).Int64("har", key.HAR).Msg("sanitizer invariant violated")
			return err
		}
		metrics.RecordEncounter(OutcomeRejected)

		rej := Rejection{HAR: key.HAR, Admit: key.Admit, Reason: err.Error()}
		var ce *adt.ChainError
		if errors.As(err, &ce) {
			rej.Reason = ce.Reason
			rej.Table = ce.Table
		}
		log.Warn().
			Int64("har", key.HAR).
			Time("admit", key.Admit).
			Str("reason", rej.Reason).
			Msg("encounter rejected")
		if r.opts.Policy == FailFast {
			return fmt.Errorf("encounter %d: %w", key.HAR, err)
		}
		part.rejections = append(part.rejections, rej)
		return nil
	}

	if len(stays) == 0 {
		metrics.RecordEncounter(OutcomeEmpty)
		return nil
	}
	for _, s := range stays {
		metrics.RecordStay(string(s.Status))
	}
	metrics.RecordEncounter(OutcomeDerived)
	part.stays = append(part.stays, stays...)
	return nil
}

func compareStays(a, b stay.Stay) int {
	return cmp.Or(
		cmp.Compare(a.HAR, b.HAR),
		a.Start.Compare(b.Start),
		cmp.Compare(a.Unit, b.Unit),
	)
}

// ErrNoRun is returned by Store before the first run completes.
var ErrNoRun = errors.New("batch: no run has completed")

// Store holds the latest completed run.
type Store struct {
	mu     sync.RWMutex
	latest *Result
}

func NewStore() *Store { return &Store{} }

// Set replaces the latest result.
func (s *Store) Set(res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = res
}

// Latest returns the most recent result.
func (s *Store) Latest() (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoRun
	}
	return s.latest, nil
}
