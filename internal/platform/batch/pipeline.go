package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/domain/adt"
)

// Sink receives the output of a completed run.
type Sink interface {
	Name() string
	Write(ctx context.Context, res *Result) error
	Close() error
}

// Pipeline loads a batch from a source, runs it, publishes the result to
// every sink and keeps it in the store.
type Pipeline struct {
	source adt.Source
	runner *Runner
	sinks  []Sink
	store  *Store
	logger zerolog.Logger
}

// NewPipeline wires a pipeline. store may be nil when nobody reads results
// back.
func NewPipeline(source adt.Source, runner *Runner, sinks []Sink, store *Store, logger zerolog.Logger) *Pipeline {
	if store == nil {
		store = NewStore()
	}
	return &Pipeline{
		source: source,
		runner: runner,
		sinks:  sinks,
		store:  store,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Store returns the store results are kept in.
func (p *Pipeline) Store() *Store { return p.store }

// Execute performs one full run.
func (p *Pipeline) Execute(ctx context.Context) (*Result, error) {
	ds, err := p.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	res, err := p.runner.Run(ctx, ds)
	if err != nil {
		return nil, err
	}
	p.store.Set(res)

	for _, s := range p.sinks {
		if err := s.Write(ctx, res); err != nil {
			return res, fmt.Errorf("write %s: %w", s.Name(), err)
		}
		p.logger.Info().Str("sink", s.Name()).Str("run_id", res.RunID.String()).Msg("run exported")
	}
	return res, nil
}

// Close closes every sink and reports all close failures.
func (p *Pipeline) Close() error {
	var errs []error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
