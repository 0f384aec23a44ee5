package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/census/internal/config"
	"github.com/ehr/census/internal/domain/adt"
	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/platform/adtcsv"
	"github.com/ehr/census/internal/platform/batch"
	"github.com/ehr/census/internal/platform/db"
	"github.com/ehr/census/internal/platform/export"
	"github.com/ehr/census/internal/platform/hl7v2"
)

// app holds what a command built from the configuration. pool is nil unless
// Postgres is the source or an output.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	pipeline *batch.Pipeline
}

func (a *app) Close() {
	if a.pipeline != nil {
		if err := a.pipeline.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing sinks")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	return pool, nil
}

// buildApp wires source, runner and sinks.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if cfg.NeedsDatabase() {
		pool, err := openPool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}

	source, err := buildSource(cfg, a.pool, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	runner, err := buildRunner(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipeline = batch.NewPipeline(source, runner, buildSinks(cfg, a.pool, logger), nil, logger)
	return a, nil
}

func buildSource(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (adt.Source, error) {
	synonyms, err := config.LoadSynonyms(cfg.DeptSynonymsFile)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	switch cfg.Source {
	case config.SourceCSV:
		return adtcsv.NewSource(cfg.InputPaths, synonyms, loc, logger), nil
	case config.SourceHL7v2:
		return hl7v2.NewSource(cfg.InputPaths, synonyms, loc, logger), nil
	case config.SourcePostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres source needs a database connection")
		}
		return adt.NewRepo(pool, synonyms), nil
	}
	return nil, fmt.Errorf("unknown source %q", cfg.Source)
}

func buildRunner(cfg *config.Config, logger zerolog.Logger) (*batch.Runner, error) {
	specs, err := config.LoadStaffing(cfg.StaffingFile)
	if err != nil {
		return nil, err
	}
	models, err := census.RatioModelsFromSpecs(specs)
	if err != nil {
		return nil, err
	}
	policy := batch.SkipAndContinue
	if cfg.FailFast {
		policy = batch.FailFast
	}
	return batch.NewRunner(batch.Options{Workers: cfg.Workers, Policy: policy, Models: models}, logger), nil
}

func buildSinks(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) []batch.Sink {
	var sinks []batch.Sink
	for _, format := range cfg.OutputFormats {
		switch format {
		case config.FormatCSV:
			sinks = append(sinks, export.NewCSVSink(cfg.OutputDir, logger))
		case config.FormatParquet:
			sinks = append(sinks, export.NewParquetSink(cfg.OutputDir, logger))
		case config.FormatPostgres:
			sinks = append(sinks, export.NewPostgresSink(pool, logger))
		case config.FormatKafka:
			sinks = append(sinks, export.NewKafkaSink(
				export.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaStaysTopic),
				export.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaCensusTopic),
				logger,
			))
		}
	}
	return sinks
}
