package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehr/census/internal/config"
	"github.com/ehr/census/internal/domain/adt"
	"github.com/ehr/census/internal/platform/adtcsv"
	"github.com/ehr/census/internal/platform/hl7v2"
)

// importCmd copies a file source into the adt_encounter and adt_event
// tables so later runs can use SOURCE=postgres.
func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Load ADT records from files into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Source == config.SourcePostgres {
				return fmt.Errorf("import reads from csv or hl7v2 files")
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for import")
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			ctx := cmd.Context()

			source, err := buildSource(cfg, nil, logger)
			if err != nil {
				return err
			}
			ds, err := source.Load(ctx)
			if err != nil {
				return err
			}

			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := adt.NewRepo(pool, nil).Import(ctx, ds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d encounter(s), %d event(s).\n", ds.Len(), n)
			return nil
		},
	}
}

// convertCmd rewrites a file source in the other file format.
func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert OUTPUT",
		Short: "Convert ADT records between csv and hl7v2 files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			facility, _ := cmd.Flags().GetString("facility")

			source, err := buildSource(cfg, nil, logger)
			if err != nil {
				return err
			}
			ds, err := source.Load(cmd.Context())
			if err != nil {
				return err
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			w := bufio.NewWriter(f)
			switch cfg.Source {
			case config.SourceCSV:
				_, err = w.Write(hl7v2.GenerateFile(ds, facility))
			case config.SourceHL7v2:
				err = adtcsv.Write(w, ds)
			default:
				err = fmt.Errorf("convert reads from csv or hl7v2 files")
			}
			if err == nil {
				err = w.Flush()
			}
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d encounter(s), %d event(s) to %s.\n", ds.Len(), ds.EventCount(), args[0])
			return nil
		},
	}
	cmd.Flags().String("facility", "", "sending facility written to MSH-4")
	return cmd
}
