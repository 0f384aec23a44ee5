package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/census/internal/config"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "census-engine",
		Short:         "ADT occupancy timeline and hourly census engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)

	pf := rootCmd.PersistentFlags()
	pf.String("source", "", "record source: csv, hl7v2 or postgres (SOURCE)")
	pf.StringSlice("input", nil, "input files or directories (INPUT_PATHS)")
	pf.String("synonyms", "", "department synonym file (DEPT_SYNONYMS_FILE)")
	pf.String("timezone", "", "zone for timestamps without an offset (TIMEZONE)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(convertCmd())
	return rootCmd
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// loadConfig reads the environment and lets any flag the user set on cmd
// override it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		cfg.Source, _ = flags.GetString("source")
	}
	if flags.Changed("input") {
		cfg.InputPaths, _ = flags.GetStringSlice("input")
	}
	if flags.Changed("synonyms") {
		cfg.DeptSynonymsFile, _ = flags.GetString("synonyms")
	}
	if flags.Changed("timezone") {
		cfg.Timezone, _ = flags.GetString("timezone")
	}
	if f := flags.Lookup("out"); f != nil && f.Changed {
		cfg.OutputDir = f.Value.String()
	}
	if f := flags.Lookup("format"); f != nil && f.Changed {
		formats, _ := flags.GetStringSlice("format")
		cfg.OutputFormats = formats
	}
	if f := flags.Lookup("fail-fast"); f != nil && f.Changed {
		cfg.FailFast, _ = flags.GetBool("fail-fast")
	}
	if f := flags.Lookup("workers"); f != nil && f.Changed {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if f := flags.Lookup("staffing"); f != nil && f.Changed {
		cfg.StaffingFile = f.Value.String()
	}
	cfg.Source = strings.ToLower(cfg.Source)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// addRunFlags registers the flags shared by run and serve.
func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("out", "", "output directory for file formats (OUTPUT_DIR)")
	f.StringSlice("format", nil, "output formats: csv, parquet, postgres, kafka (OUTPUT_FORMATS)")
	f.Bool("fail-fast", false, "abort the run on the first rejected encounter (FAIL_FAST)")
	f.Int("workers", 0, "encounters processed in parallel (WORKERS)")
	f.String("staffing", "", "staffing model file (STAFFING_FILE)")
}
