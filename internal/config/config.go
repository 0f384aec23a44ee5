package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/census/internal/domain/adt"
	"github.com/ehr/census/internal/domain/census"
)

// Record sources.
const (
	SourceCSV      = "csv"
	SourceHL7v2    = "hl7v2"
	SourcePostgres = "postgres"
)

// Output formats.
const (
	FormatCSV      = "csv"
	FormatParquet  = "parquet"
	FormatPostgres = "postgres"
	FormatKafka    = "kafka"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	Source           string   `mapstructure:"SOURCE"`
	InputPaths       []string `mapstructure:"INPUT_PATHS"`
	DeptSynonymsFile string   `mapstructure:"DEPT_SYNONYMS_FILE"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema         string   `mapstructure:"DB_SCHEMA"`
	OutputDir        string   `mapstructure:"OUTPUT_DIR"`
	OutputFormats    []string `mapstructure:"OUTPUT_FORMATS"`
	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	KafkaStaysTopic  string   `mapstructure:"KAFKA_STAYS_TOPIC"`
	KafkaCensusTopic string   `mapstructure:"KAFKA_CENSUS_TOPIC"`
	Workers          int      `mapstructure:"WORKERS"`
	FailFast         bool     `mapstructure:"FAIL_FAST"`
	StaffingFile     string   `mapstructure:"STAFFING_FILE"`
	Timezone         string   `mapstructure:"TIMEZONE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("SOURCE", SourceCSV)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("OUTPUT_DIR", "output")
	v.SetDefault("OUTPUT_FORMATS", FormatCSV)
	v.SetDefault("KAFKA_STAYS_TOPIC", "census.stays")
	v.SetDefault("KAFKA_CENSUS_TOPIC", "census.hourly")
	v.SetDefault("WORKERS", 4)
	v.SetDefault("FAIL_FAST", false)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("SOURCE")
	v.BindEnv("INPUT_PATHS")
	v.BindEnv("DEPT_SYNONYMS_FILE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DB_SCHEMA")
	v.BindEnv("OUTPUT_DIR")
	v.BindEnv("OUTPUT_FORMATS")
	v.BindEnv("KAFKA_BROKERS")
	v.BindEnv("KAFKA_STAYS_TOPIC")
	v.BindEnv("KAFKA_CENSUS_TOPIC")
	v.BindEnv("WORKERS")
	v.BindEnv("FAIL_FAST")
	v.BindEnv("STAFFING_FILE")
	v.BindEnv("TIMEZONE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma separated lists arrive from the environment as a single string.
	cfg.InputPaths = splitList(cfg.InputPaths, v.GetString("INPUT_PATHS"))
	cfg.OutputFormats = splitList(cfg.OutputFormats, v.GetString("OUTPUT_FORMATS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	return cfg, nil
}

func splitList(parsed []string, raw string) []string {
	if len(parsed) <= 1 && raw != "" {
		parsed = strings.Split(raw, ",")
	}
	var out []string
	for _, s := range parsed {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the engine is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasFormat reports whether results should be written in format.
func (c *Config) HasFormat(format string) bool {
	return slices.Contains(c.OutputFormats, format)
}

// NeedsDatabase reports whether the configured source or outputs use Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.Source == SourcePostgres || c.HasFormat(FormatPostgres)
}

// Validate checks that the configuration describes a runnable batch.
// DATABASE_URL is only required when Postgres is the source or an output,
// and file sources need at least one input path.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceCSV, SourceHL7v2:
		if len(c.InputPaths) == 0 {
			return fmt.Errorf("INPUT_PATHS is required when SOURCE is %q", c.Source)
		}
	case SourcePostgres:
	default:
		return fmt.Errorf("SOURCE must be %q, %q, or %q, got %q", SourceCSV, SourceHL7v2, SourcePostgres, c.Source)
	}

	for _, f := range c.OutputFormats {
		switch f {
		case FormatCSV, FormatParquet, FormatPostgres, FormatKafka:
		default:
			return fmt.Errorf("unknown output format %q", f)
		}
	}

	if c.NeedsDatabase() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when reading from or writing to postgres")
	}
	if c.HasFormat(FormatKafka) && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when OUTPUT_FORMATS includes kafka")
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the zone source timestamps without an offset are read in.
// An empty TIMEZONE means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

// synonymFile is the on-disk shape of the department synonym file. viper
// folds map keys to lower case, so unit names are kept in values.
type synonymFile struct {
	Synonyms []struct {
		Unit     string   `mapstructure:"unit"`
		Synonyms []string `mapstructure:"synonyms"`
	} `mapstructure:"synonyms"`
}

// LoadSynonyms reads a department synonym file (YAML, JSON or TOML, by
// extension). Each entry names a standard unit and the alternate names that
// map onto it. An empty path yields no synonyms.
func LoadSynonyms(path string) (adt.Synonyms, error) {
	syn := adt.Synonyms{}
	if path == "" {
		return syn, nil
	}
	var file synonymFile
	if err := readFile(path, &file); err != nil {
		return nil, fmt.Errorf("synonyms: %w", err)
	}
	for _, e := range file.Synonyms {
		for _, alt := range e.Synonyms {
			if prev, ok := syn[alt]; ok && prev != e.Unit {
				return nil, fmt.Errorf("synonyms: %q maps to both %q and %q", alt, prev, e.Unit)
			}
			syn[alt] = e.Unit
		}
	}
	return syn, nil
}

type staffingFile struct {
	Models []struct {
		Name  string `mapstructure:"name"`
		Units []struct {
			Unit             string  `mapstructure:"unit"`
			PatientsPerStaff float64 `mapstructure:"patients_per_staff"`
			FixedStaff       float64 `mapstructure:"fixed_staff"`
		} `mapstructure:"units"`
	} `mapstructure:"models"`
}

// LoadStaffing reads the staffing model file: a "models" list, each with a
// name and per-unit ratios. An empty path yields no models.
func LoadStaffing(path string) ([]census.RatioSpec, error) {
	if path == "" {
		return nil, nil
	}
	var file staffingFile
	if err := readFile(path, &file); err != nil {
		return nil, fmt.Errorf("staffing: %w", err)
	}
	specs := make([]census.RatioSpec, 0, len(file.Models))
	for _, m := range file.Models {
		spec := census.RatioSpec{Name: m.Name, Units: map[string]census.UnitRatio{}}
		for _, u := range m.Units {
			spec.Units[u.Unit] = census.UnitRatio{PatientsPerStaff: u.PatientsPerStaff, FixedStaff: u.FixedStaff}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func readFile(path string, out any) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
