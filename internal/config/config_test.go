package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("SOURCE")
	os.Unsetenv("OUTPUT_FORMATS")
	os.Unsetenv("WORKERS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.Source != SourceCSV {
		t.Errorf("expected default source csv, got %s", cfg.Source)
	}
	if !slices.Equal(cfg.OutputFormats, []string{FormatCSV}) {
		t.Errorf("expected default formats [csv], got %v", cfg.OutputFormats)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected default workers 4, got %d", cfg.Workers)
	}
	if cfg.DBMaxConns != 20 {
		t.Errorf("expected default max conns 20, got %d", cfg.DBMaxConns)
	}
	if cfg.DBSchema != "public" {
		t.Errorf("expected default schema public, got %s", cfg.DBSchema)
	}
}

func TestLoad_ListsFromEnv(t *testing.T) {
	os.Setenv("INPUT_PATHS", "a.csv, b.csv")
	os.Setenv("OUTPUT_FORMATS", "csv,parquet")
	defer os.Unsetenv("INPUT_PATHS")
	defer os.Unsetenv("OUTPUT_FORMATS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.InputPaths) != 2 || cfg.InputPaths[1] != "b.csv" {
		t.Errorf("unexpected input paths: %q", cfg.InputPaths)
	}
	if !cfg.HasFormat(FormatParquet) {
		t.Errorf("expected parquet output, got %v", cfg.OutputFormats)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
	if !c.IsProduction() {
		t.Error("expected IsProduction() to return true for production")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source:        SourceCSV,
			InputPaths:    []string{"adt.csv"},
			OutputFormats: []string{FormatCSV},
			Workers:       1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid csv", func(c *Config) {}, false},
		{"file source without input", func(c *Config) { c.InputPaths = nil }, true},
		{"unknown source", func(c *Config) { c.Source = "ftp" }, true},
		{"postgres source without url", func(c *Config) { c.Source = SourcePostgres }, true},
		{"postgres source with url", func(c *Config) {
			c.Source = SourcePostgres
			c.DatabaseURL = "postgres://localhost/census"
		}, false},
		{"postgres output without url", func(c *Config) { c.OutputFormats = []string{FormatPostgres} }, true},
		{"kafka without brokers", func(c *Config) { c.OutputFormats = []string{FormatKafka} }, true},
		{"kafka with brokers", func(c *Config) {
			c.OutputFormats = []string{FormatKafka}
			c.KafkaBrokers = []string{"localhost:9092"}
		}, false},
		{"unknown format", func(c *Config) { c.OutputFormats = []string{"xlsx"} }, true},
		{"no workers", func(c *Config) { c.Workers = 0 }, true},
		{"utc timezone", func(c *Config) { c.Timezone = "UTC" }, false},
		{"unknown timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadSynonyms(t *testing.T) {
	path := writeFile(t, "synonyms.yaml", `
synonyms:
  - unit: "5 West"
    synonyms: ["5W", "5 WEST MEDSURG"]
  - unit: ICU
    synonyms: ["MICU"]
`)
	syn, err := LoadSynonyms(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := syn.Resolve("5 WEST MEDSURG"); got != "5 West" {
		t.Errorf("expected 5 West, got %q", got)
	}
	if got := syn.Resolve("MICU"); got != "ICU" {
		t.Errorf("expected ICU, got %q", got)
	}
	if got := syn.Resolve("ED"); got != "ED" {
		t.Errorf("expected unmapped unit unchanged, got %q", got)
	}
}

func TestLoadSynonyms_Conflict(t *testing.T) {
	path := writeFile(t, "synonyms.yaml", `
synonyms:
  - unit: ICU
    synonyms: ["CCU"]
  - unit: CVICU
    synonyms: ["CCU"]
`)
	if _, err := LoadSynonyms(path); err == nil {
		t.Fatal("expected error for synonym mapped twice")
	}
}

func TestLoadSynonyms_EmptyPath(t *testing.T) {
	syn, err := LoadSynonyms("")
	if err != nil || len(syn) != 0 {
		t.Fatalf("expected empty synonyms, got %v, %v", syn, err)
	}
}

func TestLoadStaffing(t *testing.T) {
	path := writeFile(t, "staffing.json", `{
  "models": [
    {"name": "RN", "units": [
      {"unit": "ICU", "patients_per_staff": 2, "fixed_staff": 1},
      {"unit": "MedSurg", "patients_per_staff": 5}
    ]}
  ]
}`)
	specs, err := LoadStaffing(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "RN" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	icu := specs[0].Units["ICU"]
	if icu.PatientsPerStaff != 2 || icu.FixedStaff != 1 {
		t.Errorf("unexpected ICU ratio: %+v", icu)
	}
	if specs[0].Units["MedSurg"].PatientsPerStaff != 5 {
		t.Errorf("unexpected MedSurg ratio: %+v", specs[0].Units["MedSurg"])
	}
}

func TestLoadStaffing_MissingFile(t *testing.T) {
	if _, err := LoadStaffing(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
