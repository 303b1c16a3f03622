package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meridianidx/meridian/internal/calendar"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/pkg/types"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Calendar.Weekdays = &calendar.WeekdaySpec{Start: "2020-01-01", End: "2020-12-31"}
	cfg.Universes = []UniverseConfig{{Name: "SPX", EventsPath: "spx.csv"}}
	return cfg
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meridian.yaml")
	data := `
data_dir: /var/lib/meridian
storage:
  type: s3
  s3:
    bucket: index-artifacts
    use_path_style: true
calendar:
  weekdays:
    start: "2020-01-01"
    end: "2021-12-31"
    holidays: ["2020-12-25"]
universes:
  - name: SPX
    events_path: /data/spx.csv
build:
  anomaly_tolerance: 0.1
  min_date: "2020-01-02"
gc:
  ttl: 48h
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/meridian" || cfg.Storage.S3.Bucket != "index-artifacts" || !cfg.Storage.S3.UsePathStyle {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Storage.S3.Region != "us-east-1" {
		t.Errorf("default region should survive, got %q", cfg.Storage.S3.Region)
	}
	if cfg.Build.AnomalyTolerance != 0.1 {
		t.Errorf("anomaly_tolerance = %g", cfg.Build.AnomalyTolerance)
	}
	if cfg.GC.TTL != 48*time.Hour {
		t.Errorf("gc.ttl = %s", cfg.GC.TTL)
	}
	if cfg.Serve.HTTPAddr != ":8080" {
		t.Errorf("default http addr should survive, got %q", cfg.Serve.HTTPAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	minDate, err := cfg.MinDate()
	if err != nil || minDate != types.MustParseDate("2020-01-02") {
		t.Errorf("MinDate = %s, %v", minDate, err)
	}

	cal, err := cfg.LoadCalendar()
	if err != nil {
		t.Fatalf("LoadCalendar failed: %v", err)
	}
	if cal.IsTradingDay(types.MustParseDate("2020-12-25")) {
		t.Error("holiday should not be a trading day")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meridian.json")
	data := `{"data_dir": "/tmp/m", "universes": [{"name": "NDX", "events_path": "ndx.jsonl"}]}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.EventPaths()["NDX"] != "ndx.jsonl" {
		t.Errorf("unexpected universes: %+v", cfg.Universes)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meridian.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for .toml")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MERIDIAN_DATA_DIR", "/srv/meridian")
	t.Setenv("MERIDIAN_STORAGE_TYPE", "s3")
	t.Setenv("MERIDIAN_STORAGE_S3_BUCKET", "bucket")
	t.Setenv("MERIDIAN_BUILD_ANOMALY_TOLERANCE", "0.2")
	t.Setenv("MERIDIAN_SERVE_READ_TIMEOUT", "5s")

	cfg := validConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.DataDir != "/srv/meridian" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Storage.Type != "s3" || cfg.Storage.S3.Bucket != "bucket" {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Build.AnomalyTolerance != 0.2 {
		t.Errorf("AnomalyTolerance = %g", cfg.Build.AnomalyTolerance)
	}
	if cfg.Serve.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %s", cfg.Serve.ReadTimeout)
	}
	if cfg.Serve.WriteTimeout != 60*time.Second {
		t.Errorf("unset variables must keep defaults, WriteTimeout = %s", cfg.Serve.WriteTimeout)
	}
	if len(cfg.Universes) != 1 || cfg.Universes[0].Name != "SPX" {
		t.Errorf("universes should be untouched: %+v", cfg.Universes)
	}
}

func TestResolve(t *testing.T) {
	cfg := validConfig()
	cfg.DataDir = "/d"
	cfg.Resolve()
	if cfg.Storage.Path != filepath.Join("/d", "storage") {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Build.WorkDir != filepath.Join("/d", "staging") {
		t.Errorf("Build.WorkDir = %q", cfg.Build.WorkDir)
	}
	if cfg.ManifestPath() != filepath.Join("/d", "manifest.db") {
		t.Errorf("ManifestPath = %q", cfg.ManifestPath())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"duplicate universe", func(c *Config) { c.Universes = append(c.Universes, c.Universes[0]) }},
		{"universe without events", func(c *Config) { c.Universes[0].EventsPath = "" }},
		{"tolerance above one", func(c *Config) { c.Build.AnomalyTolerance = 1.5 }},
		{"bad same day order", func(c *Config) { c.Build.SameDayOrder = "sideways" }},
		{"bad min date", func(c *Config) { c.Build.MinDate = "2020-13-01" }},
		{"zero gc ttl", func(c *Config) { c.GC.TTL = 0 }},
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadCalendar_Missing(t *testing.T) {
	cfg := validConfig()
	cfg.Calendar = CalendarConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("a config without calendar is valid for queries: %v", err)
	}
	_, err := cfg.LoadCalendar()
	if merrors.GetCode(err) != merrors.CodeCalendarUnavailable {
		t.Errorf("expected CALENDAR_UNAVAILABLE, got %v", err)
	}
}

func TestValidate_NegativeToleranceDisablesCheck(t *testing.T) {
	cfg := validConfig()
	cfg.Build.AnomalyTolerance = -1
	if err := cfg.Validate(); err != nil {
		t.Errorf("negative tolerance should be accepted: %v", err)
	}
}
