// Package config provides the configuration for the meridian CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/meridianidx/meridian/internal/calendar"
	merrors "github.com/meridianidx/meridian/internal/errors"
	"github.com/meridianidx/meridian/internal/events"
	"github.com/meridianidx/meridian/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "MERIDIAN_"

// Config holds the configuration for builds, queries and the server.
type Config struct {
	// DataDir is the base directory for the manifest, staging and cache
	DataDir string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`

	// Storage configuration for published artifacts
	Storage StorageConfig `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`

	// Calendar configuration
	Calendar CalendarConfig `json:"calendar" yaml:"calendar" envPrefix:"CALENDAR_"`

	// Universes lists the universes and their event sources
	Universes []UniverseConfig `json:"universes" yaml:"universes" envPrefix:"UNIVERSES_"`

	// Build configuration
	Build BuildConfig `json:"build" yaml:"build" envPrefix:"BUILD_"`

	// Serve configuration
	Serve ServeConfig `json:"serve" yaml:"serve" envPrefix:"SERVE_"`

	// GC configuration
	GC GCConfig `json:"gc" yaml:"gc" envPrefix:"GC_"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type" env:"TYPE"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path" env:"PATH"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3" envPrefix:"S3_"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket" env:"BUCKET"`
	Region       string `json:"region" yaml:"region" env:"REGION"`
	Endpoint     string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// CalendarConfig points at a calendar file or describes a weekday calendar
// inline. Path wins when both are set.
type CalendarConfig struct {
	Path     string                `json:"path" yaml:"path" env:"PATH"`
	Weekdays *calendar.WeekdaySpec `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
}

// UniverseConfig names a universe and its event file.
type UniverseConfig struct {
	Name       string `json:"name" yaml:"name" env:"NAME"`
	EventsPath string `json:"events_path" yaml:"events_path" env:"EVENTS_PATH"`
}

// BuildConfig holds build configuration.
type BuildConfig struct {
	// AnomalyTolerance is the largest accepted anomalies/events ratio; negative disables it
	AnomalyTolerance float64 `json:"anomaly_tolerance" yaml:"anomaly_tolerance" env:"ANOMALY_TOLERANCE"`

	// MinDate drops events before it on rebuild (YYYY-MM-DD, optional)
	MinDate string `json:"min_date" yaml:"min_date" env:"MIN_DATE"`

	// WorkDir holds per-build staging directories
	WorkDir string `json:"work_dir" yaml:"work_dir" env:"WORK_DIR"`

	// SameDayOrder is remove_first or add_first
	SameDayOrder string `json:"same_day_order" yaml:"same_day_order" env:"SAME_DAY_ORDER"`
}

// ServeConfig holds HTTP and gRPC server configuration.
type ServeConfig struct {
	HTTPAddr     string        `json:"http_addr" yaml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr     string        `json:"grpc_addr" yaml:"grpc_addr" env:"GRPC_ADDR"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// GCConfig holds garbage collection configuration.
type GCConfig struct {
	// TTL is how long superseded artifacts are kept
	TTL time.Duration `json:"ttl" yaml:"ttl" env:"TTL"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/meridian",
		Storage: StorageConfig{
			Type: "local",
			S3:   S3Config{Region: "us-east-1"},
		},
		Build: BuildConfig{
			AnomalyTolerance: 0.05,
			SameDayOrder:     string(events.RemoveFirst),
		},
		Serve: ServeConfig{
			HTTPAddr:     ":8080",
			GRPCAddr:     ":9090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		GC: GCConfig{
			TTL: 7 * 24 * time.Hour,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/meridian"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Build.WorkDir == "" {
		c.Build.WorkDir = filepath.Join(c.DataDir, "staging")
	}
}

// ManifestPath returns the path to the manifest database.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.db")
}

// CacheDir returns the directory downloaded artifacts are cached in.
func (c *Config) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	seen := make(map[string]bool, len(c.Universes))
	for i, u := range c.Universes {
		if u.Name == "" {
			return fmt.Errorf("universes[%d].name is required", i)
		}
		if seen[u.Name] {
			return fmt.Errorf("universe %s is configured twice", u.Name)
		}
		seen[u.Name] = true
		if u.EventsPath == "" {
			return fmt.Errorf("universe %s: events_path is required", u.Name)
		}
	}

	if c.Build.AnomalyTolerance > 1 {
		return fmt.Errorf("build.anomaly_tolerance must be at most 1, got %g", c.Build.AnomalyTolerance)
	}
	if _, err := events.ParseSameDayOrder(c.Build.SameDayOrder); err != nil {
		return fmt.Errorf("build.same_day_order: %w", err)
	}
	if _, err := c.MinDate(); err != nil {
		return err
	}

	if c.GC.TTL <= 0 {
		return fmt.Errorf("gc.ttl must be positive, got %s", c.GC.TTL)
	}
	return nil
}

// MinDate returns the configured rebuild floor, or types.NoDate when unset.
func (c *Config) MinDate() (types.Date, error) {
	if strings.TrimSpace(c.Build.MinDate) == "" {
		return types.NoDate, nil
	}
	d, err := types.ParseDate(strings.TrimSpace(c.Build.MinDate))
	if err != nil {
		return types.NoDate, fmt.Errorf("build.min_date: %w", err)
	}
	return d, nil
}

// EventPaths returns the universe -> events file map.
func (c *Config) EventPaths() map[string]string {
	paths := make(map[string]string, len(c.Universes))
	for _, u := range c.Universes {
		paths[u.Name] = u.EventsPath
	}
	return paths
}

// HasUniverse reports whether name is configured.
func (c *Config) HasUniverse(name string) bool {
	for _, u := range c.Universes {
		if u.Name == name {
			return true
		}
	}
	return false
}

// LoadCalendar loads the configured trading calendar. Only builds need one,
// so its absence is reported here rather than by Validate.
func (c *Config) LoadCalendar() (*calendar.Calendar, error) {
	if c.Calendar.Path != "" {
		return calendar.Load(c.Calendar.Path)
	}
	if c.Calendar.Weekdays == nil {
		return nil, merrors.NewInputError(merrors.CodeCalendarUnavailable,
			"config: calendar.path or calendar.weekdays is required", nil)
	}
	return calendar.FromSpec(calendar.Spec{Weekdays: c.Calendar.Weekdays})
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays MERIDIAN_* environment variables onto cfg. Unset
// variables leave the current value in place.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Build.WorkDir, c.CacheDir()}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
