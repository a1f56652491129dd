// Package config loads the scraper configuration from an optional file,
// WRANGLER_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/abelzeko/reservoir-wrangler/internal/repository"
	"github.com/spf13/viper"
)

// Recognized keys
const (
	KeyDir          = "DIR"
	KeySQLite       = "SQLITE3"
	KeyJSON         = "JSON"
	KeyPickle       = "PICKLE"
	KeyCSV          = "CSV"
	KeyYAML         = "YAML"
	KeyDBFile       = "DB_FILE"
	KeyHomeURL      = "HOME_URL"
	KeyStartDate    = "START_DATE"
	KeyMaxDelay     = "MAX_DELAY"
	KeyRateLimit    = "RATE_LIMIT"
	KeyWorkers      = "WORKERS"
	KeyFetchTimeout = "FETCH_TIMEOUT"
	KeySchedule     = "SCHEDULE"
	KeyMetricsAddr  = "METRICS_ADDR"
	KeyLogLevel     = "LOG_LEVEL"
)

// EnvPrefix prefixes environment overrides, e.g. WRANGLER_DIR.
const EnvPrefix = "WRANGLER"

// DefaultFile is read from the working directory when no file is given.
const DefaultFile = "config.json"

// Config is built once at startup and passed to every component.
type Config struct {
	Dir          string
	SQLite       bool
	JSON         bool
	Pickle       bool // serialized-object blob
	CSV          bool
	YAML         bool
	DBFile       string
	HomeURL      string
	StartDate    string
	MaxDelay     time.Duration
	RateLimit    float64
	Workers      int
	FetchTimeout time.Duration
	Schedule     string
	MetricsAddr  string
	LogLevel     slog.Level
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDir, "__output__")
	v.SetDefault(KeySQLite, true)
	v.SetDefault(KeyJSON, true)
	v.SetDefault(KeyPickle, true)
	v.SetDefault(KeyCSV, true)
	v.SetDefault(KeyYAML, false)
	v.SetDefault(KeyDBFile, "sar.db")
	v.SetDefault(KeyHomeURL, "https://www.ana.gov.br/sar0/Home")
	v.SetDefault(KeyStartDate, "01/01/1980")
	v.SetDefault(KeyMaxDelay, "10s")
	v.SetDefault(KeyRateLimit, 0.0)
	v.SetDefault(KeyWorkers, 0)
	v.SetDefault(KeyFetchTimeout, "0s")
	v.SetDefault(KeySchedule, "")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyLogLevel, "info")
}

// New returns a viper instance with defaults and environment overrides. The
// configuration file, if any, is read by Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// fills missing keys with defaults and creates the output directory.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Info("Loaded configuration file", "path", path)
	}

	cfg, err := FromViper(v)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return cfg, nil
}

// FromViper converts and validates the values held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyLogLevel, err)
	}

	cfg := &Config{
		Dir:          v.GetString(KeyDir),
		SQLite:       v.GetBool(KeySQLite),
		JSON:         v.GetBool(KeyJSON),
		Pickle:       v.GetBool(KeyPickle),
		CSV:          v.GetBool(KeyCSV),
		YAML:         v.GetBool(KeyYAML),
		DBFile:       v.GetString(KeyDBFile),
		HomeURL:      v.GetString(KeyHomeURL),
		StartDate:    v.GetString(KeyStartDate),
		MaxDelay:     v.GetDuration(KeyMaxDelay),
		RateLimit:    v.GetFloat64(KeyRateLimit),
		Workers:      v.GetInt(KeyWorkers),
		FetchTimeout: v.GetDuration(KeyFetchTimeout),
		Schedule:     strings.TrimSpace(v.GetString(KeySchedule)),
		MetricsAddr:  v.GetString(KeyMetricsAddr),
		LogLevel:     level,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyDir))
	}
	if c.SQLite && c.DBFile == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty when %s is enabled", KeyDBFile, KeySQLite))
	}
	if c.HomeURL == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyHomeURL))
	}
	if _, err := time.Parse("02/01/2006", c.StartDate); err != nil {
		errs = append(errs, fmt.Errorf("%s must be dd/mm/yyyy: %w", KeyStartDate, err))
	}
	if c.MaxDelay < 0 || c.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s and %s must not be negative", KeyMaxDelay, KeyFetchTimeout))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyRateLimit))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyWorkers))
	}
	return errors.Join(errs...)
}

// Formats returns the enabled output formats.
func (c *Config) Formats() repository.Formats {
	return repository.Formats{
		SQLite: c.SQLite,
		JSON:   c.JSON,
		Blob:   c.Pickle,
		CSV:    c.CSV,
		YAML:   c.YAML,
	}
}

// HistoryWorkers returns the history stage bound: Workers when set,
// otherwise min(32, CPUs+4).
func (c *Config) HistoryWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers(runtime.NumCPU())
}

// DefaultWorkers is min(32, cpus+4).
func DefaultWorkers(cpus int) int {
	return min(32, cpus+4)
}
