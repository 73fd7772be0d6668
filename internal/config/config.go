// Package config loads service settings from an optional YAML file overlaid by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tripopt/internal/planner"
)

type Config struct {
	Port          string         `yaml:"port"`
	DatabaseURL   string         `yaml:"database_url"`
	DBMigrate     bool           `yaml:"db_migrate"`
	MigrationsDir string         `yaml:"migrations_dir"`
	RedisURL      string         `yaml:"redis_url"`
	RateRPS       float64        `yaml:"rate_rps"`
	RateBurst     int            `yaml:"rate_burst"`
	LogLevel      string         `yaml:"log_level"`
	OSRM          OSRM           `yaml:"osrm"`
	Planner       planner.Config `yaml:"planner"`
}

// OSRM configures the external trip optimizer; an empty URL disables it.
type OSRM struct {
	URL   string  `yaml:"url"`
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func DefaultConfig() Config {
	return Config{
		Port:          "8080",
		DBMigrate:     true,
		MigrationsDir: "db/migrations",
		RateRPS:       20,
		RateBurst:     40,
		LogLevel:      "info",
		OSRM:          OSRM{RPS: 5, Burst: 5},
		Planner:       planner.DefaultConfig(),
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(k string, dst *string) {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(k string, set func(string) error) {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			if err := set(strings.TrimSpace(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
			}
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("OSRM_URL", &c.OSRM.URL)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		c.DBMigrate = v != "false"
	}
	num("RATE_RPS", func(v string) (err error) { c.RateRPS, err = strconv.ParseFloat(v, 64); return })
	num("RATE_BURST", func(v string) (err error) { c.RateBurst, err = strconv.Atoi(v); return })
	num("OSRM_RPS", func(v string) (err error) { c.OSRM.RPS, err = strconv.ParseFloat(v, 64); return })
	num("OSRM_BURST", func(v string) (err error) { c.OSRM.Burst, err = strconv.Atoi(v); return })
	num("OSRM_TIMEOUT_MS", func(v string) error {
		ms, err := strconv.Atoi(v)
		c.Planner.ExternalTimeout = time.Duration(ms) * time.Millisecond
		return err
	})
	num("SMALL_TRIP_MAX_STOPS", func(v string) (err error) { c.Planner.SmallTripMaxStops, err = strconv.Atoi(v); return })
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("port %q out of range", c.Port))
	}
	if c.RateRPS < 0 || (c.RateRPS > 0 && c.RateBurst < 1) {
		errs = append(errs, errors.New("rate limit needs rps >= 0 and burst >= 1"))
	}
	if c.OSRM.RPS < 0 || (c.OSRM.RPS > 0 && c.OSRM.Burst < 1) {
		errs = append(errs, errors.New("osrm rate limit needs rps >= 0 and burst >= 1"))
	}
	if c.Planner.SmallTripMaxStops < 1 {
		errs = append(errs, errors.New("small_trip_max_stops must be >= 1"))
	}
	if c.Planner.ExternalTimeout <= 0 {
		errs = append(errs, errors.New("external timeout must be positive"))
	}
	if ga := c.Planner.GA; ga.PopulationSize < 0 || ga.Generations < 0 || ga.EliteSize < 0 || ga.MutationRate < 0 || ga.MutationRate > 1 {
		errs = append(errs, errors.New("ga parameters must be non-negative and mutation_rate <= 1"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger: development output for debug, JSON otherwise.
func (c Config) NewLogger() (*zap.Logger, error) {
	if strings.EqualFold(c.LogLevel, "debug") {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if c.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(strings.ToLower(c.LogLevel))
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}
