// Package config loads the query engine configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults (Default)
//  2. YAML file
//  3. CLUSO_* environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Timeout failure strategies
const (
	TimeoutReturn    = "RETURN"
	TimeoutException = "EXCEPTION"
)

// Index backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Defaults
const (
	DefaultPrefetchThreshold = 100
	DefaultStatsAlpha        = 0.1
	DefaultBatchSize         = 100
	DefaultMaxRetries        = 3
	DefaultPlanCacheSize     = 256
)

// validate is a singleton validator instance
var validate = validator.New()

// Config holds engine settings
type Config struct {
	// QueryTimeout applies to statements without an explicit TIMEOUT; zero disables it
	QueryTimeout time.Duration `yaml:"query_timeout" validate:"gte=0"`

	// TimeoutStrategy decides whether an expired timeout yields an empty result or an error
	TimeoutStrategy string `yaml:"timeout_strategy" validate:"oneof=RETURN EXCEPTION"`

	// MaxRetries is the default retry count for RETRY blocks
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=1000"`

	// PrefetchThreshold caps filtered root estimates; aliases estimated below it are prefetched
	PrefetchThreshold int64 `yaml:"prefetch_threshold" validate:"gte=0"`

	// StatsAlpha is the weight of a new fan-out sample in the moving average
	StatsAlpha float64 `yaml:"stats_alpha" validate:"gt=0,lte=1"`

	// BatchSize is the row cadence of batch commits and the default pull size
	BatchSize int `yaml:"batch_size" validate:"gte=1,lte=1000000"`

	// PlanCacheSize bounds the number of cached plans; zero disables caching
	PlanCacheSize int `yaml:"plan_cache_size" validate:"gte=0"`

	// Profiling records per-step timings shown by PrettyPrint
	Profiling bool `yaml:"profiling"`

	IndexBackend string `yaml:"index_backend" validate:"oneof=memory badger"`
	BadgerDir    string `yaml:"badger_dir" validate:"required_if=IndexBackend badger"`

	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TimeoutStrategy:   TimeoutException,
		MaxRetries:        DefaultMaxRetries,
		PrefetchThreshold: DefaultPrefetchThreshold,
		StatsAlpha:        DefaultStatsAlpha,
		BatchSize:         DefaultBatchSize,
		PlanCacheSize:     DefaultPlanCacheSize,
		IndexBackend:      BackendMemory,
		LogLevel:          "info",
	}
}

// Load builds a configuration from defaults, the optional YAML file at path,
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays CLUSO_* environment variables.
func (c *Config) ApplyEnv() error {
	var errs []error

	if v := os.Getenv("CLUSO_QUERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, envErr("CLUSO_QUERY_TIMEOUT", err))
		if err == nil {
			c.QueryTimeout = d
		}
	}
	if v := os.Getenv("CLUSO_TIMEOUT_STRATEGY"); v != "" {
		c.TimeoutStrategy = strings.ToUpper(v)
	}
	c.MaxRetries = envInt("CLUSO_MAX_RETRIES", c.MaxRetries, &errs)
	c.PrefetchThreshold = int64(envInt("CLUSO_PREFETCH_THRESHOLD", int(c.PrefetchThreshold), &errs))
	if v := os.Getenv("CLUSO_STATS_ALPHA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("CLUSO_STATS_ALPHA", err))
		if err == nil {
			c.StatsAlpha = f
		}
	}
	c.BatchSize = envInt("CLUSO_BATCH_SIZE", c.BatchSize, &errs)
	c.PlanCacheSize = envInt("CLUSO_PLAN_CACHE_SIZE", c.PlanCacheSize, &errs)
	if v := os.Getenv("CLUSO_PROFILING"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, envErr("CLUSO_PROFILING", err))
		if err == nil {
			c.Profiling = b
		}
	}
	c.IndexBackend = getEnvOrDefault("CLUSO_INDEX_BACKEND", c.IndexBackend)
	c.BadgerDir = getEnvOrDefault("CLUSO_BADGER_DIR", c.BadgerDir)
	if v := os.Getenv("CLUSO_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	return errors.Join(errs...)
}

// Validate checks the struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, envErr(key, err))
		return def
	}
	return n
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

// formatValidationError reports the first failing field in a readable form
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]
	switch e.Tag() {
	case "oneof":
		return fmt.Errorf("config %s: must be one of [%s], got %v", e.Field(), e.Param(), e.Value())
	case "required_if":
		return fmt.Errorf("config %s: required when %s", e.Field(), e.Param())
	case "gt", "gte":
		return fmt.Errorf("config %s: must be %s %s, got %v", e.Field(), e.Tag(), e.Param(), e.Value())
	case "lt", "lte":
		return fmt.Errorf("config %s: must be %s %s, got %v", e.Field(), e.Tag(), e.Param(), e.Value())
	}
	return fmt.Errorf("config %s: validation failed (%s)", e.Field(), e.Tag())
}
