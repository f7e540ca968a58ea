// Package config loads and validates the harvester configuration from a
// YAML file, a .env file, and environment variables, in that order of
// precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stacktools/teams-harvester/pkg/client"
	"github.com/stacktools/teams-harvester/pkg/ratelimit"
	"github.com/stacktools/teams-harvester/pkg/timewindow"
)

// Config holds all configuration for one harvesting run.
type Config struct {
	API       APIConfig       `yaml:"api"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Harvest   HarvestConfig   `yaml:"harvest"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig holds upstream endpoint settings and credentials.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	DetailBaseURL  string        `yaml:"detail_base_url"`
	Token          string        `yaml:"token"`
	UserAgent      string        `yaml:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RateLimitConfig mirrors the upstream quota model.
type RateLimitConfig struct {
	BurstLimit     int           `yaml:"burst_limit"`
	BurstWindow    time.Duration `yaml:"burst_window"`
	BucketCapacity int           `yaml:"bucket_capacity"`
	RefillTokens   int           `yaml:"refill_tokens"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// HarvestConfig selects what one run collects.
type HarvestConfig struct {
	// Mode is "subject" or "content".
	Mode string `yaml:"mode"`

	// Concurrency bounds the number of subjects resolved in parallel.
	Concurrency int `yaml:"concurrency"`

	// Filter is one of week, month, quarter, year, none, custom.
	Filter string `yaml:"filter"`

	// FromDate and ToDate bound a custom filter, formatted 2006-01-02.
	FromDate string `yaml:"from_date"`
	ToDate   string `yaml:"to_date"`
}

// OutputConfig controls where and how records are written.
type OutputConfig struct {
	Directory string `yaml:"directory"`

	// File overrides the generated file name when set.
	File string `yaml:"file"`

	// Format is "json" or "csv". CSV is available in content mode only.
	Format string `yaml:"format"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the standard configuration.
func Default() *Config {
	rl := ratelimit.DefaultConfig()
	return &Config{
		API: APIConfig{
			UserAgent:      "teams-harvester/1.0",
			RequestTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			BurstLimit:     rl.BurstLimit,
			BurstWindow:    rl.BurstWindow,
			BucketCapacity: rl.BucketCapacity,
			RefillTokens:   rl.RefillTokens,
			RefillInterval: rl.RefillInterval,
		},
		Harvest: HarvestConfig{
			Mode:        "subject",
			Concurrency: 10,
			Filter:      string(timewindow.FilterNone),
		},
		Output: OutputConfig{
			Directory: ".",
			Format:    "json",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (optional when empty), then .env, then environment variables. The
// result is validated.
func Load(path string) (*Config, error) {
	// Missing .env is fine; environment variables still apply.
	_ = godotenv.Load()

	cfg := Default()
	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile merges a YAML config file into c. An empty path is a no-op.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overrides settings from HARVESTER_* environment variables.
func (c *Config) LoadFromEnv() {
	setString(&c.API.BaseURL, "HARVESTER_BASE_URL")
	setString(&c.API.DetailBaseURL, "HARVESTER_DETAIL_BASE_URL")
	setString(&c.API.Token, "HARVESTER_TOKEN")
	setString(&c.API.UserAgent, "HARVESTER_USER_AGENT")

	setString(&c.Harvest.Mode, "HARVESTER_MODE")
	setInt(&c.Harvest.Concurrency, "HARVESTER_CONCURRENCY")
	setString(&c.Harvest.Filter, "HARVESTER_FILTER")
	setString(&c.Harvest.FromDate, "HARVESTER_FROM_DATE")
	setString(&c.Harvest.ToDate, "HARVESTER_TO_DATE")

	setString(&c.Output.Directory, "HARVESTER_OUTPUT_DIR")
	setString(&c.Output.File, "HARVESTER_OUTPUT_FILE")
	setString(&c.Output.Format, "HARVESTER_OUTPUT_FORMAT")

	setString(&c.Logging.Level, "HARVESTER_LOG_LEVEL")
}

// Validate checks the configuration before any network call is issued.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return &timewindow.ConfigError{Field: "api.base_url", Reason: "is required"}
	}
	if c.API.Token == "" {
		return &timewindow.ConfigError{Field: "api.token", Reason: "is required"}
	}
	if c.Harvest.Concurrency <= 0 {
		return &timewindow.ConfigError{Field: "harvest.concurrency", Reason: "must be positive"}
	}

	switch c.Harvest.Mode {
	case "subject", "content":
	default:
		return &timewindow.ConfigError{
			Field:  "harvest.mode",
			Reason: fmt.Sprintf("must be subject or content, got %q", c.Harvest.Mode),
		}
	}

	switch strings.ToLower(c.Output.Format) {
	case "json":
	case "csv":
		if c.Harvest.Mode != "content" {
			return &timewindow.ConfigError{
				Field:  "output.format",
				Reason: "csv output requires content mode",
			}
		}
	default:
		return &timewindow.ConfigError{
			Field:  "output.format",
			Reason: fmt.Sprintf("must be json or csv, got %q", c.Output.Format),
		}
	}

	if c.RateLimit.BurstLimit <= 0 || c.RateLimit.BucketCapacity <= 0 {
		return &timewindow.ConfigError{Field: "rate_limit", Reason: "limits must be positive"}
	}

	// Resolving the window validates the filter and custom bounds.
	if _, err := c.Window(); err != nil {
		return err
	}
	return nil
}

// Window resolves the configured time filter into concrete bounds.
func (c *Config) Window() (timewindow.Window, error) {
	filter := timewindow.Filter(c.Harvest.Filter)

	var from, to time.Time
	if filter == timewindow.FilterCustom {
		var err error
		if from, err = parseDate(c.Harvest.FromDate); err != nil {
			return timewindow.Window{}, &timewindow.ConfigError{
				Field:  "harvest.from_date",
				Reason: err.Error(),
			}
		}
		if to, err = parseDate(c.Harvest.ToDate); err != nil {
			return timewindow.Window{}, &timewindow.ConfigError{
				Field:  "harvest.to_date",
				Reason: err.Error(),
			}
		}
	}
	return timewindow.Resolve(filter, from, to)
}

// ClientConfig converts to the executor configuration.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:        c.API.BaseURL,
		DetailBaseURL:  c.API.DetailBaseURL,
		Token:          c.API.Token,
		UserAgent:      c.API.UserAgent,
		RequestTimeout: c.API.RequestTimeout,
	}
}

// LimiterConfig converts to the rate limiter configuration.
func (c *Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		BurstLimit:     c.RateLimit.BurstLimit,
		BurstWindow:    c.RateLimit.BurstWindow,
		BucketCapacity: c.RateLimit.BucketCapacity,
		RefillTokens:   c.RateLimit.RefillTokens,
		RefillInterval: c.RateLimit.RefillInterval,
	}
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("date is required for custom filter")
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", value)
	}
	return t, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
