// Package config loads the sample client settings from a .env file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "http://hapi.fhir.org/baseR4"
	DefaultFamily  = "SMITH"
)

// Config holds the settings of one run
type Config struct {
	BaseURL      string
	Family       string
	MaxPages     int // 0 follows every next link
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
	LogLevel     zerolog.Level
	LogBodies    bool
	OutputDir    string
}

// Default returns the settings used when nothing is configured: the first
// page of a family=SMITH search on the public HAPI test server.
func Default() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Family:       DefaultFamily,
		MaxPages:     1,
		RetryMax:     3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 30 * time.Second,
		Timeout:      60 * time.Second,
		LogLevel:     zerolog.InfoLevel,
	}
}

// Load reads envFile into the process environment, if it exists, and builds
// the configuration from the environment. Variables already set in the
// environment take precedence over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from lookup, starting from Default
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("FHIR_BASE_URL"); ok {
		cfg.BaseURL = v
	}
	if v, ok := get("FHIR_FAMILY"); ok {
		cfg.Family = v
	}
	if v, ok := get("OUTPUT_DIR"); ok {
		cfg.OutputDir = v
	}

	var err error
	if v, ok := get("FHIR_MAX_PAGES"); ok {
		if cfg.MaxPages, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid FHIR_MAX_PAGES %q: %w", v, err)
		}
	}
	if v, ok := get("FHIR_RETRY_MAX"); ok {
		if cfg.RetryMax, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("invalid FHIR_RETRY_MAX %q: %w", v, err)
		}
	}
	durations := map[string]*time.Duration{
		"FHIR_RETRY_WAIT_MIN": &cfg.RetryWaitMin,
		"FHIR_RETRY_WAIT_MAX": &cfg.RetryWaitMax,
		"FHIR_TIMEOUT":        &cfg.Timeout,
	}
	for key, dst := range durations {
		if v, ok := get(key); ok {
			if *dst, err = time.ParseDuration(v); err != nil {
				return Config{}, fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		if cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(v)); err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", v, err)
		}
	}
	if v, ok := get("LOG_BODIES"); ok {
		if cfg.LogBodies, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("invalid LOG_BODIES %q: %w", v, err)
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that cannot be used for a search
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL %q: scheme must be http or https", c.BaseURL)
	}
	if c.Family == "" {
		return errors.New("family name must not be empty")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max pages must not be negative, got %d", c.MaxPages)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("retry max must not be negative, got %d", c.RetryMax)
	}
	if c.RetryWaitMin > c.RetryWaitMax {
		return fmt.Errorf("retry wait min %s exceeds max %s", c.RetryWaitMin, c.RetryWaitMax)
	}
	return nil
}
