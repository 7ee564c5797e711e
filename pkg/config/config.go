// Package config loads the imgserve server configuration.
//
// Values are resolved with the priority cascade
// defaults < JSON config file < IMGSERVE_* environment variables < flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "IMGSERVE_"

// Config holds all resolved configuration values.
type Config struct {
	Addr           string            `json:"addr"`
	DataDir        string            `json:"data_dir"`
	ExperimentsDir string            `json:"experiments_dir"`
	StaticDir      string            `json:"static_dir"`
	AllowedOrigins []string          `json:"allowed_origins"`
	Users          map[string]string `json:"-"`
	RateLimit      float64           `json:"rate_limit"`
	RateBurst      int               `json:"rate_burst"`
	ListingTTL     time.Duration     `json:"-"`
	LogLevel       string            `json:"log_level"`
	TLSCert        string            `json:"tls_cert"`
	TLSKey         string            `json:"tls_key"`
}

// FlagOverrides holds values explicitly set via command-line flags.
// Nil pointer means the flag was not set (so lower-priority values are kept).
type FlagOverrides struct {
	Addr     *string
	DataDir  *string
	LogLevel *string
}

// Defaults returns the base configuration.
func Defaults() Config {
	return Config{
		Addr:      ":8080",
		DataDir:   "static/data",
		StaticDir: "static",
		AllowedOrigins: []string{
			"comp-syn.ialcloud.xyz:443",
			"comp-syn.com:443",
			"localhost:8080",
		},
		Users:      map[string]string{},
		RateLimit:  10,
		RateBurst:  20,
		ListingTTL: time.Minute,
		LogLevel:   "info",
	}
}

// Load builds the final configuration by applying the priority cascade:
// defaults < the JSON file at path (optional) < environment < flags.
func Load(path string, flags *FlagOverrides) (Config, error) {
	return load(path, os.Environ(), flags)
}

func load(path string, environ []string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadJSONFile(&cfg, path); err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
	}

	if err := loadEnvVars(&cfg, environ); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	if cfg.ExperimentsDir == "" {
		cfg.ExperimentsDir = filepath.Join(cfg.DataDir, "csv", "experiments")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// fileConfig uses pointers to distinguish "not set" from zero values.
type fileConfig struct {
	Addr           *string  `json:"addr"`
	DataDir        *string  `json:"data_dir"`
	ExperimentsDir *string  `json:"experiments_dir"`
	StaticDir      *string  `json:"static_dir"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimit      *float64 `json:"rate_limit"`
	RateBurst      *int     `json:"rate_burst"`
	ListingTTL     *string  `json:"listing_ttl"`
	LogLevel       *string  `json:"log_level"`
	TLSCert        *string  `json:"tls_cert"`
	TLSKey         *string  `json:"tls_key"`
}

// loadJSONFile reads a JSON config file and merges the values it sets into
// cfg. Passwords are never read from the file.
func loadJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&cfg.Addr, fc.Addr)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.ExperimentsDir, fc.ExperimentsDir)
	setString(&cfg.StaticDir, fc.StaticDir)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.TLSCert, fc.TLSCert)
	setString(&cfg.TLSKey, fc.TLSKey)

	if fc.AllowedOrigins != nil {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.RateLimit != nil {
		cfg.RateLimit = *fc.RateLimit
	}
	if fc.RateBurst != nil {
		cfg.RateBurst = *fc.RateBurst
	}
	if fc.ListingTTL != nil {
		ttl, err := time.ParseDuration(*fc.ListingTTL)
		if err != nil {
			return fmt.Errorf("parse %s: listing_ttl: %w", path, err)
		}
		cfg.ListingTTL = ttl
	}

	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// loadEnvVars applies IMGSERVE_* overrides from environ ("KEY=value" pairs).
// IMGSERVE_USER_<NAME>_PASSWORD adds user <name>, lower-cased.
func loadEnvVars(cfg *Config, environ []string) error {
	var errs []error

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) || value == "" {
			continue
		}
		name := strings.TrimPrefix(key, EnvPrefix)

		switch name {
		case "ADDR":
			cfg.Addr = value
		case "DATA_DIR":
			cfg.DataDir = value
		case "EXPERIMENTS_DIR":
			cfg.ExperimentsDir = value
		case "STATIC_DIR":
			cfg.StaticDir = value
		case "LOG_LEVEL":
			cfg.LogLevel = value
		case "TLS_CERT":
			cfg.TLSCert = value
		case "TLS_KEY":
			cfg.TLSKey = value
		case "ALLOWED_ORIGINS":
			cfg.AllowedOrigins = splitList(value)
		case "RATE_LIMIT":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			cfg.RateLimit = v
		case "RATE_BURST":
			v, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			cfg.RateBurst = v
		case "LISTING_TTL":
			v, err := time.ParseDuration(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			cfg.ListingTTL = v
		default:
			if user, ok := strings.CutPrefix(name, "USER_"); ok {
				if user, ok := strings.CutSuffix(user, "_PASSWORD"); ok && user != "" {
					cfg.Users[strings.ToLower(user)] = value
				}
			}
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	list := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// applyFlags applies command-line flag overrides (highest priority).
func applyFlags(cfg *Config, flags *FlagOverrides) {
	setString(&cfg.Addr, flags.Addr)
	setString(&cfg.DataDir, flags.DataDir)
	setString(&cfg.LogLevel, flags.LogLevel)
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative, got %v", c.RateLimit)
	}

	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1, got %d", c.RateBurst)
	}

	if c.ListingTTL < 0 {
		return fmt.Errorf("listing_ttl must not be negative, got %v", c.ListingTTL)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}

	return nil
}

// UserNames returns the configured user names, sorted.
func (c Config) UserNames() []string {
	names := make([]string, 0, len(c.Users))
	for name := range c.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseLevel parses a log level name: debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
	}
}
