package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds runtime configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	// DBPath is the libsql database file for run history and schedules.
	DBPath string `json:"db_path"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`
	// MetricsAddr is the listen address of the metrics/health server in
	// serve mode. Empty disables it.
	MetricsAddr string `json:"metrics_addr"`

	// HTTP client settings.
	HTTPTimeout     time.Duration `json:"-"`
	MaxResponseBody int64         `json:"max_response_body"`
	FollowRedirects bool          `json:"follow_redirects"`
	TLSSkipVerify   bool          `json:"tls_skip_verify"`

	// Default retry policy for cases that declare none.
	RetryMax       int           `json:"retry_max"`
	RetryBaseDelay time.Duration `json:"-"`
	RetryMaxDelay  time.Duration `json:"-"`

	// Schema validation settings.
	StrictSchemas    bool   `json:"strict_schemas"`
	CoerceTypes      bool   `json:"coerce_types"`
	RemoveAdditional string `json:"remove_additional"`

	// NoColor disables colored console reports.
	NoColor bool `json:"no_color"`

	// Raw duration strings from settings.json, parsed in finish().
	HTTPTimeoutStr    string `json:"http_timeout"`
	RetryBaseDelayStr string `json:"retry_base_delay"`
	RetryMaxDelayStr  string `json:"retry_max_delay"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(restprobeDir(), "restprobe.db"),
		LogLevel:        "info",
		MetricsAddr:     ":9090",
		HTTPTimeout:     30 * time.Second,
		MaxResponseBody: 10 << 20,
		FollowRedirects: true,
		RetryMax:        3,
		RetryBaseDelay:  time.Second,
		RetryMaxDelay:   10 * time.Second,
	}
}

// restprobeDir returns ~/.restprobe, falling back to the working directory
// when the home directory cannot be resolved.
func restprobeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".restprobe"
	}
	return filepath.Join(home, ".restprobe")
}

func settingsPath() string {
	return filepath.Join(restprobeDir(), "settings.json")
}

// loadConfig builds the effective configuration from defaults, the
// settings file, and environment variables, in that order.
func loadConfig() (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", settingsPath(), err)
	}

	applyEnv(&cfg)

	if err := cfg.finish(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RESTPROBE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RESTPROBE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RESTPROBE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("RESTPROBE_HTTP_TIMEOUT"); v != "" {
		cfg.HTTPTimeoutStr = v
	}
	if v := os.Getenv("RESTPROBE_MAX_RESPONSE_BODY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxResponseBody = n
		}
	}
	if v := os.Getenv("RESTPROBE_FOLLOW_REDIRECTS"); v != "" {
		cfg.FollowRedirects = v == "true" || v == "1"
	}
	if v := os.Getenv("RESTPROBE_TLS_SKIP_VERIFY"); v != "" {
		cfg.TLSSkipVerify = v == "true" || v == "1"
	}
	if v := os.Getenv("RESTPROBE_RETRY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMax = n
		}
	}
	if v := os.Getenv("RESTPROBE_RETRY_BASE_DELAY"); v != "" {
		cfg.RetryBaseDelayStr = v
	}
	if v := os.Getenv("RESTPROBE_RETRY_MAX_DELAY"); v != "" {
		cfg.RetryMaxDelayStr = v
	}
	if v := os.Getenv("RESTPROBE_STRICT_SCHEMAS"); v != "" {
		cfg.StrictSchemas = v == "true" || v == "1"
	}
	if v := os.Getenv("RESTPROBE_COERCE_TYPES"); v != "" {
		cfg.CoerceTypes = v == "true" || v == "1"
	}
	if v := os.Getenv("RESTPROBE_REMOVE_ADDITIONAL"); v != "" {
		cfg.RemoveAdditional = v
	}
	if v := os.Getenv("NO_COLOR"); v != "" {
		cfg.NoColor = true
	}
}

// finish parses the duration strings collected from settings.json and the
// environment into their typed fields.
func (c *Config) finish() error {
	for _, d := range []struct {
		raw  string
		dest *time.Duration
		name string
	}{
		{c.HTTPTimeoutStr, &c.HTTPTimeout, "http_timeout"},
		{c.RetryBaseDelayStr, &c.RetryBaseDelay, "retry_base_delay"},
		{c.RetryMaxDelayStr, &c.RetryMaxDelay, "retry_max_delay"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dest = parsed
	}
	return nil
}
