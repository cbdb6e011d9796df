package core

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable holding the optional YAML
// configuration file path.
const ConfigFileEnv = "LIFECYCLE_CONFIG"

// Config holds all host configuration values.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file named by LIFECYCLE_CONFIG, and environment variables (which
// main loads from .env via godotenv).
type Config struct {
	// DevMode selects colored console logging at debug level.
	DevMode bool `yaml:"dev_mode"`
	// LogFile is the rotating log file path. Empty logs to console only.
	LogFile string `yaml:"log_file"`
	// LogLevel overrides the level implied by DevMode.
	LogLevel string `yaml:"log_level"`

	// JournalPath is the SQLite file that records phase outcomes. Empty
	// disables the journal.
	JournalPath string `yaml:"journal_path"`

	// MetricsAddr is the listen address for /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// TracesEnabled exports lifecycle spans over OTLP/HTTP using the
	// standard OTEL_EXPORTER_OTLP_* environment variables.
	TracesEnabled bool `yaml:"traces_enabled"`

	// ServiceName identifies the host in traces, metrics and the OS service manager.
	ServiceName string `yaml:"service_name"`

	// ForceAfterSignals is the signal count that forces immediate exit.
	ForceAfterSignals int `yaml:"force_after_signals"`

	// VetoRetryInterval re-attempts a vetoed shutdown after this delay.
	// Zero waits for the next shutdown request instead.
	VetoRetryInterval time.Duration `yaml:"-"`
	// VetoRetrySeconds is the YAML form of VetoRetryInterval.
	VetoRetrySeconds int `yaml:"veto_retry_seconds"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		LogFile:           "lifecycle.log",
		ServiceName:       "app-lifecycle",
		ForceAfterSignals: 2,
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// and the environment, then validates it.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeFile overlays the YAML file at path onto cfg.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrConfigFileUnreadable(path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return ErrConfigFileInvalid(path, err)
	}
	c.VetoRetryInterval = time.Duration(c.VetoRetrySeconds) * time.Second
	return nil
}

// applyEnv overlays environment variables onto cfg.
func (c *Config) applyEnv() {
	c.DevMode = ParseBoolEnv("DEV_MODE", c.DevMode)
	c.LogFile = LookupEnvString("LOG_FILE", c.LogFile)
	c.LogLevel = GetEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.JournalPath = LookupEnvString("JOURNAL_PATH", c.JournalPath)
	c.MetricsAddr = LookupEnvString("METRICS_ADDR", c.MetricsAddr)
	c.TracesEnabled = ParseBoolEnv("TRACES_ENABLED", c.TracesEnabled)
	c.ServiceName = GetEnvOrDefault("SERVICE_NAME", c.ServiceName)
	c.ForceAfterSignals = ParseIntEnv("FORCE_AFTER_SIGNALS", c.ForceAfterSignals)
	c.VetoRetrySeconds = ParseIntEnv("VETO_RETRY_SECONDS", c.VetoRetrySeconds)
	c.VetoRetryInterval = time.Duration(c.VetoRetrySeconds) * time.Second
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ForceAfterSignals < 1 {
		return ErrInvalidValue("FORCE_AFTER_SIGNALS", c.ForceAfterSignals, "must be at least 1")
	}
	if c.VetoRetrySeconds < 0 {
		return ErrInvalidValue("VETO_RETRY_SECONDS", c.VetoRetrySeconds, "must not be negative")
	}
	if c.ServiceName == "" {
		return ErrInvalidValue("SERVICE_NAME", `""`, "must not be empty")
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return ErrInvalidValue("METRICS_ADDR", c.MetricsAddr, fmt.Sprintf("not a host:port address (%v)", err))
		}
	}
	return nil
}
