// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for livestate.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Root is the base directory for livestate data. Other paths may
	// reference it as ${LIVESTATE_ROOT}.
	Root string `yaml:"root"`

	// Store configures the persistent room store.
	Store StoreConfig `yaml:"store"`

	// Session configures mutation sessions.
	Session SessionConfig `yaml:"session"`

	// Snapshot configures snapshot archives.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Log configures the command logger.
	Log LogConfig `yaml:"log"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Store    *StoreConfig    `yaml:"store,omitempty"`
	Session  *SessionConfig  `yaml:"session,omitempty"`
	Snapshot *SnapshotConfig `yaml:"snapshot,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// StoreConfig configures the SQLite room store.
type StoreConfig struct {
	// Path is the database file.
	// Default: ${LIVESTATE_ROOT}/rooms.db
	Path string `yaml:"path"`

	// PoolSize is the number of SQLite connections. Zero selects the
	// pool default.
	PoolSize int `yaml:"pool_size"`
}

// SessionConfig configures mutation sessions.
type SessionConfig struct {
	// FetchTimeout bounds snapshot retrieval. Empty or "0" disables it.
	// Default: 30s
	FetchTimeout string `yaml:"fetch_timeout"`

	// DeliverTimeout bounds op delivery. Empty or "0" disables it.
	// Default: 30s
	DeliverTimeout string `yaml:"deliver_timeout"`

	// MaxPositionLength caps list position keys before siblings are
	// re-keyed. Zero selects the default.
	MaxPositionLength int `yaml:"max_position_length"`

	// MetricsFile, if set, receives the session metrics in the
	// Prometheus text format when a command exits, for a textfile
	// collector to scrape. The file is replaced atomically.
	MetricsFile string `yaml:"metrics_file"`
}

// SnapshotConfig configures snapshot archives.
type SnapshotConfig struct {
	// Compression is the default archive compression: none, zstd, or lz4.
	// Default: zstd
	Compression string `yaml:"compression"`

	// RecipientsFile lists age recipients, one per line. When set,
	// exported archives are encrypted.
	RecipientsFile string `yaml:"recipients_file"`

	// IdentitiesFile holds age identities used to decrypt archives.
	IdentitiesFile string `yaml:"identities_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info (development), warn (production)
	Level string `yaml:"level"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "livestate")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Store: StoreConfig{
			Path: "${LIVESTATE_ROOT}/rooms.db",
		},
		Session: SessionConfig{
			FetchTimeout:   "30s",
			DeliverTimeout: "30s",
		},
		Snapshot: SnapshotConfig{
			Compression: "zstd",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the LIVESTATE_CONFIG environment variable.
//
// There are no fallbacks: if LIVESTATE_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("LIVESTATE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("LIVESTATE_CONFIG environment variable not set; " +
			"set it to the path of your livestate.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values; they are only consulted for ${VAR}
// expansion in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production logs quieter unless the file says otherwise.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Level: "warn"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Store != nil {
		if overrides.Store.Path != "" {
			c.Store.Path = overrides.Store.Path
		}
		if overrides.Store.PoolSize != 0 {
			c.Store.PoolSize = overrides.Store.PoolSize
		}
	}

	if overrides.Session != nil {
		if overrides.Session.FetchTimeout != "" {
			c.Session.FetchTimeout = overrides.Session.FetchTimeout
		}
		if overrides.Session.DeliverTimeout != "" {
			c.Session.DeliverTimeout = overrides.Session.DeliverTimeout
		}
		if overrides.Session.MaxPositionLength != 0 {
			c.Session.MaxPositionLength = overrides.Session.MaxPositionLength
		}
		if overrides.Session.MetricsFile != "" {
			c.Session.MetricsFile = overrides.Session.MetricsFile
		}
	}

	if overrides.Snapshot != nil {
		if overrides.Snapshot.Compression != "" {
			c.Snapshot.Compression = overrides.Snapshot.Compression
		}
		if overrides.Snapshot.RecipientsFile != "" {
			c.Snapshot.RecipientsFile = overrides.Snapshot.RecipientsFile
		}
		if overrides.Snapshot.IdentitiesFile != "" {
			c.Snapshot.IdentitiesFile = overrides.Snapshot.IdentitiesFile
		}
	}

	if overrides.Log != nil && overrides.Log.Level != "" {
		c.Log.Level = overrides.Log.Level
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"LIVESTATE_ROOT": c.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["LIVESTATE_ROOT"] = c.Root

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Session.MetricsFile = expandVars(c.Session.MetricsFile, vars)
	c.Snapshot.RecipientsFile = expandVars(c.Snapshot.RecipientsFile, vars)
	c.Snapshot.IdentitiesFile = expandVars(c.Snapshot.IdentitiesFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided
// vars take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// CompressionNames lists the accepted snapshot.compression values.
var CompressionNames = []string{"none", "zstd", "lz4"}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Store.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("store.pool_size must not be negative"))
	}

	if _, err := parseTimeout(c.Session.FetchTimeout); err != nil {
		errs = append(errs, fmt.Errorf("session.fetch_timeout: %w", err))
	}
	if _, err := parseTimeout(c.Session.DeliverTimeout); err != nil {
		errs = append(errs, fmt.Errorf("session.deliver_timeout: %w", err))
	}
	if c.Session.MaxPositionLength < 0 {
		errs = append(errs, fmt.Errorf("session.max_position_length must not be negative"))
	}

	if !slices.Contains(CompressionNames, c.Snapshot.Compression) {
		errs = append(errs, fmt.Errorf("snapshot.compression must be one of: %v", CompressionNames))
	}

	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// FetchTimeout returns session.fetch_timeout as a duration. Invalid
// values, which Validate reports, yield zero.
func (c *Config) FetchTimeout() time.Duration {
	d, _ := parseTimeout(c.Session.FetchTimeout)
	return d
}

// DeliverTimeout returns session.deliver_timeout as a duration.
func (c *Config) DeliverTimeout() time.Duration {
	d, _ := parseTimeout(c.Session.DeliverTimeout)
	return d
}

// LogLevel returns log.level as a slog level, defaulting to Info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// EnsurePaths creates the root directory and the store's parent
// directory if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Root}
	if c.Store.Path != "" {
		paths = append(paths, filepath.Dir(c.Store.Path))
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}
