// Package config loads parlor's configuration from a TOML file and
// applies PARLOR_* environment overrides on top of it.
//
// Resolution order is defaults, then the config file, then the
// environment. A missing config file is not an error; the defaults
// are usable on their own.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/dshills/parlor/internal/pack"
	"github.com/dshills/parlor/internal/pack/security"
)

// Validation sentinels. Messages produced by Validate wrap these and
// lead with the offending key, e.g. "limits.profile: invalid value".
var (
	ErrMissingValue = errors.New("missing value")
	ErrInvalidValue = errors.New("invalid value")
)

// ParseError wraps a TOML syntax error with the file it came from.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse config file %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Config is the root configuration for a parlor process.
type Config struct {
	Paths   PathsConfig   `toml:"paths"`
	Packs   PacksConfig   `toml:"packs"`
	Limits  LimitsConfig  `toml:"limits"`
	Logging LoggingConfig `toml:"logging"`

	// PackConfigs holds per-pack tables handed to each pack's setup
	// hook, keyed by pack name:
	//
	//	[pack_config.dice-ladder]
	//	greeting = "welcome"
	PackConfigs map[string]map[string]any `toml:"pack_config"`
}

// PathsConfig locates the catalogue file and the data directory.
type PathsConfig struct {
	// DataDir is the root for everything parlor writes: the core
	// database and the per-pack storage artifacts.
	DataDir string `toml:"data_dir"`

	// Catalog is the path to the catalogue YAML file.
	Catalog string `toml:"catalog"`
}

// PacksConfig controls pack discovery and lifecycle.
type PacksConfig struct {
	// Paths are the directories searched for packs, in priority order.
	Paths []string `toml:"paths"`

	// AutoActivate activates each pack immediately after loading.
	AutoActivate bool `toml:"auto_activate"`

	// Watch reloads packs when their files change on disk.
	Watch bool `toml:"watch"`
}

// LimitsConfig selects a resource limit profile and optional
// per-field overrides. Zero-valued fields keep the profile's value.
type LimitsConfig struct {
	// Profile is one of "default", "strict", or "relaxed".
	Profile string `toml:"profile"`

	MemoryLimitBytes     int64  `toml:"memory_limit_bytes"`
	ExecutionTimeout     string `toml:"execution_timeout"`
	InstructionLimit     int64  `toml:"instruction_limit"`
	StorageQuotaBytes    int64  `toml:"storage_quota_bytes"`
	StorageOpsPerSecond  int    `toml:"storage_ops_per_second"`
	UserLookupsPerSecond int    `toml:"user_lookups_per_second"`
	MaxLogBytes          int64  `toml:"max_log_bytes"`
}

// LoggingConfig controls the host log.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", or "error".
	Level string `toml:"level"`

	// File is the log destination. Empty means stderr.
	File string `toml:"file"`
}

// DefaultConfigPath returns the standard location of the config file.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parlor.toml"
	}
	return filepath.Join(home, ".config", "parlor", "parlor.toml")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{
		Packs: PacksConfig{
			Paths:        pack.DefaultPackPaths(),
			AutoActivate: true,
			Watch:        false,
		},
		Limits: LimitsConfig{
			Profile: "default",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		PackConfigs: make(map[string]map[string]any),
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Paths.DataDir = filepath.Join(home, ".local", "share", "parlor")
		cfg.Paths.Catalog = filepath.Join(home, ".config", "parlor", "catalog.yaml")
	} else {
		cfg.Paths.DataDir = ".parlor"
		cfg.Paths.Catalog = filepath.Join(".parlor", "catalog.yaml")
	}
	return cfg
}

// Load reads the config file at path, applies environment overrides,
// and validates the result. An empty path means DefaultConfigPath.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, &ParseError{File: path, Err: err}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides maps PARLOR_* variables onto config fields. Applied
// after the file so the environment always wins.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string) error
}{
	{"PARLOR_DATA_DIR", func(c *Config, v string) error {
		c.Paths.DataDir = v
		return nil
	}},
	{"PARLOR_CATALOG", func(c *Config, v string) error {
		c.Paths.Catalog = v
		return nil
	}},
	{"PARLOR_PACK_PATHS", func(c *Config, v string) error {
		c.Packs.Paths = filepath.SplitList(v)
		return nil
	}},
	{"PARLOR_AUTO_ACTIVATE", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Packs.AutoActivate = b
		return nil
	}},
	{"PARLOR_WATCH", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Packs.Watch = b
		return nil
	}},
	{"PARLOR_LIMITS_PROFILE", func(c *Config, v string) error {
		c.Limits.Profile = v
		return nil
	}},
	{"PARLOR_LOG_LEVEL", func(c *Config, v string) error {
		c.Logging.Level = v
		return nil
	}},
	{"PARLOR_LOG_FILE", func(c *Config, v string) error {
		c.Logging.File = v
		return nil
	}},
}

func (c *Config) applyEnv() error {
	for _, ov := range envOverrides {
		v, ok := os.LookupEnv(ov.name)
		if !ok {
			continue
		}
		if err := ov.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w: %v", ov.name, ErrInvalidValue, err)
		}
	}
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProfiles = map[string]bool{
	"default": true,
	"strict":  true,
	"relaxed": true,
}

// Validate checks the configuration for consistency. Errors name the
// offending key and wrap ErrMissingValue or ErrInvalidValue.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir: %w", ErrMissingValue)
	}
	if c.Paths.Catalog == "" {
		return fmt.Errorf("paths.catalog: %w", ErrMissingValue)
	}
	if len(c.Packs.Paths) == 0 {
		return fmt.Errorf("packs.paths: %w", ErrMissingValue)
	}
	for i, p := range c.Packs.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("packs.paths[%d]: %w: empty path", i, ErrInvalidValue)
		}
	}
	if !validProfiles[c.Limits.Profile] {
		return fmt.Errorf("limits.profile: %w: %q", ErrInvalidValue, c.Limits.Profile)
	}
	if c.Limits.ExecutionTimeout != "" {
		d, err := time.ParseDuration(c.Limits.ExecutionTimeout)
		if err != nil {
			return fmt.Errorf("limits.execution_timeout: %w: %q", ErrInvalidValue, c.Limits.ExecutionTimeout)
		}
		if d < 0 {
			return fmt.Errorf("limits.execution_timeout: %w: negative duration", ErrInvalidValue)
		}
	}
	if c.Limits.MemoryLimitBytes < 0 {
		return fmt.Errorf("limits.memory_limit_bytes: %w: negative", ErrInvalidValue)
	}
	if c.Limits.InstructionLimit < 0 {
		return fmt.Errorf("limits.instruction_limit: %w: negative", ErrInvalidValue)
	}
	if c.Limits.StorageOpsPerSecond < 0 {
		return fmt.Errorf("limits.storage_ops_per_second: %w: negative", ErrInvalidValue)
	}
	if c.Limits.UserLookupsPerSecond < 0 {
		return fmt.Errorf("limits.user_lookups_per_second: %w: negative", ErrInvalidValue)
	}
	if c.Limits.MaxLogBytes < 0 {
		return fmt.Errorf("limits.max_log_bytes: %w: negative", ErrInvalidValue)
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level: %w: %q", ErrInvalidValue, c.Logging.Level)
	}
	return nil
}

// ResourceLimits builds the effective limits from the selected
// profile plus any per-field overrides. Zero-valued overrides keep
// the profile's value; a negative storage_quota_bytes disables the
// quota check.
func (c *Config) ResourceLimits() (security.ResourceLimits, error) {
	var limits security.ResourceLimits
	switch c.Limits.Profile {
	case "", "default":
		limits = security.DefaultResourceLimits()
	case "strict":
		limits = security.StrictResourceLimits()
	case "relaxed":
		limits = security.RelaxedResourceLimits()
	default:
		return security.ResourceLimits{}, fmt.Errorf("limits.profile: %w: %q", ErrInvalidValue, c.Limits.Profile)
	}

	if c.Limits.MemoryLimitBytes != 0 {
		limits.MemoryLimit = c.Limits.MemoryLimitBytes
	}
	if c.Limits.ExecutionTimeout != "" {
		d, err := time.ParseDuration(c.Limits.ExecutionTimeout)
		if err != nil {
			return security.ResourceLimits{}, fmt.Errorf("limits.execution_timeout: %w: %q", ErrInvalidValue, c.Limits.ExecutionTimeout)
		}
		limits.ExecutionTimeout = d
	}
	if c.Limits.InstructionLimit != 0 {
		limits.InstructionLimit = c.Limits.InstructionLimit
	}
	if c.Limits.StorageQuotaBytes != 0 {
		limits.StorageQuotaBytes = c.Limits.StorageQuotaBytes
	}
	if c.Limits.StorageOpsPerSecond != 0 {
		limits.StorageOpsPerSecond = c.Limits.StorageOpsPerSecond
	}
	if c.Limits.UserLookupsPerSecond != 0 {
		limits.UserLookupsPerSecond = c.Limits.UserLookupsPerSecond
	}
	if c.Limits.MaxLogBytes != 0 {
		limits.MaxLogBytes = c.Limits.MaxLogBytes
	}
	return limits, nil
}

// ManagerConfig builds the pack manager configuration.
func (c *Config) ManagerConfig() (pack.ManagerConfig, error) {
	limits, err := c.ResourceLimits()
	if err != nil {
		return pack.ManagerConfig{}, err
	}
	return pack.ManagerConfig{
		PackPaths:    c.Packs.Paths,
		AutoActivate: c.Packs.AutoActivate,
		Limits:       limits,
		PackConfigs:  c.PackConfigs,
	}, nil
}

// PackDataDir returns the directory holding per-pack storage artifacts.
func (c *Config) PackDataDir() string {
	return filepath.Join(c.Paths.DataDir, "packs")
}

// CoreDBPath returns the path of the core database.
func (c *Config) CoreDBPath() string {
	return filepath.Join(c.Paths.DataDir, "parlor.db")
}
