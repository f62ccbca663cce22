// Package config loads the kernel's YAML configuration file: workspace
// layout, ledger and policy locations, logging, metrics and the mission
// step budget. Environment variables in the file are expanded before
// parsing, unknown fields are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file the CLI looks for when none is
// given.
const DefaultFileName = "vibe.yaml"

// DefaultLedgerFile is the conventional ledger location under the
// workspace root.
const DefaultLedgerFile = ".vibe/ledger.db"

// Config is the top-level configuration for a kernel process.
type Config struct {
	// Version is the config file format version. Omitting it selects
	// CurrentVersion.
	Version   int             `yaml:"version"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Policy    PolicyConfig    `yaml:"policy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Mission   MissionConfig   `yaml:"mission"`
}

// WorkspaceConfig anchors the kernel's file tools and side channels.
type WorkspaceConfig struct {
	// Root confines the file tools. The process working directory when
	// empty.
	Root string `yaml:"root"`

	// InboxDir overrides the conventional <root>/workspace/inbox.
	InboxDir string `yaml:"inbox_dir"`

	// BacklogPath overrides the conventional <root>/workspace/BACKLOG.md.
	BacklogPath string `yaml:"backlog_path"`

	// GitStatusEnv overrides the environment variable consulted for the
	// git sync status at boot.
	GitStatusEnv string `yaml:"git_status_env"`
}

// LedgerConfig locates the task history store.
type LedgerConfig struct {
	// Path is the SQLite file. Defaults to <root>/.vibe/ledger.db;
	// ":memory:" selects the in-memory store explicitly.
	Path string `yaml:"path"`
}

// PolicyConfig locates the declarative safety rules.
type PolicyConfig struct {
	// Path is the rules file. Empty disables the policy gate entirely;
	// a path that exists but cannot be read fails open with a warning.
	Path string `yaml:"path"`

	// Watch reloads the rules when the file changes.
	Watch bool `yaml:"watch"`
}

// LoggingConfig shapes the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig switches the Prometheus collectors on.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// KernelConfig holds kernel-level switches.
type KernelConfig struct {
	StaleSweep StaleSweepConfig `yaml:"stale_sweep"`
}

// StaleSweepConfig controls the boot-time reclassification of tasks a
// previous process started but never finished.
type StaleSweepConfig struct {
	Enabled   bool          `yaml:"enabled"`
	OlderThan time.Duration `yaml:"older_than"`
}

// MissionConfig bounds the mission runner.
type MissionConfig struct {
	// MaxSteps caps dispatching ticks per mission. 0 selects the
	// runner's default.
	MaxSteps int `yaml:"max_steps"`
}

// Load reads, expands and strictly parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes. Environment variables are expanded
// first; unknown fields and multi-document files are rejected. An empty
// document yields the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	err := decoder.Decode(&cfg)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err == nil {
		if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: expected a single document")
		}
	}

	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = filepath.Join(cfg.Workspace.Root, DefaultLedgerFile)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format)
	}
	if c.Mission.MaxSteps < 0 {
		return fmt.Errorf("mission.max_steps must not be negative")
	}
	if c.Kernel.StaleSweep.OlderThan < 0 {
		return fmt.Errorf("kernel.stale_sweep.older_than must not be negative")
	}
	return nil
}
