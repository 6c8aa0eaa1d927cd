// Package config provides configuration management for recall.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkerPort is the default HTTP port for the recall daemon.
	DefaultWorkerPort = 37700

	// DefaultFlushIntervalMs bounds how long a chunk may sit in the
	// accumulator before it becomes durable.
	DefaultFlushIntervalMs = 2000

	// DefaultMaxBatchSize triggers an early flush regardless of the timer.
	DefaultMaxBatchSize = 100

	// DefaultTurnTimeoutMs closes an in-progress conversation turn after
	// inactivity.
	DefaultTurnTimeoutMs = 30000

	// DefaultSessionIdleTimeoutMs closes an open context session after
	// inactivity (30 minutes).
	DefaultSessionIdleTimeoutMs = 1800000
)

// Config holds all tunables for the capture pipeline.
type Config struct {
	WorkerPort  int    `yaml:"worker_port"`
	DBPath      string `yaml:"db_path"`
	DatabaseDSN string `yaml:"database_dsn"` // Postgres DSN; empty selects SQLite at DBPath
	MaxConns    int    `yaml:"max_conns"`

	FlushIntervalMs      int `yaml:"flush_interval_ms"`
	MaxBatchSize         int `yaml:"max_batch_size"`
	TurnTimeoutMs        int `yaml:"turn_timeout_ms"`
	SessionIdleTimeoutMs int `yaml:"session_idle_timeout_ms"`
	LookbackWindowMs     int `yaml:"lookback_window_ms"`

	DefaultProjectPath string `yaml:"default_project_path"`

	CommandPrefixes   []string `yaml:"command_prefixes"`
	PromptDenylist    []string `yaml:"prompt_denylist"`
	SuccessMarkers    []string `yaml:"success_markers"`
	ErrorSignatures   []string `yaml:"error_signatures"`
	MinSequenceLength int      `yaml:"min_sequence_length"`

	RedisAddr  string `yaml:"redis_addr"`
	FalkorAddr string `yaml:"falkor_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		WorkerPort:           DefaultWorkerPort,
		DBPath:               DBPath(),
		MaxConns:             4,
		FlushIntervalMs:      DefaultFlushIntervalMs,
		MaxBatchSize:         DefaultMaxBatchSize,
		TurnTimeoutMs:        DefaultTurnTimeoutMs,
		SessionIdleTimeoutMs: DefaultSessionIdleTimeoutMs,
		LookbackWindowMs:     300000,
		DefaultProjectPath:   cwd,
		CommandPrefixes:      []string{"claude", "aider", "cursor"},
		PromptDenylist: []string{
			`^\$\s?`,
			`^%\s*$`,
			`^>\s*$`,
			`^[\w.-]+@[\w.-]+[:#]`,
			`^\(venv\)`,
			`^➜`,
		},
		SuccessMarkers: []string{"✓", "✅", "success", "working", "done", "passed", "all tests pass"},
		ErrorSignatures: []string{
			`(?i)\berror[:\s]`,
			`(?i)\bexception\b`,
			`(?i)traceback`,
			`(?i)\bfailed\b`,
			`(?i)^panic:`,
			`ENOENT|EACCES|ECONNREFUSED`,
		},
		MinSequenceLength: 2,
	}
}

// FlushInterval returns the accumulator flush window.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// TurnTimeout returns the conversation inactivity timeout.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutMs) * time.Millisecond
}

// SessionIdleTimeout returns the session idle timeout.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleTimeoutMs) * time.Millisecond
}

// LookbackWindow returns the pattern-detector look-back window.
func (c *Config) LookbackWindow() time.Duration {
	return time.Duration(c.LookbackWindowMs) * time.Millisecond
}

// DataDir returns the recall data directory (~/.recall).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".recall")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "recall.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureAll initializes the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	return EnsureSettings()
}

// Load reads settings from disk, falling back to defaults for absent keys,
// then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file settings.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RECALL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.WorkerPort = port
		}
	}
	if v := os.Getenv("RECALL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RECALL_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("RECALL_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("RECALL_FALKOR_ADDR"); v != "" {
		cfg.FalkorAddr = v
	}
	if v := os.Getenv("RECALL_PROJECT_PATH"); v != "" {
		cfg.DefaultProjectPath = v
	}
}

var (
	loaded   *Config
	loadOnce sync.Once
)

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	loadOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		loaded = cfg
	})
	return loaded
}
