// Package config loads runtime configuration for flowmesh embedders from a
// TOML file: engine limits, failure policy, tracing and logging. All fields
// are optional; zero values select the engine and logging defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/logging"
)

// Config mirrors the TOML layout.
type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Trace   TraceConfig   `toml:"trace"`
	Logging LoggingConfig `toml:"logging"`

	Path string `toml:"-"`
}

// EngineConfig tunes the scheduler.
type EngineConfig struct {
	MaxConcurrentRuns int    `toml:"max_concurrent_runs"`
	TapBuffer         int    `toml:"tap_buffer"`
	FailurePolicy     string `toml:"failure_policy"` // stall, synthesize_end, propagate
}

// TraceConfig enables the durable run recorder.
type TraceConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or text
}

// Load reads the TOML file at path, expanding a leading "~" to the user's
// home directory. A missing file yields the zero Config without error so
// embedders can run unconfigured.
func Load(path string) (Config, error) {
	resolved := path
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		resolved = filepath.Join(home, strings.TrimPrefix(resolved, "~"))
	}

	var cfg Config
	cfg.Path = resolved
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", resolved, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.Path = resolved
	return cfg, nil
}

// EngineConfig converts the TOML settings into an engine.Config, leaving
// zero values to the engine's defaults.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentRuns: c.Engine.MaxConcurrentRuns,
		TapBuffer:         c.Engine.TapBuffer,
	}
}

// FailurePolicy parses the configured policy name.
func (c Config) FailurePolicy() (engine.FailurePolicy, error) {
	return engine.ParseFailurePolicy(c.Engine.FailurePolicy)
}

// Logger builds a FlowLogger from the logging section.
func (c Config) Logger() *logging.FlowLogger {
	return logging.NewFlowLogger(logging.ParseLevel(c.Logging.Level), c.Logging.Format)
}
