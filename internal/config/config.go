// Package config loads pvm run configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ingest"
	"github.com/roach88/pvm/internal/trace"
)

// Config is a run configuration. Command-line flags override file values.
type Config struct {
	// Format is the trace format name, e.g. "cadets".
	Format string `yaml:"format"`

	// DB is the SQLite journal path. Empty disables the journal.
	DB string `yaml:"db,omitempty"`

	// Schema is an optional .cue file or directory of extra type declarations.
	Schema string `yaml:"schema,omitempty"`

	// Shards is the number of graph lock shards.
	// Default: 64
	Shards int `yaml:"shards,omitempty"`

	// FailFast stops a stream at its first failed record.
	FailFast bool `yaml:"fail_fast,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// BatchSize is the number of lines decoded ahead per stream.
	BatchSize int `yaml:"batch_size,omitempty"`

	// DecodeWorkers bounds concurrent decoding per stream. 0 means GOMAXPROCS.
	DecodeWorkers int `yaml:"decode_workers,omitempty"`

	// Streams are trace files ingested concurrently, one stream each.
	Streams []string `yaml:"streams,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Format:    "cadets",
		Shards:    graph.DefaultShards,
		LogLevel:  "info",
		BatchSize: ingest.DefaultBatchSize,
	}
}

// Load reads a YAML config file over the defaults. Unknown fields are
// rejected and relative paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.DB = resolve(cfg.DB)
	cfg.Schema = resolve(cfg.Schema)
	for i, s := range cfg.Streams {
		cfg.Streams[i] = resolve(s)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if _, err := trace.Lookup(c.Format); err != nil {
		errs = append(errs, fmt.Errorf("format: %w", err))
	}
	if c.Shards < 0 {
		errs = append(errs, fmt.Errorf("shards: must not be negative, got %d", c.Shards))
	}
	if c.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch_size: must not be negative, got %d", c.BatchSize))
	}
	if c.DecodeWorkers < 0 {
		errs = append(errs, fmt.Errorf("decode_workers: must not be negative, got %d", c.DecodeWorkers))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel. An empty level is info.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
