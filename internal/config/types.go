// Package config loads catsync configuration from file, environment and
// flags, with precedence flags > env > file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/catsync/pkg/core"
)

// Config is the full catsync configuration.
type Config struct {
	// CatalogPath is the SQLite catalog file. ":memory:" for ephemeral runs.
	CatalogPath string `koanf:"catalog_path"`

	// Verbose enables debug logging.
	Verbose bool `koanf:"verbose"`

	// Output selects CLI rendering: "table" or "json".
	Output string `koanf:"output"`

	Sync SyncConfig `koanf:"sync"`

	// Sources are the metadata sources to synchronize.
	Sources []core.SourceConfig `koanf:"sources"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	Concurrency     int           `koanf:"concurrency"`
	PullAttempts    int           `koanf:"pull_attempts"`
	PullBackoff     time.Duration `koanf:"pull_backoff"`
	ConflictRetries int           `koanf:"conflict_retries"`
}

// Source returns the configured source with the given name, or nil.
func (c *Config) Source(name string) *core.SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i]
		}
	}
	return nil
}

// Validate checks structural config errors before any source is touched.
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog_path must not be empty")
	}
	if c.Output != "table" && c.Output != "json" {
		return fmt.Errorf("output must be \"table\" or \"json\", got %q", c.Output)
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name must not be empty", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		if src.Dialect == "" {
			return fmt.Errorf("source %q: dialect must not be empty", src.Name)
		}
	}
	return nil
}
