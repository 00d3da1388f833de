// Package config loads, validates, and persists vecsync configuration from
// a YAML file with VECSYNC_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultConfigFile is the conventional config location.
const DefaultConfigFile = ".vecsync.yml"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (VECSYNC_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables: VECSYNC_PORT -> port, etc.
	if err := k.Load(env.Provider("VECSYNC_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "VECSYNC_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validBackends is the set of recognized store backend values.
var validBackends = map[StoreBackend]bool{
	StoreChromem: true,
	StoreSQLite:  true,
}

// validEmbeddingModels is the set of recognized embedding models.
var validEmbeddingModels = map[string]bool{
	"text-embedding-3-small": true,
	"text-embedding-3-large": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.SourceRoot == "" {
		return fmt.Errorf("source_root is required")
	}

	if c.EmbeddingModel == "" {
		return fmt.Errorf("embedding_model is required")
	}
	if !validEmbeddingModels[c.EmbeddingModel] {
		return fmt.Errorf("invalid embedding_model %q: must be one of text-embedding-3-small, text-embedding-3-large", c.EmbeddingModel)
	}

	if !validBackends[c.StoreBackend] {
		return fmt.Errorf("invalid store_backend %q: must be one of chromem, sqlite", c.StoreBackend)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("overlap_tokens must be non-negative")
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be non-negative")
	}
	if c.SyncIntervalMinutes < 0 {
		return fmt.Errorf("sync_interval_minutes must be non-negative")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	return nil
}
