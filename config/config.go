// Package config loads deployment settings from a YAML file with
// environment-variable overrides for the secrets and endpoints that differ
// per environment.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full deployment configuration.
type Config struct {
	// DatabasePath is the SQLite file backing both storage tiers.
	DatabasePath string `yaml:"database_path"`

	// BlobDir is the root directory for offloaded memory payloads.
	BlobDir string `yaml:"blob_dir"`

	// MasterKey is the base64-encoded 32-byte envelope master key. Empty
	// runs the encryption gateway in pass-through mode.
	MasterKey string `yaml:"master_key"`

	// EmbedEndpoint is the remote embedding model URL. Empty disables the
	// vector tier.
	EmbedEndpoint string `yaml:"embed_endpoint"`

	// VectorDimensions is the fixed embedding dimensionality.
	VectorDimensions int `yaml:"vector_dimensions"`

	// Model is the completion model identifier.
	Model string `yaml:"model"`

	ShortTermRetentionDays int     `yaml:"short_term_retention_days"`
	LongTermRetentionDays  int     `yaml:"long_term_retention_days"`
	RetrieveLimit          int     `yaml:"retrieve_limit"`
	MinScore               float64 `yaml:"min_score"`
	HistoryLimit           int     `yaml:"history_limit"`
}

// Default returns the local-development defaults.
func Default() *Config {
	return &Config{
		DatabasePath:           "mnemo.db",
		BlobDir:                "blobs",
		VectorDimensions:       1024,
		ShortTermRetentionDays: 7,
		LongTermRetentionDays:  365,
		RetrieveLimit:          5,
		MinScore:               0.7,
		HistoryLimit:           20,
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error: environment-only
// configuration is the common deployment shape.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// MasterKeyBytes decodes the configured master key. Empty means
// pass-through mode.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return key, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DatabasePath, "MNEMO_DATABASE_PATH")
	setString(&cfg.BlobDir, "MNEMO_BLOB_DIR")
	setString(&cfg.MasterKey, "MNEMO_MASTER_KEY")
	setString(&cfg.EmbedEndpoint, "MNEMO_EMBED_ENDPOINT")
	setString(&cfg.Model, "MNEMO_MODEL")
	setInt(&cfg.VectorDimensions, "MNEMO_VECTOR_DIMENSIONS")
	setInt(&cfg.ShortTermRetentionDays, "MNEMO_SHORT_TERM_RETENTION_DAYS")
	setInt(&cfg.LongTermRetentionDays, "MNEMO_LONG_TERM_RETENTION_DAYS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
