// Package config loads the resolver/classifier tunables that are not part
// of the regulation or taxonomy catalogs: LLM timeouts and model choice,
// the confidence floor, cache TTLs, and catalog directory paths. It follows
// the defaults-struct-overwritten-by-YAML idiom: missing file -> defaults,
// invalid YAML -> error.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM holds classifier and narration provider settings.
type LLM struct {
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	Temperature        float64       `yaml:"temperature"`
	MaxTokens          int           `yaml:"max_tokens"`
	ClassifyTimeout    time.Duration `yaml:"classify_timeout"`
	NarrationTimeout   time.Duration `yaml:"narration_timeout"`
	MinConfidence      float64       `yaml:"min_confidence"`
}

// Cache holds preview/draft cache tunables.
type Cache struct {
	TTL time.Duration `yaml:"ttl"`
}

// Catalogs holds the on-disk directories the pipeline loads its closed
// taxonomy and layered regulation rules from.
type Catalogs struct {
	TaxonomyDir  string `yaml:"taxonomy_dir"`
	RegulationDir string `yaml:"regulation_dir"`
}

// Config is the full set of pipeline tunables.
type Config struct {
	LLM      LLM      `yaml:"llm"`
	Cache    Cache    `yaml:"cache"`
	Catalogs Catalogs `yaml:"catalogs"`
}

// Default returns the built-in configuration matching the pipeline's
// documented defaults.
func Default() *Config {
	return &Config{
		LLM: LLM{
			Provider:         "anthropic",
			Model:            "claude-haiku-4-5",
			Temperature:      0,
			MaxTokens:        1024,
			ClassifyTimeout:  8 * time.Second,
			NarrationTimeout: 5 * time.Second,
			MinConfidence:    0.55,
		},
		Cache: Cache{TTL: 10 * time.Minute},
		Catalogs: Catalogs{
			TaxonomyDir:   "catalogs/taxonomy",
			RegulationDir: "catalogs/regulation",
		},
	}
}

// Load reads path and overlays it onto Default(). A missing file returns
// the defaults unchanged; invalid YAML returns an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 hash of the raw
// file bytes (or of nil when defaults are used), for cache-key fingerprinting.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		h := sha256.Sum256(nil)
		return Default(), "sha256:" + hex.EncodeToString(h[:]), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return Default(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}

	h := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(h[:]), nil
}
