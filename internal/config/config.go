// Package config loads rustmend configuration from an optional YAML file
// in the project root, with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the project root when no explicit
// config path is given.
const DefaultFileName = ".rustmend.yaml"

// Config holds all rustmend configuration.
type Config struct {
	LLM   LLMConfig   `yaml:"llm"`
	Build BuildConfig `yaml:"build"`
	Cache CacheConfig `yaml:"cache"`
	Web   WebConfig   `yaml:"web"`
	Retry RetryConfig `yaml:"retry"`
}

// LLMConfig configures the advisory model.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // gemini, ollama
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BuildConfig configures the build tool boundary.
type BuildConfig struct {
	// Tool is the build tool binary, normally cargo. Tests point it at
	// stub scripts.
	Tool string `yaml:"tool"`
}

// CacheConfig configures the knowledge cache.
type CacheConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// WebConfig configures the context provider.
type WebConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxResults       int  `yaml:"max_results"`
	MinContentLength int  `yaml:"min_content_length"`
	// UseBrowser switches the page fetcher to a headless browser for
	// JS-rendered documentation sites.
	UseBrowser bool `yaml:"use_browser"`
}

// RetryConfig bounds the self-correction loop.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "llama3:8b",
			BaseURL:  "http://127.0.0.1:11434",
			Timeout:  2 * time.Minute,
		},
		Build: BuildConfig{Tool: "cargo"},
		Cache: CacheConfig{Path: ".rustmend_cache.db"},
		Web: WebConfig{
			Enabled:          true,
			MaxResults:       3,
			MinContentLength: 300,
		},
		Retry: RetryConfig{MaxAttempts: 2},
	}
}

// Load reads the config file at path, layered over the defaults. A
// missing file is not an error: the defaults apply. The LLM API key can
// always be supplied via RUSTMEND_API_KEY or GEMINI_API_KEY instead of
// the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if key := os.Getenv("RUSTMEND_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Build.Tool == "" {
		return fmt.Errorf("build.tool must not be empty")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if !c.Cache.Disabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path must not be empty while caching is enabled")
	}
	return nil
}
