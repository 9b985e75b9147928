// Package config loads service configuration from a YAML file with sane
// defaults for local development.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the service configuration.
	Config struct {
		Redis     Redis     `yaml:"redis"`
		Chat      Chat      `yaml:"chat"`
		Scheduler Scheduler `yaml:"scheduler"`
		Events    Events    `yaml:"events"`
	}

	// Redis configures the fact store backend.
	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
	}

	// Chat configures the summarizer's chat backend.
	Chat struct {
		// Backend selects the provider: "openai" or "anthropic".
		Backend string `yaml:"backend"`
		Model   string `yaml:"model"`
		// APIKey falls back to the provider's conventional environment
		// variable when empty.
		APIKey string `yaml:"api_key"`
		// RateLimit caps summarizer chat calls per second. Zero disables.
		RateLimit float64 `yaml:"rate_limit"`
	}

	// Scheduler configures the stage summarization loop.
	Scheduler struct {
		TickSeconds        int `yaml:"tick_seconds"`
		MinIntervalSeconds int `yaml:"min_interval_seconds"`
		MinChars           int `yaml:"min_chars"`
		MaxUtterances      int `yaml:"max_utterances"`
	}

	// Events configures event fan-out.
	Events struct {
		// QueueCapacity bounds each subscriber queue.
		QueueCapacity int `yaml:"queue_capacity"`
	}
)

// Default returns the local-development configuration.
func Default() Config {
	return Config{
		Redis: Redis{Addr: "localhost:6379"},
		Chat:  Chat{Backend: "openai", Model: "gpt-4o-mini"},
		Scheduler: Scheduler{
			TickSeconds:        2,
			MinIntervalSeconds: 120,
			MinChars:           1200,
			MaxUtterances:      120,
		},
		Events: Events{QueueCapacity: 1000},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
