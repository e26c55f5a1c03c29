package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML with API keys
// supplied through the environment (optionally a .env file).
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Media struct {
		BaseURL   string `yaml:"base_url"`
		PartnerID string `yaml:"partner_id"`
	} `yaml:"media"`

	Transcription struct {
		BaseURL             string `yaml:"base_url"`
		APIKey              string `yaml:"-"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		PollMaxAttempts     int    `yaml:"poll_max_attempts"`
	} `yaml:"transcription"`

	Classifier struct {
		BaseURL           string `yaml:"base_url"`
		APIKey            string `yaml:"-"`
		Model             string `yaml:"model"`
		TaggerConcurrency int    `yaml:"tagger_concurrency"`
		ContextWindow     int    `yaml:"context_window"`
	} `yaml:"classifier"`

	Pipeline struct {
		LockTimeoutMinutes int `yaml:"lock_timeout_minutes"`
		JanitorIntervalMin int `yaml:"janitor_interval_minutes"`
	} `yaml:"pipeline"`
}

// Load reads the YAML file at path, applies environment overrides and
// fills defaults. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Transcription.APIKey = os.Getenv("TRANSCRIPTION_API_KEY")
	cfg.Classifier.APIKey = os.Getenv("CLASSIFIER_API_KEY")

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/webtv.db"
	}
	if c.Transcription.PollIntervalSeconds == 0 {
		c.Transcription.PollIntervalSeconds = 10
	}
	if c.Transcription.PollMaxAttempts == 0 {
		c.Transcription.PollMaxAttempts = 360
	}
	if c.Classifier.Model == "" {
		c.Classifier.Model = "gpt-4o-mini"
	}
	if c.Classifier.TaggerConcurrency == 0 {
		c.Classifier.TaggerConcurrency = 8
	}
	if c.Classifier.ContextWindow == 0 {
		c.Classifier.ContextWindow = 2
	}
	if c.Pipeline.LockTimeoutMinutes == 0 {
		c.Pipeline.LockTimeoutMinutes = 30
	}
	if c.Pipeline.JanitorIntervalMin == 0 {
		c.Pipeline.JanitorIntervalMin = 10
	}
}

func (c *Config) validate() error {
	if c.Media.BaseURL == "" {
		return fmt.Errorf("config: media.base_url is required")
	}
	if c.Transcription.BaseURL == "" {
		return fmt.Errorf("config: transcription.base_url is required")
	}
	return nil
}
