// Package config loads and validates the service configuration from a
// YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"crashwatch/internal/notify"
)

const (
	defaultListen      = ":8000"
	defaultDBPath      = "data/crashwatch.db"
	defaultAccidentLog = "logs/accidents.log"
	defaultStreamFPS   = 30
	defaultAnalysisFPS = 1.0
)

// Config is the root service configuration.
type Config struct {
	Listen      string `yaml:"listen"`
	Database    string `yaml:"database"`
	AccidentLog string `yaml:"accident_log"`

	Vision   VisionConfig          `yaml:"vision"`
	Telegram notify.TelegramConfig `yaml:"telegram"`
	Fallback FallbackConfig        `yaml:"fallback"`
	Streams  []StreamConfig        `yaml:"streams"`
}

// VisionConfig configures the vision service client.
type VisionConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`

	// Mock replaces the remote service with a local stub; useful for
	// development without an API key.
	Mock         bool    `yaml:"mock"`
	MockSeed     int64   `yaml:"mock_seed"`
	AccidentRate float64 `yaml:"mock_accident_rate"`
}

// APIKey resolves the API key from the configured environment variable.
func (v VisionConfig) APIKey() string {
	if v.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(v.APIKeyEnv)
}

// FallbackConfig configures the static-image fallback source used by
// streams without a video URL.
type FallbackConfig struct {
	Sources         []string `yaml:"sources"`
	IntervalSeconds int      `yaml:"interval_seconds"`
}

// Interval returns the poll interval, defaulting to 5s.
func (f FallbackConfig) Interval() time.Duration {
	if f.IntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(f.IntervalSeconds) * time.Second
}

// StreamConfig describes one monitored stream.
type StreamConfig struct {
	ID       string `yaml:"id"`
	URL      string `yaml:"url"`
	Location string `yaml:"location"`

	// StreamFPS drives the frame broadcast rate; AnalysisFPS the
	// classification rate.
	StreamFPS   int     `yaml:"stream_fps"`
	AnalysisFPS float64 `yaml:"analysis_fps"`

	// Workers sizes the classification pool. The default of one worker
	// keeps detection results in capture order.
	Workers int `yaml:"workers"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Listen:      defaultListen,
		Database:    defaultDBPath,
		AccidentLog: defaultAccidentLog,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.StreamFPS <= 0 {
			s.StreamFPS = defaultStreamFPS
		}
		if s.AnalysisFPS <= 0 {
			s.AnalysisFPS = defaultAnalysisFPS
		}
		if s.Workers <= 0 {
			s.Workers = 1
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if s.ID == "" {
			return fmt.Errorf("stream with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate stream id %q", s.ID)
		}
		seen[s.ID] = true
		if s.URL == "" && len(c.Fallback.Sources) == 0 {
			return fmt.Errorf("stream %q has no url and no fallback sources are configured", s.ID)
		}
	}
	if !c.Vision.Mock && c.Vision.Endpoint == "" {
		return fmt.Errorf("vision endpoint is required unless mock is enabled")
	}
	return nil
}
