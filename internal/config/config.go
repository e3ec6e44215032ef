package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Timing    TimingConfig    `yaml:"timing"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	File      FileConfig      `yaml:"file"`
	Event     EventConfig     `yaml:"event"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TimingConfig describes the TCP link to the timing unit. Host may be empty,
// in which case the bridge waits for UDP discovery to supply one.
type TimingConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
}

type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// FileConfig describes the optional XML results export ingestion. Path may be
// a plain path or a file:// URL. When empty, file ingestion is disabled.
type FileConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Debounce     time.Duration `yaml:"debounce"`
}

type EventConfig struct {
	HighlightDuration time.Duration `yaml:"highlight_duration"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Timing: TimingConfig{
			Port:             21968,
			ReconnectInitial: time.Second,
			ReconnectMax:     30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Timeout: 60 * time.Second,
		},
		File: FileConfig{
			PollInterval: 2 * time.Second,
			Debounce:     300 * time.Millisecond,
		},
		Event: EventConfig{
			HighlightDuration: 10 * time.Second,
		},
	}
}

// Load reads the YAML config at path, applying defaults for anything unset.
// A missing file is not an error: the defaults are used as-is so the bridge
// can run on discovery alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Timing.Port <= 0 || c.Timing.Port > 65535 {
		return fmt.Errorf("timing port out of range: %d", c.Timing.Port)
	}
	if c.Timing.ReconnectInitial <= 0 {
		return fmt.Errorf("reconnect_initial must be positive, got %s", c.Timing.ReconnectInitial)
	}
	if c.Timing.ReconnectMax < c.Timing.ReconnectInitial {
		return fmt.Errorf("reconnect_max %s below reconnect_initial %s", c.Timing.ReconnectMax, c.Timing.ReconnectInitial)
	}
	if c.File.PollInterval <= 0 {
		return fmt.Errorf("file poll_interval must be positive, got %s", c.File.PollInterval)
	}
	return nil
}
