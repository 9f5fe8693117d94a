package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values used when the config leaves a setting empty
const (
	DefaultPollIntervalMS = 300000
	DefaultFetchTimeout   = 30 * time.Second
	DefaultHistoryPath    = "public/history_daily.json"
	DefaultListenAddr     = ":8080"
	DefaultTopicPrefix    = "dtumonitor"
	DefaultLogLevel       = "info"
	DefaultSource         = SourceHelper
	DefaultHelperScript   = "scripts/dtu_fetch.py"
)

// Reading source kinds
const (
	SourceHelper  = "helper"
	SourceOpenDTU = "opendtu"
)

// Config holds the application configuration
type Config struct {
	DTU           DTUConfig     `yaml:"dtu"`
	History       HistoryConfig `yaml:"history,omitempty"`
	Web           WebConfig     `yaml:"web,omitempty"`
	MQTT          MQTTConfig    `yaml:"mqtt,omitempty"`
	HomeAssistant HAConfig      `yaml:"home_assistant,omitempty"`
	LogLevel      string        `yaml:"log_level,omitempty"`
}

// DTUConfig describes the data-logger being polled
type DTUConfig struct {
	Address        string        `yaml:"address"`                    // IP or hostname of the DTU
	MaxPower       int           `yaml:"max_power"`                  // Peak system power in W
	Source         string        `yaml:"source,omitempty"`           // "helper" or "opendtu"
	PollIntervalMS int           `yaml:"poll_interval_ms,omitempty"` // Default 300000
	FetchTimeout   time.Duration `yaml:"fetch_timeout,omitempty"`    // Default 30s
	HelperCommand  []string      `yaml:"helper_command,omitempty"`   // e.g. ["python3", "scripts/dtu_fetch.py"]
	NightFallback  *bool         `yaml:"night_fallback,omitempty"`   // Default true
}

// HistoryConfig holds the ledger settings
type HistoryConfig struct {
	Path     string `yaml:"path,omitempty"`
	Timezone string `yaml:"timezone,omitempty"` // IANA name used for midnight detection, empty for local
}

// WebConfig holds the widget server settings
type WebConfig struct {
	Listen string      `yaml:"listen,omitempty"`
	Icons  IconsConfig `yaml:"icons,omitempty"`
}

// IconsConfig holds the image paths shown next to each figure
type IconsConfig struct {
	Power string `yaml:"power,omitempty"`
	Daily string `yaml:"daily,omitempty"`
	Total string `yaml:"total,omitempty"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	Discovery   bool   `yaml:"discovery,omitempty"` // Publish Home Assistant discovery configs
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`                     // e.g., "http://homeassistant.local:8123"
	Token        string `yaml:"token"`                   // Long-lived access token
	EntityPrefix string `yaml:"entity_prefix,omitempty"` // e.g., "sensor.balcony_pv"
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// Example returns a config with every default filled in, used by "init"
func Example() *Config {
	nightFallback := true
	return &Config{
		DTU: DTUConfig{
			Address:        "192.168.1.50",
			MaxPower:       870,
			Source:         DefaultSource,
			PollIntervalMS: DefaultPollIntervalMS,
			FetchTimeout:   DefaultFetchTimeout,
			HelperCommand:  []string{"python3", DefaultHelperScript},
			NightFallback:  &nightFallback,
		},
		History:  HistoryConfig{Path: DefaultHistoryPath},
		Web:      WebConfig{Listen: DefaultListenAddr},
		MQTT:     MQTTConfig{TopicPrefix: DefaultTopicPrefix},
		LogLevel: DefaultLogLevel,
	}
}

// Validate checks that the settings required for polling are present
func (c *Config) Validate() error {
	var errs []error
	if c.DTU.Address == "" {
		errs = append(errs, errors.New("dtu.address is required"))
	}
	if c.DTU.MaxPower <= 0 {
		errs = append(errs, errors.New("dtu.max_power must be greater than 0"))
	}
	switch c.GetSource() {
	case SourceHelper:
		if len(c.DTU.HelperCommand) == 0 {
			errs = append(errs, errors.New("dtu.helper_command is required for the helper source"))
		}
	case SourceOpenDTU:
	default:
		errs = append(errs, fmt.Errorf("unknown dtu.source: %s (available: %s, %s)", c.DTU.Source, SourceHelper, SourceOpenDTU))
	}
	if c.History.Timezone != "" {
		if _, err := time.LoadLocation(c.History.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("history.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GetSource returns the configured reading source, defaulting to the helper
func (c *Config) GetSource() string {
	if c.DTU.Source == "" {
		return DefaultSource
	}
	return c.DTU.Source
}

// GetPollInterval returns the poll interval with a default of 5 minutes
func (c *Config) GetPollInterval() time.Duration {
	if c.DTU.PollIntervalMS <= 0 {
		return DefaultPollIntervalMS * time.Millisecond
	}
	return time.Duration(c.DTU.PollIntervalMS) * time.Millisecond
}

// GetFetchTimeout returns the per-fetch timeout
func (c *Config) GetFetchTimeout() time.Duration {
	if c.DTU.FetchTimeout <= 0 {
		return DefaultFetchTimeout
	}
	return c.DTU.FetchTimeout
}

// GetNightFallback returns whether last known energy values are kept while
// the DTU is off
func (c *Config) GetNightFallback() bool {
	if c.DTU.NightFallback == nil {
		return true
	}
	return *c.DTU.NightFallback
}

// GetHistoryPath returns the ledger file path
func (c *Config) GetHistoryPath() string {
	if c.History.Path == "" {
		return DefaultHistoryPath
	}
	return c.History.Path
}

// GetLocation returns the location used for day boundaries
func (c *Config) GetLocation() *time.Location {
	if c.History.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.History.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetListenAddr returns the widget server listen address
func (c *Config) GetListenAddr() string {
	if c.Web.Listen == "" {
		return DefaultListenAddr
	}
	return c.Web.Listen
}

// GetTopicPrefix returns the MQTT topic prefix
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return c.MQTT.TopicPrefix
}

// GetLogLevel returns the configured log level, defaulting to info
func (c *Config) GetLogLevel() string {
	if c.LogLevel == "" {
		return DefaultLogLevel
	}
	return c.LogLevel
}
