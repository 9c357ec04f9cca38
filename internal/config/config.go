// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServer          = "127.0.0.1"
	DefaultPort            = 10051
	DefaultTimeout         = 60 * time.Second
	DefaultMaxItemsPerSend = 250
	DefaultLLDKeyTemplate  = "{#%s}"
	DefaultAtlasURL        = "https://atlas.ripe.net/api/v2"
	DefaultLLDKey          = "probe.discovery"
	DefaultLLDMacro        = "PROBE_ID"
	DefaultPollInterval    = 5 * time.Minute
	DefaultLLDRefresh      = time.Hour
)

// SenderConfig describes the collector and how items are pushed to it
type SenderConfig struct {
	Server          string        `yaml:"server" toml:"server"`
	Port            int           `yaml:"port" toml:"port"`
	Timeout         time.Duration `yaml:"timeout" toml:"timeout"`
	MaxItemsPerSend int           `yaml:"max_items_per_send" toml:"max_items_per_send"`
	LLDKeyTemplate  string        `yaml:"lld_key_template" toml:"lld_key_template"`
	LLDFormatKeys   bool          `yaml:"lld_format_keys" toml:"lld_format_keys"`
	Concurrency     int           `yaml:"concurrency" toml:"concurrency"` // 0 sends chunks one by one
	ResendSingles   bool          `yaml:"resend_singles" toml:"resend_singles"`
}

// AtlasConfig for the measurement status-check source
type AtlasConfig struct {
	BaseURLs      []string      `yaml:"base_urls" toml:"base_urls"` // fallback chain
	MeasurementID int           `yaml:"measurement_id" toml:"measurement_id"`
	Host          string        `yaml:"host" toml:"host"` // monitored host name items are sent for
	LLDKey        string        `yaml:"lld_key" toml:"lld_key"`
	LLDMacro      string        `yaml:"lld_macro" toml:"lld_macro"`
	Timeout       time.Duration `yaml:"timeout" toml:"timeout"`
	APIKey        string        `yaml:"-" toml:"-"` // from env only
}

// AgentConfig for the periodic upload loop
type AgentConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	LLDRefresh   time.Duration `yaml:"lld_refresh" toml:"lld_refresh"` // resend unchanged discovery after this long; 0 sends every run
	StateFile    string        `yaml:"state_file" toml:"state_file"`
	HistoryDB    string        `yaml:"history_db" toml:"history_db"`
}

// StatusConfig for the HTTP status endpoint; empty ListenAddr disables it
type StatusConfig struct {
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
	TLSCert    string `yaml:"tls_cert" toml:"tls_cert"`
	TLSKey     string `yaml:"tls_key" toml:"tls_key"`
	APIKey     string `yaml:"-" toml:"-"` // from env only
}

// LogConfig selects level and output format
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// Config is the whole configuration file
type Config struct {
	Sender SenderConfig `yaml:"sender" toml:"sender"`
	Atlas  AtlasConfig  `yaml:"atlas" toml:"atlas"`
	Agent  AgentConfig  `yaml:"agent" toml:"agent"`
	Status StatusConfig `yaml:"status" toml:"status"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Sender: SenderConfig{
			Server:          DefaultServer,
			Port:            DefaultPort,
			Timeout:         DefaultTimeout,
			MaxItemsPerSend: DefaultMaxItemsPerSend,
			LLDKeyTemplate:  DefaultLLDKeyTemplate,
			LLDFormatKeys:   true,
		},
		Atlas: AtlasConfig{
			BaseURLs: []string{DefaultAtlasURL},
			LLDKey:   DefaultLLDKey,
			LLDMacro: DefaultLLDMacro,
			Timeout:  30 * time.Second,
		},
		Agent: AgentConfig{
			PollInterval: DefaultPollInterval,
			LLDRefresh:   DefaultLLDRefresh,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML or TOML file over the defaults, then applies env overrides.
// An empty path yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TRAPSENDER_SERVER"); v != "" {
		cfg.Sender.Server = v
	}
	if v := os.Getenv("TRAPSENDER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Sender.Port = port
		}
	}
	if v := os.Getenv("TRAPSENDER_HOST"); v != "" {
		cfg.Atlas.Host = v
	}
	if v := os.Getenv("TRAPSENDER_ATLAS_KEY"); v != "" {
		cfg.Atlas.APIKey = v
	}
	if v := os.Getenv("TRAPSENDER_API_KEY"); v != "" {
		cfg.Status.APIKey = v
	}
	if v := os.Getenv("TRAPSENDER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// Validate rejects settings the sender cannot work with
func (c *Config) Validate() error {
	s := c.Sender
	if strings.TrimSpace(s.Server) == "" {
		return errors.New("sender server is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("sender port %d out of range", s.Port)
	}
	if s.Timeout <= 0 {
		return errors.New("sender timeout must be > 0")
	}
	if s.MaxItemsPerSend <= 0 {
		return errors.New("sender max_items_per_send must be > 0")
	}
	if strings.Count(s.LLDKeyTemplate, "%s") != 1 || strings.Count(s.LLDKeyTemplate, "%") != 1 {
		return fmt.Errorf("lld_key_template %q must contain exactly one %%s", s.LLDKeyTemplate)
	}
	if s.Concurrency < 0 {
		return errors.New("sender concurrency must be >= 0")
	}
	if c.Agent.PollInterval <= 0 {
		return errors.New("agent poll_interval must be > 0")
	}
	if c.Agent.LLDRefresh < 0 {
		return errors.New("agent lld_refresh must be >= 0")
	}
	if (c.Status.TLSCert == "") != (c.Status.TLSKey == "") {
		return errors.New("both status tls_cert and tls_key are required")
	}
	return nil
}
