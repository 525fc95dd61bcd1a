// Package config provides configuration loading and management for ontosync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	ssconfig "github.com/c360studio/semstreams/config"
	"gopkg.in/yaml.v3"
)

// Buffer backends.
const (
	BufferMemory = "memory"
	BufferSQLite = "sqlite"
	BufferKV     = "kv"
)

// Registry sources.
const (
	RegistryFile = "file"
	RegistryNATS = "nats"
)

// Config represents the complete ontosync configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sync      SyncConfig      `yaml:"sync"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Registry  RegistryConfig  `yaml:"registry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the triple store
type ServerConfig struct {
	// BaseURL is the store root (e.g. http://localhost:3030)
	BaseURL string `yaml:"base_url"`
	// ABoxDataset receives instance data updates
	ABoxDataset string `yaml:"abox_dataset"`
	// TBoxDataset holds the ontology schema
	TBoxDataset string `yaml:"tbox_dataset"`
	// PingPath is probed for liveness, relative to BaseURL
	PingPath string `yaml:"ping_path"`
	// Timeout bounds every HTTP request
	Timeout time.Duration `yaml:"timeout"`
}

// SyncConfig configures delta compilation and replay
type SyncConfig struct {
	// RetainHistory records each state change as a timestamped observation
	// instead of overwriting the current value
	RetainHistory bool `yaml:"retain_history"`
	// ReplayRate limits buffered replays per second (0 = unlimited)
	ReplayRate float64 `yaml:"replay_rate"`
	// RetryInterval is how often a backlog is retried while the store stays
	// reachable (0 = only on reconnect)
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// MonitorConfig configures the availability monitor
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// BootstrapConfig configures schema bootstrap
type BootstrapConfig struct {
	// Disabled skips bootstrap; the schema is assumed present
	Disabled       bool          `yaml:"disabled"`
	Interval       time.Duration `yaml:"interval"`
	SchemaPatterns []string      `yaml:"schema_patterns"`
}

// BufferConfig configures the transaction buffer
type BufferConfig struct {
	// Backend is memory, sqlite or kv
	Backend string `yaml:"backend"`
	// Path is the SQLite database file
	Path string `yaml:"path"`
	// Bucket is the JetStream KV bucket
	Bucket string `yaml:"bucket"`
}

// RegistryConfig configures where registry changes come from
type RegistryConfig struct {
	// Source is file or nats
	Source       string   `yaml:"source"`
	NATSURL      string   `yaml:"nats_url"`
	Scope        string   `yaml:"scope"`
	FilePatterns []string `yaml:"file_patterns"`
}

// MetricsConfig configures the metrics and health endpoint
type MetricsConfig struct {
	// Addr is the listen address (empty = disabled)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:     "http://localhost:3030",
			ABoxDataset: "abox",
			TBoxDataset: "tbox",
			PingPath:    "/$/ping",
			Timeout:     30 * time.Second,
		},
		Sync: SyncConfig{
			RetryInterval: 5 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:     5 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
		Bootstrap: BootstrapConfig{
			Interval:       10 * time.Second,
			SchemaPatterns: []string{"ontology/**/*.ttl"},
		},
		Buffer: BufferConfig{
			Backend: BufferSQLite,
			Path:    ".ontosync/buffer.db",
			Bucket:  "ONTOSYNC_BUFFER",
		},
		Registry: RegistryConfig{
			Source:       RegistryFile,
			NATSURL:      "nats://localhost:4222",
			Scope:        "registry",
			FilePatterns: []string{"units/**/*.yaml"},
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}
	if c.Server.ABoxDataset == "" {
		return fmt.Errorf("server.abox_dataset is required")
	}
	if c.Server.TBoxDataset == "" {
		return fmt.Errorf("server.tbox_dataset is required")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Sync.ReplayRate < 0 {
		return fmt.Errorf("sync.replay_rate must not be negative")
	}
	if c.Sync.RetryInterval < 0 {
		return fmt.Errorf("sync.retry_interval must not be negative")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if !c.Bootstrap.Disabled {
		if c.Bootstrap.Interval <= 0 {
			return fmt.Errorf("bootstrap.interval must be positive")
		}
		if len(c.Bootstrap.SchemaPatterns) == 0 {
			return fmt.Errorf("bootstrap.schema_patterns is required")
		}
	}

	switch c.Buffer.Backend {
	case BufferMemory:
	case BufferSQLite:
		if c.Buffer.Path == "" {
			return fmt.Errorf("buffer.path is required for the sqlite backend")
		}
	case BufferKV:
		if c.Buffer.Bucket == "" {
			return fmt.Errorf("buffer.bucket is required for the kv backend")
		}
		if c.Registry.NATSURL == "" {
			return fmt.Errorf("registry.nats_url is required for the kv backend")
		}
	default:
		return fmt.Errorf("buffer.backend must be memory, sqlite or kv, got %q", c.Buffer.Backend)
	}

	switch c.Registry.Source {
	case RegistryFile:
		if len(c.Registry.FilePatterns) == 0 {
			return fmt.Errorf("registry.file_patterns is required for the file source")
		}
	case RegistryNATS:
		if c.Registry.NATSURL == "" {
			return fmt.Errorf("registry.nats_url is required for the nats source")
		}
	default:
		return fmt.Errorf("registry.source must be file or nats, got %q", c.Registry.Source)
	}
	return nil
}

// NeedsNATS reports whether any configured component uses NATS.
func (c *Config) NeedsNATS() bool {
	return c.Registry.Source == RegistryNATS || c.Buffer.Backend == BufferKV
}

// LoadFromFile loads configuration from a YAML file, expanding ${VAR:-default}
// references first.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(ssconfig.ExpandEnvWithDefaults(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.BaseURL != "" {
		c.Server.BaseURL = other.Server.BaseURL
	}
	if other.Server.ABoxDataset != "" {
		c.Server.ABoxDataset = other.Server.ABoxDataset
	}
	if other.Server.TBoxDataset != "" {
		c.Server.TBoxDataset = other.Server.TBoxDataset
	}
	if other.Server.PingPath != "" {
		c.Server.PingPath = other.Server.PingPath
	}
	if other.Server.Timeout != 0 {
		c.Server.Timeout = other.Server.Timeout
	}

	// Sync
	if other.Sync.RetainHistory {
		c.Sync.RetainHistory = true
	}
	if other.Sync.ReplayRate != 0 {
		c.Sync.ReplayRate = other.Sync.ReplayRate
	}
	if other.Sync.RetryInterval != 0 {
		c.Sync.RetryInterval = other.Sync.RetryInterval
	}

	// Monitor
	if other.Monitor.Interval != 0 {
		c.Monitor.Interval = other.Monitor.Interval
	}
	if other.Monitor.ProbeTimeout != 0 {
		c.Monitor.ProbeTimeout = other.Monitor.ProbeTimeout
	}

	// Bootstrap
	if other.Bootstrap.Disabled {
		c.Bootstrap.Disabled = true
	}
	if other.Bootstrap.Interval != 0 {
		c.Bootstrap.Interval = other.Bootstrap.Interval
	}
	if len(other.Bootstrap.SchemaPatterns) > 0 {
		c.Bootstrap.SchemaPatterns = other.Bootstrap.SchemaPatterns
	}

	// Buffer
	if other.Buffer.Backend != "" {
		c.Buffer.Backend = other.Buffer.Backend
	}
	if other.Buffer.Path != "" {
		c.Buffer.Path = other.Buffer.Path
	}
	if other.Buffer.Bucket != "" {
		c.Buffer.Bucket = other.Buffer.Bucket
	}

	// Registry
	if other.Registry.Source != "" {
		c.Registry.Source = other.Registry.Source
	}
	if other.Registry.NATSURL != "" {
		c.Registry.NATSURL = other.Registry.NATSURL
	}
	if other.Registry.Scope != "" {
		c.Registry.Scope = other.Registry.Scope
	}
	if len(other.Registry.FilePatterns) > 0 {
		c.Registry.FilePatterns = other.Registry.FilePatterns
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
