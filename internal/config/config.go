package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultChannels          = 5
	DefaultChannelSize       = 300
	DefaultBatchSize         = 50
	DefaultCompletionTimeout = 30 * time.Second
	DefaultFlushInterval     = 30 * time.Second
	DefaultMetricsListen     = ":9099"
)

// Config is the top-level agent configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Collector CollectorConfig `yaml:"collector"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Reporter  ReporterConfig  `yaml:"reporter"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServiceConfig identifies the traced service on every uploaded segment.
type ServiceConfig struct {
	// Name is the logical service name shown by the collector UI.
	Name string `yaml:"name"`

	// Instance distinguishes replicas of the same service. Defaults to
	// the hostname when empty.
	Instance string `yaml:"instance"`
}

// CollectorConfig locates the trace collector.
type CollectorConfig struct {
	// Address is the gRPC address of the collector (host:port).
	Address string `yaml:"address"`
}

// BufferConfig fixes the geometry of the in-memory segment buffers.
type BufferConfig struct {
	// Channels is the number of parallel FIFO lanes per buffer.
	Channels int `yaml:"channels"`

	// ChannelSize is the per-lane capacity; total buffered segments per
	// buffer is bounded by channels × channel_size.
	ChannelSize int `yaml:"channel_size"`

	// BatchSize bounds how many segments one upload stream carries.
	BatchSize int `yaml:"batch_size"`
}

// ReporterConfig holds the upload protocol timing.
type ReporterConfig struct {
	// CompletionTimeout bounds how long a batch waits for the collector
	// to finish its stream before the batch is written off.
	CompletionTimeout time.Duration `yaml:"completion_timeout"`

	// FlushInterval is the cadence of the uplink counter log flush.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address the /metrics HTTP listener binds to.
	// Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if cfg.Service.Instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		cfg.Service.Instance = host
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Buffer: BufferConfig{
			Channels:    DefaultChannels,
			ChannelSize: DefaultChannelSize,
			BatchSize:   DefaultBatchSize,
		},
		Reporter: ReporterConfig{
			CompletionTimeout: DefaultCompletionTimeout,
			FlushInterval:     DefaultFlushInterval,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Collector.Address == "" {
		return fmt.Errorf("collector.address is required")
	}
	if cfg.Buffer.Channels <= 0 {
		return fmt.Errorf("buffer.channels must be positive")
	}
	if cfg.Buffer.ChannelSize <= 0 {
		return fmt.Errorf("buffer.channel_size must be positive")
	}
	if cfg.Buffer.BatchSize <= 0 {
		return fmt.Errorf("buffer.batch_size must be positive")
	}
	if cfg.Buffer.BatchSize > cfg.Buffer.Channels*cfg.Buffer.ChannelSize {
		return fmt.Errorf("buffer.batch_size exceeds total buffer capacity")
	}
	if cfg.Reporter.CompletionTimeout <= 0 {
		return fmt.Errorf("reporter.completion_timeout must be positive")
	}
	if cfg.Reporter.FlushInterval <= 0 {
		return fmt.Errorf("reporter.flush_interval must be positive")
	}
	return nil
}
